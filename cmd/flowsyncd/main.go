// Command flowsyncd wires the explode, rebuild, and watch engines into a
// minimal process entrypoint. Argument parsing is deliberately bare: CLI
// ergonomics (flags, help text, colored output) are outside this
// module's scope (spec §1 Non-goals, SPEC_FULL §2).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kraklabs/flowsync/internal/defaultplugins"
	"github.com/kraklabs/flowsync/internal/explode"
	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
	"github.com/kraklabs/flowsync/internal/rebuild"
	"github.com/kraklabs/flowsync/internal/remote"
	"github.com/kraklabs/flowsync/internal/watch"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: flowsyncd <explode|rebuild|watch> [args...]")
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "explode":
		err = runExplode(logger, os.Args[2:])
	case "rebuild":
		err = runRebuild(logger, os.Args[2:])
	case "watch":
		err = runWatch(logger, os.Args[2:])
	default:
		err = fmt.Errorf("unknown subcommand %q", os.Args[1])
	}
	if err != nil {
		logger.Error("flowsyncd.fatal", "err", err)
		os.Exit(1)
	}
}

func newHost(logger *slog.Logger, disableFormatter bool) *plugin.Host {
	descriptors := defaultplugins.All(nil)
	sel := plugin.Selection{ClearAll: true, AddAll: true}
	if disableFormatter {
		sel.Disable = []string{"formatter"}
	}
	return plugin.NewHost(logger, descriptors, sel)
}

func runExplode(logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: flowsyncd explode <document.json> <tree-root>")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	doc, err := flowdoc.DecodeDocument(data)
	if err != nil {
		return err
	}
	host := newHost(logger, false)
	eng := explode.New(host, explode.DefaultOptions(), logger)
	res, err := eng.Explode(context.Background(), doc, args[1])
	if err != nil {
		return err
	}
	logger.Info("explode.done", "nodes", len(res.Nodes), "unstable", len(res.UnstableIDs))
	return nil
}

func runRebuild(logger *slog.Logger, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: flowsyncd rebuild <tree-root> [output.json]")
	}
	host := newHost(logger, false)
	eng := rebuild.New(host, rebuild.Options{}, logger)
	res, err := eng.Rebuild(context.Background(), args[0])
	if err != nil {
		return err
	}
	data, err := flowdoc.EncodeDocument(res.Document)
	if err != nil {
		return err
	}
	if len(args) > 1 {
		return os.WriteFile(args[1], data, 0o644)
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runWatch(logger *slog.Logger, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: flowsyncd watch <remote-base-url> <tree-root>")
	}
	host := newHost(logger, false)
	client := remote.New(args[0], remote.Credential{Bearer: os.Getenv("FLOWSYNC_TOKEN")}, remote.DefaultRateLimits(), logger)

	cfg := watch.Config{TreeRoot: args[1]}
	orch := watch.New(cfg, client, host, logger)
	orch.SetPluginSet(watch.PluginSet{
		All:       defaultplugins.All(nil),
		Selection: plugin.Selection{ClearAll: true, AddAll: true},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return orch.Run(ctx)
}

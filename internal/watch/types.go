// Package watch implements the orchestrator that keeps a directory tree
// and a remote document in bidirectional sync: a single serial mailbox
// reconciling a polled remote source against a debounced filesystem
// watcher (spec §4.6).
package watch

import (
	"github.com/google/uuid"

	"github.com/kraklabs/flowsync/internal/flowdoc"
)

// reactionKind distinguishes the mailbox's event sources.
type reactionKind int

const (
	reactionRemoteUpdate reactionKind = iota
	reactionLocalEdit
	reactionCommand
)

// reaction is the single message type flowing through the orchestrator's
// mailbox; producers (poller, filesystem watcher, operator) only ever
// enqueue these, never act directly (spec §4.6, §9 "exactly one reaction
// in flight").
type reaction struct {
	id   string
	kind reactionKind

	// populated for reactionRemoteUpdate
	document flowdoc.Document
	etag     string
	revision string

	// populated for reactionCommand
	cmd Command
}

// CommandKind enumerates the operator command surface (spec §6).
type CommandKind int

const (
	CmdDownload CommandKind = iota
	CmdUpload
	CmdCheck
	CmdStatus
	CmdPause
	CmdResume
	CmdReloadPlugins
	CmdQuit
)

func (k CommandKind) String() string {
	switch k {
	case CmdDownload:
		return "download"
	case CmdUpload:
		return "upload"
	case CmdCheck:
		return "check"
	case CmdStatus:
		return "status"
	case CmdPause:
		return "pause"
	case CmdResume:
		return "resume"
	case CmdReloadPlugins:
		return "reload-plugins"
	case CmdQuit:
		return "quit"
	default:
		return "unknown"
	}
}

// Command is an operator request accepted into the mailbox out of band,
// with a reply channel the orchestrator answers on exactly once.
type Command struct {
	Kind  CommandKind
	Reply chan CommandResult
}

// CommandResult is the orchestrator's answer to one Command.
type CommandResult struct {
	Status Status
	Err    error
}

// Status is a snapshot of orchestrator state, returned by CmdStatus and
// attached to every other command's result.
type Status struct {
	Paused          bool
	CurrentETag     string
	CurrentRevision string
	OscillationWarn bool
	LastError       string
}

func newReactionID() string {
	return uuid.NewString()
}

package defaultplugins

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/flowsync/internal/flowdoc"
	"github.com/kraklabs/flowsync/internal/plugin"
)

func TestTemplateField_PlainFormatDefaultsToTxt(t *testing.T) {
	dir := plugin.NodeDir{Path: t.TempDir(), ID: "n1"}
	claimed := plugin.NewClaimedFields()
	node := flowdoc.Node{"id": "n1", "type": "template", "template": "hello {{msg}}"}

	res, err := templateFieldExplode(context.Background(), node, dir, claimed)
	require.NoError(t, err)
	assert.Equal(t, []string{"template"}, res.Claimed)
	assert.True(t, dir.HasSibling(".template.txt"))

	rebuilt, err := templateFieldRebuild(context.Background(), dir, "n1", flowdoc.Node{"id": "n1"})
	require.NoError(t, err)
	assert.Equal(t, "hello {{msg}}", rebuilt["template"])
}

func TestTemplateField_FormatHintSelectsExtension(t *testing.T) {
	dir := plugin.NodeDir{Path: t.TempDir(), ID: "n1"}
	claimed := plugin.NewClaimedFields()
	node := flowdoc.Node{"id": "n1", "type": "template", "format": "yaml", "template": "a: 1"}

	res, err := templateFieldExplode(context.Background(), node, dir, claimed)
	require.NoError(t, err)
	assert.True(t, dir.HasSibling(".template.yaml"))
	assert.Equal(t, dir.SiblingPath(".template.yaml"), res.Files[0])
}

func TestTemplateField_UITemplateVueSFC(t *testing.T) {
	dir := plugin.NodeDir{Path: t.TempDir(), ID: "n1"}
	claimed := plugin.NewClaimedFields()
	node := flowdoc.Node{
		"id": "n1", "type": "ui_template", "templateScope": "ui",
		"template": "<template><div>{{msg}}</div></template>",
	}

	res, err := templateFieldExplode(context.Background(), node, dir, claimed)
	require.NoError(t, err)
	assert.Equal(t, []string{"template"}, res.Claimed)
	assert.True(t, dir.HasSibling(".vue"))
}

func TestTemplateField_UITemplateNonVueFragment(t *testing.T) {
	dir := plugin.NodeDir{Path: t.TempDir(), ID: "n1"}
	claimed := plugin.NewClaimedFields()
	node := flowdoc.Node{
		"id": "n1", "type": "ui_template", "templateScope": "ui",
		"template": "<div>{{msg}}</div>",
	}

	_, err := templateFieldExplode(context.Background(), node, dir, claimed)
	require.NoError(t, err)
	assert.True(t, dir.HasSibling(".ui-template.html"))
}

func TestTemplateField_SkipsAlreadyClaimedField(t *testing.T) {
	dir := plugin.NodeDir{Path: t.TempDir(), ID: "n1"}
	claimed := plugin.NewClaimedFields()
	claimed.Claim("template", "someone-else")
	node := flowdoc.Node{"id": "n1", "type": "template", "template": "x"}

	res, err := templateFieldExplode(context.Background(), node, dir, claimed)
	require.NoError(t, err)
	assert.Empty(t, res.Claimed)
}

func TestIsVueSFC(t *testing.T) {
	assert.True(t, isVueSFC("  \n<template><div/></template>"))
	assert.False(t, isVueSFC("<div>not vue</div>"))
}

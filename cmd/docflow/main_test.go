package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"docflow/internal/doctype"
	"docflow/internal/models"
)

func findCommand(t *testing.T, a *cli.App, name string) *cli.Command {
	t.Helper()
	for _, c := range a.Commands {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("command %s not registered", name)
	return nil
}

func TestCommandsRegistered(t *testing.T) {
	a := newApp()
	for _, name := range []string{"migrate", "chunk", "detect", "ingest", "query"} {
		findCommand(t, a, name)
	}
}

func TestIngestWaitsByDefault(t *testing.T) {
	cmd := findCommand(t, newApp(), "ingest")
	for _, f := range cmd.Flags {
		if b, ok := f.(*cli.BoolFlag); ok && b.Name == "wait" {
			assert.True(t, b.Value)
			return
		}
	}
	t.Fatal("wait flag missing")
}

func TestQueryRequiresQuestion(t *testing.T) {
	a := newApp()
	a.Writer = &bytes.Buffer{}
	err := a.Run([]string{"docflow", "query"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "question")
}

func TestChunkRequiresPath(t *testing.T) {
	a := newApp()
	a.Writer = &bytes.Buffer{}
	err := a.Run([]string{"docflow", "chunk"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PDF path is required")
}

func TestDetectText(t *testing.T) {
	t.Setenv("DOCFLOW_LLM_PROVIDERS", "mock")
	t.Setenv("DOCFLOW_EMBED_PROVIDERS", "mock")
	var out bytes.Buffer
	a := newApp()
	a.Writer = &out
	require.NoError(t, a.Run([]string{"docflow", "--log-level", "error", "detect", "--text", "hello world"}))

	var d doctype.Detection
	require.NoError(t, json.Unmarshal(out.Bytes(), &d))
	assert.Equal(t, models.DocTypeDefault, d.DocType)
	assert.Equal(t, doctype.ReasonLLM, d.Reason)
}

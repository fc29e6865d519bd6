package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoTool struct {
	name    string
	isError bool
	got     json.RawMessage
}

func (t *echoTool) Name() string            { return t.name }
func (t *echoTool) Description() string     { return "echo " + t.name }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }

func (t *echoTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	t.got = input
	return &ToolResult{Content: "echo:" + string(input), IsError: t.isError}, nil
}

func TestRegistryListIsSortedByName(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "zeta"})
	r.Register(&echoTool{name: "alpha"})
	r.Register(&echoTool{name: "mid"})

	defs := r.List()
	require.Len(t, defs, 3)
	assert.Equal(t, "alpha", defs[0].Name)
	assert.Equal(t, "mid", defs[1].Name)
	assert.Equal(t, "zeta", defs[2].Name)
	assert.Equal(t, "echo alpha", defs[0].Description)
}

func TestRegistryCall(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{name: "echo"}
	r.Register(tool)

	out, err := r.Call(context.Background(), "echo", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, `echo:{"a":1}`, out)
}

func TestRegistryCallDefaultsEmptyArgs(t *testing.T) {
	r := NewRegistry()
	tool := &echoTool{name: "echo"}
	r.Register(tool)

	_, err := r.Call(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(tool.got))
}

func TestRegistryCallUnknownTool(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "echo"})

	_, err := r.Call(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
	assert.Contains(t, err.Error(), "echo")
}

func TestRegistryCallToolErrorResult(t *testing.T) {
	r := NewRegistry()
	r.Register(&echoTool{name: "bad", isError: true})

	_, err := r.Call(context.Background(), "bad", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Equal(t, "echo:{}", err.Error())
}

func TestRegistryPromptListsTools(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.Prompt())

	r.Register(&echoTool{name: "echo"})
	assert.Contains(t, r.Prompt(), "- echo: echo echo")
}

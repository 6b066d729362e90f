package app

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mediabot/internal/models"
	"mediabot/internal/orchestrator"
	"mediabot/internal/provider"
	"mediabot/internal/refs"
	"mediabot/internal/store"
)

type textReplier struct {
	mu       sync.Mutex
	messages []string
}

func (r *textReplier) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return nil
}

func (r *textReplier) SendFile(context.Context, orchestrator.OutboundFile) (string, error) {
	return "", nil
}

func (r *textReplier) Status(ctx context.Context, text string) (orchestrator.Status, error) {
	return nopStatus{}, r.Send(ctx, text)
}

type nopStatus struct{}

func (nopStatus) Update(context.Context, string) error { return nil }
func (nopStatus) Done(context.Context) error           { return nil }

func testTable(p provider.Provider) (map[string]*command, *store.Set) {
	stores := store.NewMemorySet()
	return commandTable(models.Default(), orchestrator.NewGenerator(stores, p, nil), orchestrator.NewLibrary(stores)), stores
}

func TestCommandTableCoversEveryCommand(t *testing.T) {
	table, _ := testTable(provider.Func(func(context.Context, string, map[string]any) (provider.Result, error) {
		return provider.Result{}, nil
	}))
	for _, name := range []string{
		"generateimage", "flux", "redux", "redovariant", "stable35", "fluxpro", "sdxl", "imagen",
		"recraftv3", "playground", "imagen4", "multigen", "multimodel", "audio", "generateaudio",
		"fluxgpt", "generateprompt", "refineprompt", "addprompt", "listprompts", "listimages",
		"listvideos", "uploadimage", "uploadvideo", "start", "help",
	} {
		assert.Contains(t, table, name)
	}
	assert.Same(t, table["flux"], table["generateimage"])
	assert.True(t, table["uploadvideo"].attachments)
	assert.False(t, table["flux"].attachments)
}

func TestCommandTableRunsLibraryOperations(t *testing.T) {
	table, stores := testTable(nil)
	ctx := context.Background()
	reply := &textReplier{}

	require.NoError(t, table["addprompt"].run(ctx, orchestrator.Request{Owner: "7", Tokens: []string{"misty", "forest"}}, reply))
	require.NoError(t, table["listprompts"].run(ctx, orchestrator.Request{Owner: "7"}, reply))
	assert.Equal(t, []string{
		"Your custom prompt has been added as prompt[1].",
		"Your stored prompts:\n1: misty forest",
	}, reply.messages)

	got, err := stores.Prompts.Get(ctx, "7", 1)
	require.NoError(t, err)
	assert.Equal(t, "misty forest", got)
}

func TestCommandTableDispatchesGeneration(t *testing.T) {
	var called string
	table, stores := testTable(provider.Func(func(_ context.Context, modelID string, _ map[string]any) (provider.Result, error) {
		called = modelID
		return provider.Result{Text: "a lighthouse at dusk, oil painting"}, nil
	}))
	ctx := context.Background()

	err := table["generateprompt"].run(ctx, orchestrator.Request{Owner: "7", Tokens: []string{"lighthouse"}}, &textReplier{})
	require.NoError(t, err)
	assert.Equal(t, models.ReplicatePromptModel, called)

	got, err := stores.Prompts.Get(ctx, "7", 1)
	require.NoError(t, err)
	assert.Equal(t, "a lighthouse at dusk, oil painting", got)
}

func TestHelpListsCommands(t *testing.T) {
	table, _ := testTable(nil)
	reply := &textReplier{}
	require.NoError(t, table["help"].run(context.Background(), orchestrator.Request{}, reply))
	require.Len(t, reply.messages, 1)
	assert.Contains(t, reply.messages[0], "/generateimage, /flux")
	assert.Contains(t, reply.messages[0], "/refineprompt prompt[i] <changes>")
	assert.Contains(t, reply.messages[0], "/uploadvideo as the caption of videos")
}

func TestIsUserError(t *testing.T) {
	assert.True(t, isUserError(orchestrator.ErrMissingPrompt))
	assert.True(t, isUserError(&refs.NotFoundError{Kind: store.KindImage, Index: 3}))
	assert.True(t, isUserError(fmt.Errorf("wrapped: %w", &refs.InvalidReferenceError{Kind: store.KindPrompt, Token: "prompt[x]"})))
	assert.False(t, isUserError(&orchestrator.ProviderError{Model: "Flux", Err: fmt.Errorf("boom")}))
	assert.False(t, isUserError(fmt.Errorf("redis: connection refused")))
}

func TestLoadRegistryPromptBackend(t *testing.T) {
	reg, err := LoadRegistry(Config{})
	require.NoError(t, err)
	assert.Equal(t, models.ReplicatePromptModel, reg.Prompt.ModelID)

	reg, err = LoadRegistry(Config{GeminiAPIKey: "g"})
	require.NoError(t, err)
	assert.Equal(t, models.GeminiPromptModel, reg.Prompt.ModelID)

	_, err = LoadRegistry(Config{ModelsFile: "/nonexistent/models.yaml"})
	assert.Error(t, err)
}

package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"mediabot/internal/models"
	"mediabot/internal/provider"
	"mediabot/internal/refs"
	"mediabot/internal/store"
)

func lookup(t *testing.T, name string) models.Config {
	t.Helper()
	cfg, ok := models.Default().Lookup(name)
	require.True(t, ok, name)
	return cfg
}

func entries(t *testing.T, lib store.Indexed, owner string) []store.Entry {
	t.Helper()
	got, err := lib.List(context.Background(), owner)
	require.NoError(t, err)
	return got
}

func TestGenerateStoresOutputsInOrder(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	cfg := lookup(t, "flux")
	p := newRecorder().on(cfg.ModelID, images(2))
	g := NewGenerator(stores, p, zaptest.NewLogger(t))
	reply := &fakeReplier{}

	err := g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"an", "astronaut", "7"}}, reply, cfg)
	require.NoError(t, err)

	require.Len(t, p.calls, 1)
	assert.Equal(t, "an astronaut", p.calls[0].input["prompt"])
	assert.Equal(t, 4, p.calls[0].input["num_outputs"])

	require.Len(t, reply.files, 2)
	assert.Equal(t, []byte("img-1"), reply.files[0].Data)
	assert.Equal(t, "flux_output_1.png", reply.files[0].Name)
	assert.Contains(t, reply.files[0].Caption, "an astronaut")

	got := entries(t, stores.Images, "u1")
	require.Len(t, got, 2)
	assert.Equal(t, "https://files.example/1/flux_output_1.png", got[0].Value)
	assert.Equal(t, "https://files.example/2/flux_output_2.png", got[1].Value)
	assert.Contains(t, reply.messages, "Saved as image[1], image[2]")

	status := reply.lastStatus()
	require.NotNil(t, status)
	assert.Contains(t, status.text, "Generating 4 output(s)")
	assert.True(t, status.done)
}

func TestGenerateUsesStoredPromptVerbatim(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	_, err := stores.Prompts.Append(ctx, "u1", "first")
	require.NoError(t, err)
	_, err = stores.Prompts.Append(ctx, "u1", "a castle at dusk, oil painting")
	require.NoError(t, err)

	cfg := lookup(t, "flux")
	p := newRecorder().on(cfg.ModelID, images(1))
	g := NewGenerator(stores, p, nil)

	err = g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"prompt[2]", "ignored", "words"}}, &fakeReplier{}, cfg)
	require.NoError(t, err)
	require.Len(t, p.calls, 1)
	assert.Equal(t, "a castle at dusk, oil painting", p.calls[0].input["prompt"])
	assert.Equal(t, 1, p.calls[0].input["num_outputs"])
}

func TestGenerateMissingReferenceMakesNoCalls(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	cfg := lookup(t, "flux")
	p := newRecorder().on(cfg.ModelID, images(1))
	g := NewGenerator(stores, p, nil)
	reply := &fakeReplier{}

	err := g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"prompt[1]"}}, reply, cfg)
	var nf *refs.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, store.KindPrompt, nf.Kind)
	assert.Equal(t, 1, nf.Index)

	assert.Zero(t, p.callCount())
	assert.Empty(t, reply.statuses)
	assert.Empty(t, entries(t, stores.Images, "u1"))
	assert.Empty(t, entries(t, stores.Prompts, "u1"))
	assert.Equal(t, []string{"No stored prompt found at index 1. Use /listprompts to see what you have stored."}, reply.messages)
}

func TestGenerateRejectsBeforeProviderCall(t *testing.T) {
	cases := map[string]struct {
		model  string
		tokens []string
		want   error
	}{
		"missing prompt":  {model: "flux", tokens: []string{"3"}, want: ErrMissingPrompt},
		"missing video":   {model: "audio", tokens: []string{"a", "cat", "meowing"}, want: ErrMissingVideo},
		"missing image":   {model: "redux", tokens: nil, want: ErrMissingImage},
		"empty arguments": {model: "sdxl", tokens: nil, want: ErrMissingPrompt},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := lookup(t, tc.model)
			p := newRecorder().on(cfg.ModelID, images(1))
			g := NewGenerator(store.NewMemorySet(), p, nil)
			reply := &fakeReplier{}

			err := g.Generate(context.Background(), Request{Owner: "u1", Tokens: tc.tokens}, reply, cfg)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, p.callCount())
			require.Len(t, reply.messages, 1)
		})
	}
}

func TestGenerateInvalidReference(t *testing.T) {
	cfg := lookup(t, "stable35")
	p := newRecorder()
	g := NewGenerator(store.NewMemorySet(), p, nil)
	reply := &fakeReplier{}

	err := g.Generate(context.Background(), Request{Owner: "u1", Tokens: []string{"image[x]", "sunset"}}, reply, cfg)
	var invalid *refs.InvalidReferenceError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "image[x]", invalid.Token)
	assert.Zero(t, p.callCount())
}

func TestGenerateProviderFailure(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	cfg := lookup(t, "flux")
	p := newRecorder().on(cfg.ModelID, failing("model is cold"))
	g := NewGenerator(stores, p, nil)
	reply := &fakeReplier{}

	err := g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"a", "dog"}}, reply, cfg)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, 1, p.callCount())

	status := reply.lastStatus()
	require.NotNil(t, status)
	assert.Equal(t, []string{"Flux Schnell generation failed: model is cold"}, status.updates)
	assert.False(t, status.done)
	assert.Empty(t, reply.files)
	assert.Empty(t, entries(t, stores.Images, "u1"))
}

func TestGenerateUnreadableOutputStoresNothing(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	cfg := lookup(t, "flux")
	p := newRecorder().on(cfg.ModelID, func(map[string]any) (provider.Result, error) {
		return provider.Result{Media: []provider.Media{
			provider.BytesMedia([]byte("ok"), "image/png"),
			{URL: "https://broken.example/x.png"},
		}}, nil
	})
	g := NewGenerator(stores, p, nil)
	reply := &fakeReplier{}

	err := g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"tree", "2"}}, reply, cfg)
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Empty(t, reply.files)
	assert.Empty(t, entries(t, stores.Images, "u1"))
}

func TestGenerateImageConditioning(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	_, err := stores.Images.Append(ctx, "u1", "https://files.example/base.png")
	require.NoError(t, err)

	cfg := lookup(t, "stable35")
	p := newRecorder().on(cfg.ModelID, images(1))
	g := NewGenerator(stores, p, nil)

	require.NoError(t, g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"snowy", "image[1]", "peak"}}, &fakeReplier{}, cfg))
	require.NoError(t, g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"snowy", "peak"}}, &fakeReplier{}, cfg))

	require.Len(t, p.calls, 2)
	withImage, textOnly := p.calls[0].input, p.calls[1].input
	assert.Equal(t, "snowy peak", withImage["prompt"])
	assert.Equal(t, "https://files.example/base.png", withImage["image"])
	assert.Equal(t, 0.85, withImage["prompt_strength"])
	assert.NotContains(t, textOnly, "image")
	assert.NotContains(t, textOnly, "prompt_strength")

	got := entries(t, stores.Images, "u1")
	require.Len(t, got, 3)
	assert.Equal(t, "https://files.example/base.png", got[0].Value)
}

func TestGenerateReduxDefaultsToNewestImage(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	_, err := stores.Images.AppendMany(ctx, "u1", []string{"https://files.example/old.png", "https://files.example/new.png"})
	require.NoError(t, err)

	cfg := lookup(t, "redux")
	p := newRecorder().on(cfg.ModelID, images(1))
	g := NewGenerator(stores, p, nil)
	reply := &fakeReplier{}

	require.NoError(t, g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"3:2"}}, reply, cfg))
	require.NoError(t, g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"image[1]"}}, reply, cfg))

	require.Len(t, p.calls, 2)
	assert.Equal(t, "https://files.example/new.png", p.calls[0].input["redux_image"])
	assert.Equal(t, "3:2", p.calls[0].input["aspect_ratio"])
	assert.Equal(t, "https://files.example/old.png", p.calls[1].input["redux_image"])
	assert.Equal(t, "1:1", p.calls[1].input["aspect_ratio"])
	assert.Len(t, entries(t, stores.Images, "u1"), 4)
	assert.Contains(t, reply.statuses[0].text, "aspect_ratio=3:2")
}

func TestGenerateAudioIsNotStored(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	_, err := stores.Videos.Append(ctx, "u1", "https://files.example/clip.mp4")
	require.NoError(t, err)

	cfg := lookup(t, "audio")
	p := newRecorder().on(cfg.ModelID, images(1))
	g := NewGenerator(stores, p, nil)
	reply := &fakeReplier{}

	require.NoError(t, g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"rain", "on", "glass", "video[1]"}}, reply, cfg))
	require.Len(t, p.calls, 1)
	assert.Equal(t, "https://files.example/clip.mp4", p.calls[0].input["video"])
	assert.Equal(t, "rain on glass", p.calls[0].input["prompt"])
	assert.Equal(t, "music", p.calls[0].input["negative_prompt"])

	require.Len(t, reply.files, 1)
	assert.Equal(t, "audio_output_1.mp4", reply.files[0].Name)
	assert.Equal(t, store.Kind(""), reply.files[0].Kind)
	assert.Len(t, entries(t, stores.Videos, "u1"), 1)
	assert.Empty(t, entries(t, stores.Images, "u1"))
}

func TestGenerateTextResultStoredDirectly(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	cfg := lookup(t, "recraftv3")
	p := newRecorder().on(cfg.ModelID, func(map[string]any) (provider.Result, error) {
		return provider.Result{Text: "https://cdn.example/result.webp"}, nil
	})
	g := NewGenerator(stores, p, nil)
	reply := &fakeReplier{}

	require.NoError(t, g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"logo"}}, reply, cfg))
	assert.Empty(t, reply.files)
	got := entries(t, stores.Images, "u1")
	require.Len(t, got, 1)
	assert.Equal(t, "https://cdn.example/result.webp", got[0].Value)
	assert.True(t, reply.lastStatus().done)
}

func TestGenerateEmptyOutput(t *testing.T) {
	cfg := lookup(t, "imagen")
	p := newRecorder().on(cfg.ModelID, func(map[string]any) (provider.Result, error) {
		return provider.Result{}, nil
	})
	g := NewGenerator(store.NewMemorySet(), p, nil)
	reply := &fakeReplier{}

	err := g.Generate(context.Background(), Request{Owner: "u1", Tokens: []string{"x"}}, reply, cfg)
	assert.ErrorIs(t, err, ErrEmptyOutput)
}

func TestGenerateSendFailureKeepsDeliveredFiles(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	cfg := lookup(t, "flux")
	p := newRecorder().on(cfg.ModelID, images(3))
	g := NewGenerator(stores, p, nil)
	reply := &fakeReplier{failFile: "flux_output_2.png"}

	err := g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"fox", "3"}}, reply, cfg)
	require.Error(t, err)
	got := entries(t, stores.Images, "u1")
	require.Len(t, got, 2)
	assert.Contains(t, got[1].Value, "flux_output_3.png")
}

func TestGenerateTellsUserAboutUnsavedFiles(t *testing.T) {
	ctx := context.Background()
	stores := store.NewMemorySet()
	cfg := lookup(t, "flux")
	p := newRecorder().on(cfg.ModelID, images(2))
	g := NewGenerator(stores, p, nil)
	reply := &fakeReplier{noURL: "flux_output_1.png"}

	require.NoError(t, g.Generate(ctx, Request{Owner: "u1", Tokens: []string{"fox", "2"}}, reply, cfg))
	assert.Len(t, reply.files, 2)
	got := entries(t, stores.Images, "u1")
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Value, "flux_output_2.png")
	assert.Contains(t, reply.messages, "Saved as image[1]")
	assert.Contains(t, reply.messages, "flux_output_1.png sent but not saved to your library.")
}

func TestUserMessage(t *testing.T) {
	assert.Equal(t, "Please provide a prompt either as a stored prompt (prompt[<index>]) or as direct text", UserMessage(ErrMissingPrompt))
	assert.Equal(t, "No stored image found at index 4. Use /listimages to see what you have stored.",
		UserMessage(&refs.NotFoundError{Kind: store.KindImage, Index: 4}))
}

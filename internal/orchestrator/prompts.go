package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mediabot/internal/models"
	"mediabot/internal/refs"
	"mediabot/internal/store"
)

// ErrMissingPromptRef is returned by RefinePrompt without a prompt[<index>].
var ErrMissingPromptRef = errors.New("please reference the prompt to refine, e.g. /refineprompt prompt[1] make it night time")

// ErrMissingInstructions is returned by RefinePrompt without change text.
var ErrMissingInstructions = errors.New("please describe how the prompt should change after the prompt reference")

// WritePrompt asks the prompt model to turn a short concept into a full
// text-to-image prompt and stores it as the user's next prompt.
func (g *Generator) WritePrompt(ctx context.Context, req Request, reply Replier, cfg models.PromptConfig) (int, error) {
	concept := strings.TrimSpace(strings.Join(req.Tokens, " "))
	if concept == "" {
		return 0, report(ctx, reply, nil, ErrMissingConcept)
	}
	status, err := reply.Status(ctx, "Generating a text-to-image prompt from your concept:\n> "+concept)
	if err != nil {
		return 0, fmt.Errorf("send status: %w", err)
	}
	return g.composePrompt(ctx, req.Owner, reply, status, cfg, cfg.Input(cfg.SystemPrompt, concept))
}

// RefinePrompt rewrites a stored prompt according to the user's instructions
// and stores the result as a new prompt; the original keeps its index.
func (g *Generator) RefinePrompt(ctx context.Context, req Request, reply Replier, cfg models.PromptConfig) (int, error) {
	args, err := refs.Classify(req.Tokens, refs.AcceptPrompt)
	if err != nil {
		return 0, report(ctx, reply, nil, err)
	}
	original, ok, err := g.resolver.ResolveArg(ctx, req.Owner, args, store.KindPrompt)
	if err != nil {
		return 0, report(ctx, reply, nil, err)
	}
	if !ok {
		return 0, report(ctx, reply, nil, ErrMissingPromptRef)
	}
	instructions := args.Text()
	if instructions == "" {
		return 0, report(ctx, reply, nil, ErrMissingInstructions)
	}

	idx, _ := args.Ref(store.KindPrompt)
	status, err := reply.Status(ctx, fmt.Sprintf("Refining prompt[%d] with:\n> %s", idx, instructions))
	if err != nil {
		return 0, fmt.Errorf("send status: %w", err)
	}
	input := fmt.Sprintf("Prompt:\n%s\n\nInstructions:\n%s", original, instructions)
	return g.composePrompt(ctx, req.Owner, reply, status, cfg, cfg.Input(cfg.RefinePrompt, input))
}

func (g *Generator) composePrompt(ctx context.Context, owner string, reply Replier, status Status, cfg models.PromptConfig, input map[string]any) (int, error) {
	log := loggerFrom(ctx, g.logger).With(zap.String("model_id", cfg.ModelID))

	started := time.Now()
	res, err := g.provider.Invoke(ctx, cfg.ModelID, input)
	if err != nil {
		log.Warn("prompt model failed", zap.Error(err))
		return 0, report(ctx, reply, status, &ProviderError{Model: "LLM", Err: err})
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return 0, report(ctx, reply, status, &ProviderError{Model: "LLM", Err: ErrEmptyOutput})
	}
	log.Info("prompt written", zap.Int("chars", len(text)), zap.Duration("elapsed", time.Since(started)))

	lib, err := g.stores.For(store.KindPrompt)
	if err != nil {
		return 0, report(ctx, reply, status, err)
	}
	idx, err := lib.Append(ctx, owner, text)
	if err != nil {
		return 0, report(ctx, reply, status, err)
	}

	body := fmt.Sprintf("LLM-Generated Prompt (prompt[%d]):\n%s\n\nUse it with /flux prompt[%d], or refine it with /refineprompt prompt[%d] <changes>.", idx, text, idx, idx)
	if err := status.Update(ctx, body); err != nil {
		log.Warn("update status message", zap.Error(err))
		if err := reply.Send(ctx, body); err != nil {
			return idx, fmt.Errorf("send prompt: %w", err)
		}
	}
	return idx, nil
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mediabot/internal/models"
	"mediabot/internal/refs"
	"mediabot/internal/store"
)

// Generate runs one model for req. Every failure is reported to the user
// before it is returned; nothing is stored unless the model call and all of
// its outputs succeed.
func (g *Generator) Generate(ctx context.Context, req Request, reply Replier, cfg models.Config) error {
	log := loggerFrom(ctx, g.logger).With(zap.String("model", cfg.Name))

	in, err := g.resolveInputs(ctx, req, cfg)
	if err != nil {
		return report(ctx, reply, nil, err)
	}

	status, err := reply.Status(ctx, statusText(cfg, in))
	if err != nil {
		return fmt.Errorf("send status: %w", err)
	}

	files, text, err := g.invoke(ctx, log, cfg, in)
	if err != nil {
		return report(ctx, reply, status, err)
	}

	if len(files) == 0 {
		if err := g.deliverText(ctx, req.Owner, reply, cfg, text); err != nil {
			return report(ctx, reply, status, err)
		}
		return g.finish(ctx, log, status)
	}

	urls, unsaved, sendErr := sendFiles(ctx, reply, files)
	if err := g.record(ctx, reply, req.Owner, cfg.Output, urls); err != nil {
		return report(ctx, reply, status, err)
	}
	if cfg.Output != "" && len(unsaved) > 0 {
		if err := reply.Send(ctx, unsavedText(unsaved)); err != nil {
			log.Warn("send unsaved notice", zap.Error(err))
		}
	}
	if sendErr != nil {
		return report(ctx, reply, status, sendErr)
	}
	return g.finish(ctx, log, status)
}

func (g *Generator) finish(ctx context.Context, log *zap.Logger, status Status) error {
	if err := status.Done(ctx); err != nil {
		log.Warn("remove status message", zap.Error(err))
	}
	return nil
}

// resolveInputs classifies the arguments and resolves every reference before
// anything is sent to the provider.
func (g *Generator) resolveInputs(ctx context.Context, req Request, cfg models.Config) (models.Inputs, error) {
	var in models.Inputs
	args, err := refs.Classify(req.Tokens, cfg.Accepts())
	if err != nil {
		return in, err
	}

	free := args.FreeText
	if cfg.AspectField != "" {
		free, in.AspectRatio = takeAspectRatio(free)
	}

	if cfg.PromptField != "" {
		stored, ok, err := g.resolver.ResolveArg(ctx, req.Owner, args, store.KindPrompt)
		if err != nil {
			return in, err
		}
		if ok {
			in.Prompt = stored
		} else {
			in.Prompt = strings.TrimSpace(strings.Join(free, " "))
		}
		if strings.TrimSpace(in.Prompt) == "" {
			return in, ErrMissingPrompt
		}
	}

	if cfg.ImageField != "" {
		image, ok, err := g.resolver.ResolveArg(ctx, req.Owner, args, store.KindImage)
		if err != nil {
			return in, err
		}
		if !ok && cfg.NewestImage {
			image, ok, err = g.newest(ctx, req.Owner, store.KindImage)
			if err != nil {
				return in, err
			}
		}
		if !ok && cfg.ImageRequired {
			return in, ErrMissingImage
		}
		in.Image = image
	}

	if cfg.VideoField != "" {
		video, ok, err := g.resolver.ResolveArg(ctx, req.Owner, args, store.KindVideo)
		if err != nil {
			return in, err
		}
		if !ok && cfg.VideoRequired {
			return in, ErrMissingVideo
		}
		in.Video = video
	}

	in.Count = 1
	if n, ok := args.Count(); ok {
		in.Count = models.ClampCount(n)
	}
	return in, nil
}

func takeAspectRatio(tokens []string) ([]string, string) {
	for i, tok := range tokens {
		if models.IsAspectRatio(tok) {
			rest := append(append([]string{}, tokens[:i]...), tokens[i+1:]...)
			return rest, tok
		}
	}
	return tokens, ""
}

func (g *Generator) newest(ctx context.Context, owner string, kind store.Kind) (string, bool, error) {
	lib, err := g.stores.For(kind)
	if err != nil {
		return "", false, err
	}
	entries, err := lib.List(ctx, owner)
	if err != nil {
		return "", false, err
	}
	if len(entries) == 0 {
		return "", false, nil
	}
	return entries[len(entries)-1].Value, true, nil
}

// invoke calls the provider and reads every output. A read failure fails the
// whole call so a partial set of outputs is never stored.
func (g *Generator) invoke(ctx context.Context, log *zap.Logger, cfg models.Config, in models.Inputs) ([]OutboundFile, string, error) {
	started := time.Now()
	res, err := g.provider.Invoke(ctx, cfg.ModelID, cfg.Input(in))
	if err != nil {
		log.Warn("model call failed", zap.String("model_id", cfg.ModelID), zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return nil, "", &ProviderError{Model: cfg.DisplayName(), Err: err}
	}
	log.Info("model call finished",
		zap.String("model_id", cfg.ModelID),
		zap.Int("media", len(res.Media)),
		zap.Duration("elapsed", time.Since(started)))

	if res.Empty() {
		return nil, "", &ProviderError{Model: cfg.DisplayName(), Err: ErrEmptyOutput}
	}

	files := make([]OutboundFile, 0, len(res.Media))
	for i, m := range res.Media {
		data, err := m.ReadAll(ctx)
		if err != nil {
			return nil, "", &ProviderError{Model: cfg.DisplayName(), Err: fmt.Errorf("read output %d: %w", i+1, err)}
		}
		files = append(files, OutboundFile{
			Name:     cfg.FileName(i + 1),
			Kind:     cfg.Output,
			MIMEType: m.MIMEType,
			Data:     data,
			Caption:  caption(cfg, in, i+1),
		})
	}
	return files, res.Text, nil
}

// deliverText handles models that answer with a plain string, typically a URI
// of the result. The string is stored as is, without a re-upload.
func (g *Generator) deliverText(ctx context.Context, owner string, reply Replier, cfg models.Config, text string) error {
	if err := reply.Send(ctx, fmt.Sprintf("%s output:\n%s", cfg.DisplayName(), text)); err != nil {
		return err
	}
	if cfg.Output == "" {
		return nil
	}
	lib, err := g.stores.For(cfg.Output)
	if err != nil {
		return err
	}
	idx, err := lib.Append(ctx, owner, text)
	if err != nil {
		return err
	}
	return reply.Send(ctx, savedText(cfg.Output, []int{idx}))
}

// sendFiles delivers files in order and returns the URLs the gateway
// reported, plus the names of files that were delivered without a URL.
// Delivery continues past a failed file; the first error is returned.
func sendFiles(ctx context.Context, reply Replier, files []OutboundFile) ([]string, []string, error) {
	var urls, unsaved []string
	var firstErr error
	for _, f := range files {
		url, err := reply.SendFile(ctx, f)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("send %s: %w", f.Name, err)
			}
			continue
		}
		if url == "" {
			unsaved = append(unsaved, f.Name)
			continue
		}
		urls = append(urls, url)
	}
	return urls, unsaved, firstErr
}

func unsavedText(names []string) string {
	return strings.Join(names, ", ") + " sent but not saved to your library."
}

// record appends urls to the output library and tells the user which
// indices they received.
func (g *Generator) record(ctx context.Context, reply Replier, owner string, kind store.Kind, urls []string) error {
	if kind == "" || len(urls) == 0 {
		return nil
	}
	lib, err := g.stores.For(kind)
	if err != nil {
		return err
	}
	indices, err := lib.AppendMany(ctx, owner, urls)
	if err != nil {
		return err
	}
	return reply.Send(ctx, savedText(kind, indices))
}

func savedText(kind store.Kind, indices []int) string {
	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = fmt.Sprintf("%s[%d]", kind, idx)
	}
	return "Saved as " + strings.Join(names, ", ")
}

func statusText(cfg models.Config, in models.Inputs) string {
	switch {
	case cfg.PromptField == "" && in.AspectRatio != "":
		return fmt.Sprintf("Running %s on the selected image with aspect_ratio=%s...", cfg.DisplayName(), in.AspectRatio)
	case cfg.PromptField == "":
		return fmt.Sprintf("Running %s on the selected image...", cfg.DisplayName())
	case cfg.CountField != "":
		return fmt.Sprintf("Generating %d output(s) with %s for prompt:\n> %s", in.Count, cfg.DisplayName(), in.Prompt)
	case in.Video != "":
		return fmt.Sprintf("Generating with %s using your stored video for prompt:\n> %s", cfg.DisplayName(), in.Prompt)
	case in.Image != "":
		return fmt.Sprintf("Generating with %s from your image for prompt:\n> %s", cfg.DisplayName(), in.Prompt)
	default:
		return fmt.Sprintf("Generating with %s for prompt:\n> %s", cfg.DisplayName(), in.Prompt)
	}
}

func caption(cfg models.Config, in models.Inputs, i int) string {
	if cfg.PromptField == "" {
		return fmt.Sprintf("%s output %d", cfg.DisplayName(), i)
	}
	return fmt.Sprintf("%s output %d for prompt:\n> %s", cfg.DisplayName(), i, in.Prompt)
}

package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mediabot/internal/models"
	"mediabot/internal/provider"
	"mediabot/internal/refs"
	"mediabot/internal/store"
)

// BranchReport is the outcome of one configuration in a fan-out.
type BranchReport struct {
	Name    string
	Err     error
	Indices []int
}

type branchOutput struct {
	data [][]byte
	err  error
}

// FanOut runs every configuration concurrently for one prompt and optional
// image. Branches never cancel each other: the join waits for all of them,
// and each branch's failure is reported on its own. Reports come back in
// configuration order.
func (g *Generator) FanOut(ctx context.Context, req Request, reply Replier, configs []models.Config) ([]BranchReport, error) {
	log := loggerFrom(ctx, g.logger)

	in, err := g.resolveFanOutInputs(ctx, req)
	if err != nil {
		return nil, report(ctx, reply, nil, err)
	}

	status, err := reply.Status(ctx, fmt.Sprintf("Generating images concurrently with %d models for prompt:\n> %s", len(configs), in.Prompt))
	if err != nil {
		return nil, fmt.Errorf("send status: %w", err)
	}

	outputs := g.runBranches(ctx, log, configs, in)

	reports := make([]BranchReport, len(configs))
	for i, cfg := range configs {
		reports[i] = g.deliverBranch(ctx, log, reply, req.Owner, cfg, in, outputs[i])
	}

	if err := status.Done(ctx); err != nil {
		log.Warn("remove status message", zap.Error(err))
	}
	return reports, nil
}

func (g *Generator) resolveFanOutInputs(ctx context.Context, req Request) (models.Inputs, error) {
	var in models.Inputs
	args, err := refs.Classify(req.Tokens, refs.AcceptPrompt|refs.AcceptImage)
	if err != nil {
		return in, err
	}
	stored, ok, err := g.resolver.ResolveArg(ctx, req.Owner, args, store.KindPrompt)
	if err != nil {
		return in, err
	}
	if ok {
		in.Prompt = stored
	} else {
		in.Prompt = args.Text()
	}
	if in.Prompt == "" {
		return in, ErrMissingPrompt
	}
	image, _, err := g.resolver.ResolveArg(ctx, req.Owner, args, store.KindImage)
	if err != nil {
		return in, err
	}
	in.Image = image
	in.Count = 1
	return in, nil
}

// runBranches is the join barrier. Every goroutine records its own result
// and returns nil, so the group never cancels siblings.
func (g *Generator) runBranches(ctx context.Context, log *zap.Logger, configs []models.Config, in models.Inputs) []branchOutput {
	outputs := make([]branchOutput, len(configs))
	var group errgroup.Group
	for i, cfg := range configs {
		group.Go(func() error {
			outputs[i] = g.runBranch(ctx, log.With(zap.String("model", cfg.Name)), cfg, in)
			return nil
		})
	}
	_ = group.Wait()
	return outputs
}

func (g *Generator) runBranch(ctx context.Context, log *zap.Logger, cfg models.Config, in models.Inputs) (out branchOutput) {
	defer func() {
		if r := recover(); r != nil {
			out = branchOutput{err: fmt.Errorf("panic: %v", r)}
		}
	}()

	started := time.Now()
	res, err := g.provider.Invoke(ctx, cfg.ModelID, cfg.Input(in))
	if err != nil {
		log.Warn("fan-out branch failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return branchOutput{err: err}
	}
	data := readMedia(ctx, log, res.Media)
	log.Info("fan-out branch finished", zap.Int("outputs", len(data)), zap.Duration("elapsed", time.Since(started)))
	return branchOutput{data: data}
}

// readMedia reads every item, dropping the ones that fail.
func readMedia(ctx context.Context, log *zap.Logger, media []provider.Media) [][]byte {
	var out [][]byte
	for i, m := range media {
		data, err := m.ReadAll(ctx)
		if err != nil {
			log.Warn("drop unreadable output", zap.Int("item", i+1), zap.Error(err))
			continue
		}
		out = append(out, data)
	}
	return out
}

func (g *Generator) deliverBranch(ctx context.Context, log *zap.Logger, reply Replier, owner string, cfg models.Config, in models.Inputs, out branchOutput) BranchReport {
	rep := BranchReport{Name: cfg.Name, Err: out.err}
	if out.err != nil {
		g.notify(ctx, log, reply, fmt.Sprintf("%s: %v", cfg.Name, out.err))
		return rep
	}
	if len(out.data) == 0 {
		g.notify(ctx, log, reply, fmt.Sprintf("%s: No output generated.", cfg.Name))
		return rep
	}

	files := make([]OutboundFile, len(out.data))
	for i, data := range out.data {
		files[i] = OutboundFile{
			Name:    cfg.FileName(i + 1),
			Kind:    cfg.Output,
			Data:    data,
			Caption: caption(cfg, in, i+1),
		}
	}
	urls, unsaved, sendErr := sendFiles(ctx, reply, files)

	var notes []string
	if cfg.Output != "" && len(urls) > 0 {
		lib, err := g.stores.For(cfg.Output)
		if err == nil {
			rep.Indices, err = lib.AppendMany(ctx, owner, urls)
		}
		if err != nil {
			rep.Err = err
			g.notify(ctx, log, reply, fmt.Sprintf("%s: %v", cfg.Name, err))
			return rep
		}
		notes = append(notes, savedText(cfg.Output, rep.Indices))
	}
	if cfg.Output != "" && len(unsaved) > 0 {
		notes = append(notes, unsavedText(unsaved))
	}
	if sendErr != nil {
		log.Warn("send fan-out output", zap.String("model", cfg.Name), zap.Error(sendErr))
		rep.Err = sendErr
		notes = append(notes, sendErr.Error())
	}
	if len(notes) > 0 {
		g.notify(ctx, log, reply, fmt.Sprintf("%s: %s", cfg.Name, strings.Join(notes, "; ")))
	}
	return rep
}

func (g *Generator) notify(ctx context.Context, log *zap.Logger, reply Replier, text string) {
	if err := reply.Send(ctx, text); err != nil {
		log.Warn("send message", zap.Error(err))
	}
}

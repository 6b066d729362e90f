package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"mediabot/internal/models"
	"mediabot/internal/orchestrator"
	"mediabot/internal/refs"
	"mediabot/internal/store"
)

type runFunc func(ctx context.Context, req orchestrator.Request, reply orchestrator.Replier) error

// command is one chat command and its aliases.
type command struct {
	names       []string
	usage       string
	attachments bool
	run         runFunc
}

// generation commands bound to a registry model, with their aliases.
var generationCommands = []struct {
	model string
	names []string
	usage string
}{
	{"flux", []string{"generateimage", "flux"}, "<prompt | prompt[i]> [count]"},
	{"redux", []string{"redux", "redovariant"}, "[image[i]] [aspect ratio]"},
	{"stable35", []string{"stable35"}, "<prompt | prompt[i]> [image[i]]"},
	{"fluxpro", []string{"fluxpro"}, "<prompt | prompt[i]> [image[i]]"},
	{"sdxl", []string{"sdxl"}, "<prompt | prompt[i]>"},
	{"imagen", []string{"imagen"}, "<prompt | prompt[i]>"},
	{"recraftv3", []string{"recraftv3"}, "<prompt | prompt[i]>"},
	{"playground", []string{"playground"}, "<prompt | prompt[i]> [image[i]]"},
	{"imagen4", []string{"imagen4"}, "<prompt | prompt[i]> [count]"},
	{"audio", []string{"audio", "generateaudio"}, "video[i] <prompt | prompt[i]>"},
}

func (a *App) buildCommands() map[string]*command {
	return commandTable(a.registry, a.generator, a.library)
}

func commandTable(reg *models.Registry, gen *orchestrator.Generator, lib *orchestrator.Library) map[string]*command {
	var list []*command
	for _, gc := range generationCommands {
		cfg, ok := reg.Lookup(gc.model)
		if !ok {
			continue
		}
		list = append(list, &command{
			names: gc.names,
			usage: gc.usage + " (" + cfg.DisplayName() + ")",
			run: func(ctx context.Context, req orchestrator.Request, reply orchestrator.Replier) error {
				return gen.Generate(ctx, req, reply, cfg)
			},
		})
	}
	list = append(list,
		&command{
			names: []string{"multigen", "multimodel"},
			usage: "<prompt | prompt[i]> [image[i]] (all fan-out models at once)",
			run: func(ctx context.Context, req orchestrator.Request, reply orchestrator.Replier) error {
				_, err := gen.FanOut(ctx, req, reply, reg.FanOut)
				return err
			},
		},
		&command{
			names: []string{"fluxgpt", "generateprompt"},
			usage: "<concept> (writes a prompt into your library)",
			run: func(ctx context.Context, req orchestrator.Request, reply orchestrator.Replier) error {
				_, err := gen.WritePrompt(ctx, req, reply, reg.Prompt)
				return err
			},
		},
		&command{
			names: []string{"refineprompt"},
			usage: "prompt[i] <changes>",
			run: func(ctx context.Context, req orchestrator.Request, reply orchestrator.Replier) error {
				_, err := gen.RefinePrompt(ctx, req, reply, reg.Prompt)
				return err
			},
		},
		&command{
			names: []string{"addprompt"},
			usage: "<prompt text>",
			run: func(ctx context.Context, req orchestrator.Request, reply orchestrator.Replier) error {
				_, err := lib.AddPrompt(ctx, req, reply)
				return err
			},
		},
	)
	for _, kind := range store.Kinds {
		list = append(list, &command{
			names: []string{"list" + kind.Plural()},
			usage: "",
			run: func(ctx context.Context, req orchestrator.Request, reply orchestrator.Replier) error {
				return lib.List(ctx, req, reply, kind)
			},
		})
	}
	for _, kind := range []store.Kind{store.KindImage, store.KindVideo} {
		list = append(list, &command{
			names:       []string{"upload" + string(kind)},
			usage:       fmt.Sprintf("as the caption of %s, or in reply to one", kind.Plural()),
			attachments: true,
			run: func(ctx context.Context, req orchestrator.Request, reply orchestrator.Replier) error {
				_, err := lib.Upload(ctx, req, reply, kind)
				return err
			},
		})
	}

	help := helpText(list)
	list = append(list, &command{
		names: []string{"start", "help"},
		run: func(ctx context.Context, _ orchestrator.Request, reply orchestrator.Replier) error {
			return reply.Send(ctx, help)
		},
	})

	table := make(map[string]*command)
	for _, c := range list {
		for _, name := range c.names {
			table[name] = c
		}
	}
	return table
}

func helpText(list []*command) string {
	lines := make([]string, 0, len(list))
	for _, c := range list {
		names := make([]string, len(c.names))
		for i, n := range c.names {
			names[i] = "/" + n
		}
		line := strings.Join(names, ", ")
		if c.usage != "" {
			line += " " + c.usage
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return "Generate images, videos and audio from prompts and keep them in your library.\n" +
		"Reference stored items as prompt[i], image[i] or video[i].\n\n" +
		strings.Join(lines, "\n")
}

var userErrors = []error{
	orchestrator.ErrMissingPrompt,
	orchestrator.ErrMissingImage,
	orchestrator.ErrMissingVideo,
	orchestrator.ErrMissingConcept,
	orchestrator.ErrMissingPromptRef,
	orchestrator.ErrMissingInstructions,
	orchestrator.ErrMissingPromptText,
}

// isUserError reports errors caused by the command arguments rather than by
// a backend.
func isUserError(err error) bool {
	var invalid *refs.InvalidReferenceError
	var missing *refs.NotFoundError
	if errors.As(err, &invalid) || errors.As(err, &missing) {
		return true
	}
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

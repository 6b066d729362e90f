package models

import (
	"fmt"
	"io"
	"maps"
	"sort"

	"gopkg.in/yaml.v3"

	"mediabot/internal/provider"
	"mediabot/internal/store"
)

const (
	ReplicatePromptModel = "meta/meta-llama-3-8b-instruct"
	GeminiPromptModel    = provider.GeminiPrefix + "gemini-2.5-flash"
)

const promptSystem = "You are a helpful assistant that crafts short, descriptive prompts " +
	"for text-to-image generation. The user has provided a brief concept. " +
	"Please write a single, refined prompt focusing on relevant details. " +
	"Do not include extra disclaimers, just the prompt text. " +
	"Generate structured text-to-image prompts following this strict order: " +
	"(1) Main Subject, (2) Perspective & Camera Details, (3) Setting & Background, " +
	"(4) Key Visual Features, (5) Lighting & Mood, (6) Art Style & Detail Level, " +
	"(7) Color Palette & Effects (if applicable), (8) Negative Prompts (if supported), " +
	"ensuring clarity, coherence, and prioritization of key details."

const refineSystem = "You are a helpful assistant that edits text-to-image prompts. " +
	"You receive an existing prompt followed by the user's change instructions. " +
	"Rewrite the prompt so it applies every instruction while keeping the rest of its details " +
	"and its structure. Reply with the rewritten prompt text only."

// Registry is the set of models reachable from commands.
type Registry struct {
	models map[string]Config
	FanOut []Config
	Prompt PromptConfig
}

// NewRegistry builds a registry from configs. Every config must validate.
func NewRegistry(configs []Config, fanOut []Config, prompt PromptConfig) (*Registry, error) {
	r := &Registry{models: make(map[string]Config, len(configs)), Prompt: prompt}
	for _, c := range configs {
		if err := r.add(c); err != nil {
			return nil, err
		}
	}
	for _, c := range fanOut {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("fan-out: %w", err)
		}
	}
	r.FanOut = fanOut
	return r, nil
}

func (r *Registry) add(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if _, dup := r.models[c.Name]; dup {
		return fmt.Errorf("model %s registered twice", c.Name)
	}
	r.models[c.Name] = c
	return nil
}

// Lookup returns the config registered under name.
func (r *Registry) Lookup(name string) (Config, bool) {
	c, ok := r.models[name]
	return c, ok
}

// Models returns every registered config sorted by name.
func (r *Registry) Models() []Config {
	out := make([]Config, 0, len(r.models))
	for _, c := range r.models {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type overrides struct {
	Models []Config `yaml:"models"`
	FanOut []Config `yaml:"fanout"`
	Prompt *struct {
		ModelID  string         `yaml:"model_id"`
		Defaults map[string]any `yaml:"defaults"`
	} `yaml:"prompt"`
}

// ApplyOverrides reads a YAML document and updates the registry.
//
// Entries under "models" naming an existing model replace its model_id and
// label (when set) and merge its defaults key by key; unknown names are added
// as complete configs. A non-empty "fanout" list replaces the fan-out set.
func (r *Registry) ApplyOverrides(rd io.Reader) error {
	var doc overrides
	if err := yaml.NewDecoder(rd).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode model overrides: %w", err)
	}

	for _, o := range doc.Models {
		cur, ok := r.models[o.Name]
		if !ok {
			if err := r.add(o); err != nil {
				return err
			}
			continue
		}
		if o.ModelID != "" {
			cur.ModelID = o.ModelID
		}
		if o.Label != "" {
			cur.Label = o.Label
		}
		if len(o.Defaults) > 0 {
			merged := maps.Clone(cur.Defaults)
			if merged == nil {
				merged = make(map[string]any, len(o.Defaults))
			}
			maps.Copy(merged, o.Defaults)
			cur.Defaults = merged
		}
		r.models[o.Name] = cur
	}

	if len(doc.FanOut) > 0 {
		for _, c := range doc.FanOut {
			if err := c.Validate(); err != nil {
				return fmt.Errorf("fan-out: %w", err)
			}
		}
		r.FanOut = doc.FanOut
	}

	if doc.Prompt != nil {
		if doc.Prompt.ModelID != "" {
			r.Prompt.ModelID = doc.Prompt.ModelID
		}
		if len(doc.Prompt.Defaults) > 0 {
			merged := maps.Clone(r.Prompt.Defaults)
			if merged == nil {
				merged = make(map[string]any, len(doc.Prompt.Defaults))
			}
			maps.Copy(merged, doc.Prompt.Defaults)
			r.Prompt.Defaults = merged
		}
	}
	return nil
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := NewRegistry(defaultModels(), defaultFanOut(), defaultPrompt())
	if err != nil {
		panic(err)
	}
	return r
}

func defaultPrompt() PromptConfig {
	return PromptConfig{
		ModelID:      ReplicatePromptModel,
		SystemPrompt: promptSystem,
		RefinePrompt: refineSystem,
		Defaults: map[string]any{
			"temperature":    0.7,
			"max_tokens":     350,
			"stop_sequences": "<|end_of_text|>,<|eot_id|>",
		},
	}
}

func stable35(name string) Config {
	return Config{
		Name:    name,
		Label:   "Stable Diffusion 3.5",
		ModelID: "stability-ai/stable-diffusion-3.5-large",
		Defaults: map[string]any{
			"aspect_ratio":   "1:1",
			"cfg":            3.5,
			"steps":          28,
			"output_format":  "webp",
			"output_quality": 90,
		},
		PromptField: "prompt",
		ImageField:  "image",
		ImageExtras: map[string]any{"prompt_strength": 0.85},
		Output:      store.KindImage,
		FilePrefix:  "sd35",
		Ext:         "webp",
	}
}

func sdxl() Config {
	return Config{
		Name:    "sdxl",
		Label:   "SDXL",
		ModelID: "stability-ai/sdxl:7762fd07cf82c948538e41f63f77d685e02b063e37e496e96eefd46c929f9bdc",
		Defaults: map[string]any{
			"width":               768,
			"height":              768,
			"refine":              "expert_ensemble_refiner",
			"apply_watermark":     false,
			"num_inference_steps": 25,
		},
		PromptField: "prompt",
		Output:      store.KindImage,
		Ext:         "png",
	}
}

func imagen() Config {
	return Config{
		Name:    "imagen",
		Label:   "Imagen 3",
		ModelID: "google/imagen-3",
		Defaults: map[string]any{
			"aspect_ratio":        "1:1",
			"negative_prompt":     "",
			"safety_filter_level": "block_medium_and_above",
		},
		PromptField: "prompt",
		Output:      store.KindImage,
		Ext:         "png",
	}
}

func recraft() Config {
	return Config{
		Name:        "recraftv3",
		Label:       "Recraft V3",
		ModelID:     "recraft-ai/recraft-v3",
		Defaults:    map[string]any{"size": "1365x1024"},
		PromptField: "prompt",
		Output:      store.KindImage,
		Ext:         "webp",
	}
}

func playground() Config {
	return Config{
		Name:    "playground",
		Label:   "Playground V2.5 Aesthetic",
		ModelID: "playgroundai/playground-v2.5-1024px-aesthetic:a45f82a1382bed5c7aeb861dac7c7d191b0fdf74d8d57c4a0e6ed7d4d0bf7d24",
		Defaults: map[string]any{
			"width":                  1024,
			"height":                 1024,
			"scheduler":              "DPMSolver++",
			"num_outputs":            1,
			"guidance_scale":         3,
			"apply_watermark":        true,
			"negative_prompt":        "ugly, deformed, noisy, blurry, distorted",
			"prompt_strength":        0.8,
			"num_inference_steps":    25,
			"disable_safety_checker": false,
		},
		PromptField: "prompt",
		ImageField:  "image",
		Output:      store.KindImage,
		Ext:         "png",
	}
}

func fluxPro(aspect string) Config {
	return Config{
		Name:        "fluxpro",
		Label:       "Flux 1.1 Pro Ultra",
		ModelID:     "black-forest-labs/flux-1.1-pro-ultra",
		Defaults:    map[string]any{"aspect_ratio": aspect},
		PromptField: "prompt",
		ImageField:  "image_prompt",
		Output:      store.KindImage,
		Ext:         "jpg",
	}
}

func defaultModels() []Config {
	return []Config{
		{
			Name:        "flux",
			Label:       "Flux Schnell",
			ModelID:     "black-forest-labs/flux-schnell",
			PromptField: "prompt",
			CountField:  "num_outputs",
			Output:      store.KindImage,
			Ext:         "png",
		},
		{
			Name:          "redux",
			Label:         "Flux Redux",
			ModelID:       "black-forest-labs/flux-redux-dev",
			Defaults:      map[string]any{"aspect_ratio": "1:1"},
			ImageField:    "redux_image",
			ImageRequired: true,
			NewestImage:   true,
			AspectField:   "aspect_ratio",
			Output:        store.KindImage,
			Ext:           "webp",
		},
		stable35("stable35"),
		fluxPro("9:16"),
		sdxl(),
		imagen(),
		recraft(),
		playground(),
		{
			Name:    "imagen4",
			Label:   "Imagen 4 (Gemini API)",
			ModelID: provider.GeminiPrefix + "imagen-4.0-generate-001",
			Defaults: map[string]any{
				"aspect_ratio": "1:1",
			},
			PromptField: "prompt",
			CountField:  "num_outputs",
			Output:      store.KindImage,
			Ext:         "png",
		},
		{
			Name:    "audio",
			Label:   "MMAudio",
			ModelID: "zsxkib/mmaudio:4b9f801a167b1f6cc2db6ba7ffdeb307630bf411841d4e8300e63ca992de0be9",
			Defaults: map[string]any{
				"seed":            -1,
				"duration":        8,
				"num_steps":       25,
				"cfg_strength":    4.5,
				"negative_prompt": "music",
			},
			PromptField:   "prompt",
			VideoField:    "video",
			VideoRequired: true,
			Ext:           "mp4",
		},
	}
}

func defaultFanOut() []Config {
	out := []Config{
		stable35("stable35"),
		sdxl(),
		imagen(),
		recraft(),
		playground(),
		fluxPro("3:2"),
	}
	for i := range out {
		out[i].Ext = "png"
		out[i].FilePrefix = out[i].Name
	}
	return out
}

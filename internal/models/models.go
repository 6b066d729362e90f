// Package models holds the declarative configuration of every hosted model
// the bot can call: which provider model id to run, its fixed default inputs
// and how resolved prompts, images, videos and counts map onto its input.
package models

import (
	"fmt"
	"maps"
	"regexp"

	"mediabot/internal/refs"
	"mediabot/internal/store"
)

const (
	MinCount = 1
	MaxCount = 4
)

// ClampCount limits a requested output count to [MinCount, MaxCount].
// Out-of-range requests are clamped, not rejected.
func ClampCount(n int) int {
	if n < MinCount {
		return MinCount
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}

var aspectRatioPattern = regexp.MustCompile(`^[0-9]+:[0-9]+$`)

// IsAspectRatio reports whether tok looks like "16:9".
func IsAspectRatio(tok string) bool {
	return aspectRatioPattern.MatchString(tok)
}

// Config describes one model invocation.
type Config struct {
	Name     string         `yaml:"name"`
	Label    string         `yaml:"label"`
	ModelID  string         `yaml:"model_id"`
	Defaults map[string]any `yaml:"defaults"`

	// PromptField receives the prompt text. Empty means the model takes none.
	PromptField string `yaml:"prompt_field"`

	// ImageField receives a stored image URL. ImageExtras are merged only when
	// an image was resolved.
	ImageField    string         `yaml:"image_field"`
	ImageExtras   map[string]any `yaml:"image_extras"`
	ImageRequired bool           `yaml:"image_required"`
	// NewestImage selects the most recent image when none is referenced.
	NewestImage bool `yaml:"newest_image"`

	VideoField    string `yaml:"video_field"`
	VideoRequired bool   `yaml:"video_required"`

	CountField  string `yaml:"count_field"`
	AspectField string `yaml:"aspect_field"`

	// Output is the library that receives the results. Empty means results
	// are only sent back.
	Output     store.Kind `yaml:"output"`
	FilePrefix string     `yaml:"file_prefix"`
	Ext        string     `yaml:"ext"`
}

// Inputs are the resolved values of one request.
type Inputs struct {
	Prompt      string
	Image       string
	Video       string
	Count       int
	AspectRatio string
}

// Accepts reports which argument slots the command for this model takes.
func (c Config) Accepts() refs.Accepts {
	var a refs.Accepts
	if c.PromptField != "" {
		a |= refs.AcceptPrompt
	}
	if c.ImageField != "" {
		a |= refs.AcceptImage
	}
	if c.VideoField != "" {
		a |= refs.AcceptVideo
	}
	if c.CountField != "" {
		a |= refs.AcceptCount
	}
	return a
}

// Input builds the provider input map. Defaults are copied so the config is
// never mutated.
func (c Config) Input(in Inputs) map[string]any {
	input := make(map[string]any, len(c.Defaults)+4)
	maps.Copy(input, c.Defaults)
	if c.PromptField != "" {
		input[c.PromptField] = in.Prompt
	}
	if c.ImageField != "" && in.Image != "" {
		input[c.ImageField] = in.Image
		maps.Copy(input, c.ImageExtras)
	}
	if c.VideoField != "" && in.Video != "" {
		input[c.VideoField] = in.Video
	}
	if c.CountField != "" {
		input[c.CountField] = ClampCount(in.Count)
	}
	if c.AspectField != "" && in.AspectRatio != "" {
		input[c.AspectField] = in.AspectRatio
	}
	return input
}

// FileName returns the attachment name for the i-th output (1-based).
func (c Config) FileName(i int) string {
	prefix := c.FilePrefix
	if prefix == "" {
		prefix = c.Name
	}
	ext := c.Ext
	if ext == "" {
		ext = "png"
	}
	return fmt.Sprintf("%s_output_%d.%s", prefix, i, ext)
}

// DisplayName is the label shown to users.
func (c Config) DisplayName() string {
	if c.Label != "" {
		return c.Label
	}
	return c.Name
}

// Validate checks the fields every config needs.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("model config: name is required")
	}
	if c.ModelID == "" {
		return fmt.Errorf("model %s: model_id is required", c.Name)
	}
	if c.ImageRequired && c.ImageField == "" {
		return fmt.Errorf("model %s: image_required without image_field", c.Name)
	}
	if c.VideoRequired && c.VideoField == "" {
		return fmt.Errorf("model %s: video_required without video_field", c.Name)
	}
	switch c.Output {
	case "", store.KindImage, store.KindVideo:
	default:
		return fmt.Errorf("model %s: output must be image or video, got %q", c.Name, c.Output)
	}
	return nil
}

// PromptConfig configures the language model that writes and refines
// text-to-image prompts.
type PromptConfig struct {
	ModelID      string         `yaml:"model_id"`
	SystemPrompt string         `yaml:"system_prompt"`
	RefinePrompt string         `yaml:"refine_prompt"`
	Defaults     map[string]any `yaml:"defaults"`
}

// Input builds the provider input for a prompt-writing call.
func (p PromptConfig) Input(system, prompt string) map[string]any {
	input := make(map[string]any, len(p.Defaults)+2)
	maps.Copy(input, p.Defaults)
	input["system_prompt"] = system
	input["prompt"] = prompt
	return input
}

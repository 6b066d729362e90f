package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Gemini serves genai:-prefixed model ids through the Gemini API. Imagen
// models generate images; every other model generates text.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) Invoke(ctx context.Context, modelID string, input map[string]any) (Result, error) {
	model := strings.TrimPrefix(modelID, GeminiPrefix)
	prompt, _ := input["prompt"].(string)
	if strings.TrimSpace(prompt) == "" {
		return Result{}, errors.New("prompt is required")
	}
	if strings.HasPrefix(model, "imagen") {
		return g.images(ctx, model, prompt, input)
	}
	return g.text(ctx, model, prompt, input)
}

func (g *Gemini) images(ctx context.Context, model, prompt string, input map[string]any) (Result, error) {
	cfg := imagesConfig(input)
	resp, err := g.client.Models.GenerateImages(ctx, model, prompt, cfg)
	if err != nil {
		return Result{}, err
	}
	var res Result
	for _, img := range resp.GeneratedImages {
		if img == nil || img.Image == nil || len(img.Image.ImageBytes) == 0 {
			continue
		}
		mimeType := img.Image.MIMEType
		if mimeType == "" {
			mimeType = "image/png"
		}
		res.Media = append(res.Media, BytesMedia(img.Image.ImageBytes, mimeType))
	}
	return res, nil
}

func imagesConfig(input map[string]any) *genai.GenerateImagesConfig {
	cfg := &genai.GenerateImagesConfig{}
	if n, ok := intValue(input["num_outputs"]); ok {
		cfg.NumberOfImages = int32(n)
	}
	if v, ok := input["aspect_ratio"].(string); ok {
		cfg.AspectRatio = v
	}
	if v, ok := input["negative_prompt"].(string); ok && v != "" {
		cfg.NegativePrompt = v
	}
	if v, ok := input["output_mime_type"].(string); ok {
		cfg.OutputMIMEType = v
	}
	return cfg
}

func (g *Gemini) text(ctx context.Context, model, prompt string, input map[string]any) (Result, error) {
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(prompt), textConfig(input))
	if err != nil {
		return Result{}, err
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		return Result{}, errors.New("the request was blocked by safety filters")
	}
	return Result{Text: strings.TrimSpace(resp.Text())}, nil
}

func textConfig(input map[string]any) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		// No thinking budget: max_tokens caps the visible prompt.
		ThinkingConfig: &genai.ThinkingConfig{ThinkingBudget: genai.Ptr[int32](0)},
	}
	if v, ok := input["system_prompt"].(string); ok && v != "" {
		cfg.SystemInstruction = genai.NewContentFromText(v, genai.RoleUser)
	}
	if v, ok := floatValue(input["temperature"]); ok {
		cfg.Temperature = genai.Ptr(float32(v))
	}
	if n, ok := intValue(input["max_tokens"]); ok {
		cfg.MaxOutputTokens = int32(n)
	}
	return cfg
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func floatValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Package provider adapts hosted inference APIs to a single call shape:
// run a model id with an input map and get back media and/or text.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// GeminiPrefix marks model ids served by the Gemini API.
const GeminiPrefix = "genai:"

// ErrBackendUnavailable is returned when a model id routes to a backend that
// was not configured.
var ErrBackendUnavailable = errors.New("inference backend not configured")

// Provider runs one model.
type Provider interface {
	Invoke(ctx context.Context, modelID string, input map[string]any) (Result, error)
}

// Func adapts a function to Provider.
type Func func(ctx context.Context, modelID string, input map[string]any) (Result, error)

func (f Func) Invoke(ctx context.Context, modelID string, input map[string]any) (Result, error) {
	return f(ctx, modelID, input)
}

// Result is a model's output. Media holds readable outputs in order; Text
// holds plain string output (generated text, or a URI the model returned
// instead of a file).
type Result struct {
	Media []Media
	Text  string
}

// Empty reports whether the model produced nothing usable.
func (r Result) Empty() bool {
	return len(r.Media) == 0 && strings.TrimSpace(r.Text) == ""
}

// Media is one output item. Its bytes are read lazily.
type Media struct {
	URL      string
	MIMEType string
	open     func(ctx context.Context) (io.ReadCloser, error)
}

// Open returns a reader over the media bytes.
func (m Media) Open(ctx context.Context) (io.ReadCloser, error) {
	if m.open == nil {
		return nil, errors.New("media has no content")
	}
	return m.open(ctx)
}

// ReadAll opens the media and reads it fully.
func (m Media) ReadAll(ctx context.Context) ([]byte, error) {
	rc, err := m.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty media payload")
	}
	return data, nil
}

// BytesMedia wraps in-memory output.
func BytesMedia(data []byte, mimeType string) Media {
	return Media{
		MIMEType: mimeType,
		open: func(context.Context) (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// URLMedia fetches its bytes from url when opened.
func URLMedia(client *http.Client, url string) Media {
	if client == nil {
		client = http.DefaultClient
	}
	return Media{
		URL: url,
		open: func(ctx context.Context) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, fmt.Errorf("build media request: %w", err)
			}
			resp, err := client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch media: %w", err)
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				resp.Body.Close()
				return nil, fmt.Errorf("fetch media: unexpected status %s", resp.Status)
			}
			return resp.Body, nil
		},
	}
}

// Router sends genai:-prefixed model ids to Gemini and everything else to
// Replicate.
type Router struct {
	Replicate Provider
	Gemini    Provider
}

func (r *Router) Invoke(ctx context.Context, modelID string, input map[string]any) (Result, error) {
	backend, name := r.Replicate, "replicate"
	if strings.HasPrefix(modelID, GeminiPrefix) {
		backend, name = r.Gemini, "gemini"
	}
	if backend == nil {
		return Result{}, fmt.Errorf("%s: %w", name, ErrBackendUnavailable)
	}
	return backend.Invoke(ctx, modelID, input)
}

// WithTimeout bounds every call made through p. A zero or negative d returns
// p unchanged.
func WithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return Func(func(ctx context.Context, modelID string, input map[string]any) (Result, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return p.Invoke(ctx, modelID, input)
	})
}

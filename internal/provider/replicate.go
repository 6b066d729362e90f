package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/replicate/replicate-go"
)

// Replicate runs models hosted on replicate.com.
type Replicate struct {
	client *replicate.Client
	http   *http.Client
}

// NewReplicate creates a client authenticated with token. httpClient is used to
// download output files and may be nil.
func NewReplicate(token string, httpClient *http.Client) (*Replicate, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("replicate token is required")
	}
	client, err := replicate.NewClient(replicate.WithToken(token))
	if err != nil {
		return nil, fmt.Errorf("create replicate client: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Replicate{client: client, http: httpClient}, nil
}

// Invoke creates a prediction, waits for it to settle and converts its output.
func (r *Replicate) Invoke(ctx context.Context, modelID string, input map[string]any) (Result, error) {
	id, err := parseModelID(modelID)
	if err != nil {
		return Result{}, err
	}

	var prediction *replicate.Prediction
	if id.version != "" {
		prediction, err = r.client.CreatePrediction(ctx, id.version, replicate.PredictionInput(input), nil, false)
	} else {
		prediction, err = r.client.CreatePredictionWithModel(ctx, id.owner, id.name, replicate.PredictionInput(input), nil, false)
	}
	if err != nil {
		return Result{}, fmt.Errorf("create prediction: %w", err)
	}

	if err := r.client.Wait(ctx, prediction); err != nil {
		return Result{}, fmt.Errorf("wait for prediction %s: %w", prediction.ID, err)
	}
	if prediction.Status != replicate.Succeeded {
		if prediction.Error != nil {
			return Result{}, fmt.Errorf("prediction %s %s: %v", prediction.ID, prediction.Status, prediction.Error)
		}
		return Result{}, fmt.Errorf("prediction %s %s", prediction.ID, prediction.Status)
	}
	return decodeOutput(prediction.Output, r.http), nil
}

type modelID struct {
	owner   string
	name    string
	version string
}

func parseModelID(v string) (modelID, error) {
	ref, version, _ := strings.Cut(strings.TrimSpace(v), ":")
	owner, name, ok := strings.Cut(ref, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return modelID{}, fmt.Errorf("invalid replicate model id %q: want owner/name[:version]", v)
	}
	return modelID{owner: owner, name: name, version: version}, nil
}

// decodeOutput turns a prediction's JSON output into a Result. URL strings
// become media fetched on demand; other strings are concatenated as text,
// which is how language models stream their tokens.
func decodeOutput(out any, client *http.Client) Result {
	var res Result
	var text strings.Builder
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case nil:
		case string:
			if isMediaURL(t) {
				res.Media = append(res.Media, URLMedia(client, t))
				return
			}
			text.WriteString(t)
		case []any:
			for _, item := range t {
				walk(item)
			}
		default:
			raw, err := json.Marshal(t)
			if err != nil {
				text.WriteString(fmt.Sprint(t))
				return
			}
			text.Write(raw)
		}
	}
	walk(out)
	res.Text = strings.TrimSpace(text.String())
	return res
}

func isMediaURL(s string) bool {
	if strings.ContainsAny(s, " \n\t") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}

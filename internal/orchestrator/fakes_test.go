package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"mediabot/internal/provider"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStatus struct {
	reply   *fakeReplier
	text    string
	updates []string
	done    bool
}

func (s *fakeStatus) Update(_ context.Context, text string) error {
	s.reply.mu.Lock()
	defer s.reply.mu.Unlock()
	s.updates = append(s.updates, text)
	return nil
}

func (s *fakeStatus) Done(context.Context) error {
	s.reply.mu.Lock()
	defer s.reply.mu.Unlock()
	s.done = true
	return nil
}

type fakeReplier struct {
	mu       sync.Mutex
	messages []string
	files    []OutboundFile
	statuses []*fakeStatus
	failFile string
	noURL    string
}

func (r *fakeReplier) Send(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, text)
	return nil
}

func (r *fakeReplier) SendFile(_ context.Context, f OutboundFile) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.Name == r.failFile {
		return "", errors.New("upload rejected")
	}
	r.files = append(r.files, f)
	if f.Name == r.noURL {
		return "", nil
	}
	return fmt.Sprintf("https://files.example/%d/%s", len(r.files), f.Name), nil
}

func (r *fakeReplier) Status(_ context.Context, text string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &fakeStatus{reply: r, text: text}
	r.statuses = append(r.statuses, s)
	return s, nil
}

func (r *fakeReplier) lastStatus() *fakeStatus {
	if len(r.statuses) == 0 {
		return nil
	}
	return r.statuses[len(r.statuses)-1]
}

type call struct {
	modelID string
	input   map[string]any
}

// recorder is a provider that records calls and answers from a per-model
// table.
type recorder struct {
	mu      sync.Mutex
	calls   []call
	answers map[string]func(map[string]any) (provider.Result, error)
}

func newRecorder() *recorder {
	return &recorder{answers: make(map[string]func(map[string]any) (provider.Result, error))}
}

func (p *recorder) on(modelID string, fn func(map[string]any) (provider.Result, error)) *recorder {
	p.answers[modelID] = fn
	return p
}

func (p *recorder) Invoke(_ context.Context, modelID string, input map[string]any) (provider.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, call{modelID: modelID, input: input})
	fn, ok := p.answers[modelID]
	p.mu.Unlock()
	if !ok {
		return provider.Result{}, fmt.Errorf("unexpected model %s", modelID)
	}
	return fn(input)
}

func (p *recorder) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func images(n int) func(map[string]any) (provider.Result, error) {
	return func(map[string]any) (provider.Result, error) {
		var res provider.Result
		for i := 0; i < n; i++ {
			res.Media = append(res.Media, provider.BytesMedia([]byte(fmt.Sprintf("img-%d", i+1)), "image/png"))
		}
		return res, nil
	}
}

func failing(msg string) func(map[string]any) (provider.Result, error) {
	return func(map[string]any) (provider.Result, error) {
		return provider.Result{}, errors.New(msg)
	}
}

// Package orchestrator turns classified command arguments into model calls
// and records what the models produce in the user's libraries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"mediabot/internal/provider"
	"mediabot/internal/refs"
	"mediabot/internal/store"
)

var (
	ErrMissingPrompt  = errors.New("please provide a prompt either as a stored prompt (prompt[<index>]) or as direct text")
	ErrMissingImage   = errors.New("this command needs an image: upload one with /uploadimage or generate one first, then reference it as image[<index>]")
	ErrMissingVideo   = errors.New("this command requires a video: provide a stored video using the format video[<index>]")
	ErrMissingConcept = errors.New("please provide a concept, e.g. /fluxgpt cat astronaut")
	ErrEmptyOutput    = errors.New("the model returned no output")
)

// ProviderError wraps a failed model call.
type ProviderError struct {
	Model string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Attachment is a file the user sent with a command.
type Attachment struct {
	Name        string
	URL         string
	ContentType string
}

// Request is one inbound command invocation.
type Request struct {
	Owner       string
	Tokens      []string
	Attachments []Attachment
}

// OutboundFile is a generated file to deliver to the user.
type OutboundFile struct {
	Name     string
	Kind     store.Kind
	MIMEType string
	Data     []byte
	Caption  string
}

// Replier delivers messages and files back to the user who sent a command.
type Replier interface {
	Send(ctx context.Context, text string) error
	// SendFile delivers f and returns a URL the file can later be fetched
	// from, or "" when the gateway has none.
	SendFile(ctx context.Context, f OutboundFile) (string, error)
	Status(ctx context.Context, text string) (Status, error)
}

// Status is a transient "working" message.
type Status interface {
	Update(ctx context.Context, text string) error
	Done(ctx context.Context) error
}

type loggerKey struct{}

// WithLogger attaches a request-scoped logger to ctx.
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func loggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}

// UserMessage renders err as text for the chat.
func UserMessage(err error) string {
	var nf *refs.NotFoundError
	msg := err.Error()
	if errors.As(err, &nf) {
		msg = fmt.Sprintf("%s. Use /list%s to see what you have stored.", msg, nf.Kind.Plural())
	}
	return capitalize(msg)
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// report shows err to the user, on the status message when there is one.
func report(ctx context.Context, reply Replier, status Status, err error) error {
	text := UserMessage(err)
	var sendErr error
	if status != nil {
		sendErr = status.Update(ctx, text)
	} else {
		sendErr = reply.Send(ctx, text)
	}
	if sendErr != nil {
		return errors.Join(err, fmt.Errorf("report error: %w", sendErr))
	}
	return err
}

// Generator runs single-model and fan-out generations.
type Generator struct {
	stores   *store.Set
	resolver *refs.Resolver
	provider provider.Provider
	logger   *zap.Logger
}

// NewGenerator wires a Generator. logger may be nil.
func NewGenerator(stores *store.Set, p provider.Provider, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		stores:   stores,
		resolver: refs.NewResolver(stores),
		provider: p,
		logger:   logger,
	}
}

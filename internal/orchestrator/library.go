package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"mediabot/internal/store"
)

// MaxMessageLen keeps list replies under the chat platform's message limit.
const MaxMessageLen = 4000

var ErrMissingPromptText = errors.New("please provide a prompt text to add")

// Library serves the commands that read or extend a user's libraries without
// calling a model.
type Library struct {
	stores *store.Set
}

// NewLibrary returns a Library over stores.
func NewLibrary(stores *store.Set) *Library {
	return &Library{stores: stores}
}

// List sends every entry of kind as "index: value" lines.
func (l *Library) List(ctx context.Context, req Request, reply Replier, kind store.Kind) error {
	lib, err := l.stores.For(kind)
	if err != nil {
		return report(ctx, reply, nil, err)
	}
	entries, err := lib.List(ctx, req.Owner)
	if err != nil {
		return report(ctx, reply, nil, err)
	}
	if len(entries) == 0 {
		return reply.Send(ctx, fmt.Sprintf("You have no stored %s.", kind.Plural()))
	}

	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, fmt.Sprintf("Your stored %s:", kind.Plural()))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%d: %s", e.Index, e.Value))
	}
	for _, chunk := range chunkLines(lines, MaxMessageLen) {
		if err := reply.Send(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

// chunkLines packs lines into messages of at most limit bytes. A single line
// longer than limit is split.
func chunkLines(lines []string, limit int) []string {
	var chunks []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			chunks = append(chunks, b.String())
			b.Reset()
		}
	}
	for _, line := range lines {
		for len(line) > limit {
			flush()
			cut := runeBoundary(line, limit)
			chunks = append(chunks, line[:cut])
			line = line[cut:]
		}
		if b.Len() > 0 && b.Len()+1+len(line) > limit {
			flush()
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	flush()
	return chunks
}

// runeBoundary returns the largest cut <= limit that does not split a rune.
func runeBoundary(s string, limit int) int {
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}

// AddPrompt stores the arguments verbatim as a new prompt.
func (l *Library) AddPrompt(ctx context.Context, req Request, reply Replier) (int, error) {
	text := strings.TrimSpace(strings.Join(req.Tokens, " "))
	if text == "" {
		return 0, report(ctx, reply, nil, ErrMissingPromptText)
	}
	lib, err := l.stores.For(store.KindPrompt)
	if err != nil {
		return 0, report(ctx, reply, nil, err)
	}
	idx, err := lib.Append(ctx, req.Owner, text)
	if err != nil {
		return 0, report(ctx, reply, nil, err)
	}
	return idx, reply.Send(ctx, fmt.Sprintf("Your custom prompt has been added as prompt[%d].", idx))
}

// Upload stores the URL of every attachment whose content type belongs to
// kind's media family and reports the ones it rejects.
func (l *Library) Upload(ctx context.Context, req Request, reply Replier, kind store.Kind) ([]int, error) {
	if len(req.Attachments) == 0 {
		return nil, reply.Send(ctx, fmt.Sprintf("Please attach one or more %s to upload.", kind.Plural()))
	}

	var urls []string
	for _, a := range req.Attachments {
		if !MatchesKind(a.ContentType, kind) || a.URL == "" {
			if err := reply.Send(ctx, fmt.Sprintf("Attachment %s is not recognized as %s %s.", a.Name, article(kind), kind)); err != nil {
				return nil, err
			}
			continue
		}
		urls = append(urls, a.URL)
	}
	if len(urls) == 0 {
		return nil, reply.Send(ctx, fmt.Sprintf("No valid %s attachments were found.", kind))
	}

	lib, err := l.stores.For(kind)
	if err != nil {
		return nil, report(ctx, reply, nil, err)
	}
	indices, err := lib.AppendMany(ctx, req.Owner, urls)
	if err != nil {
		return nil, report(ctx, reply, nil, err)
	}
	msg := fmt.Sprintf("Uploaded %d %s(s). %s. Use /list%s to view your saved %s.",
		len(indices), kind, savedText(kind, indices), kind.Plural(), kind.Plural())
	return indices, reply.Send(ctx, msg)
}

// MatchesKind reports whether a MIME type belongs to kind's media family,
// e.g. "image/png" for images.
func MatchesKind(contentType string, kind store.Kind) bool {
	family, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	return family == string(kind)
}

func article(kind store.Kind) string {
	if kind == store.KindImage {
		return "an"
	}
	return "a"
}

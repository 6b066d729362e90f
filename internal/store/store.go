// Package store keeps per-user, append-only libraries of prompts, images and
// videos. Entries are addressed by their 1-based creation order, which never
// changes for the lifetime of the store.
package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when the index is outside the owner's log.
var ErrNotFound = errors.New("entry not found")

// Kind names one of the three libraries.
type Kind string

const (
	KindPrompt Kind = "prompt"
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
)

// Kinds lists every library kind in display order.
var Kinds = []Kind{KindPrompt, KindImage, KindVideo}

// ParseKind maps a reference keyword to its Kind.
func ParseKind(v string) (Kind, bool) {
	switch Kind(v) {
	case KindPrompt, KindImage, KindVideo:
		return Kind(v), true
	default:
		return "", false
	}
}

// Plural is used in user-facing text ("prompts", "images").
func (k Kind) Plural() string {
	return string(k) + "s"
}

// Entry is one stored artifact: prompt text or a media URL.
type Entry struct {
	Index int
	Value string
}

// Indexed is an append-only log per owner.
//
// Append assigns the next index atomically for that owner; indices returned
// by successive appends for one owner increase by exactly one.
type Indexed interface {
	Append(ctx context.Context, owner, value string) (int, error)
	AppendMany(ctx context.Context, owner string, values []string) ([]int, error)
	Get(ctx context.Context, owner string, index int) (string, error)
	List(ctx context.Context, owner string) ([]Entry, error)
}

// Set bundles the three libraries used by the bot.
type Set struct {
	Prompts Indexed
	Images  Indexed
	Videos  Indexed
}

// NewMemorySet returns a Set backed by in-process logs.
func NewMemorySet() *Set {
	return &Set{
		Prompts: NewMemory(),
		Images:  NewMemory(),
		Videos:  NewMemory(),
	}
}

// For returns the library for kind.
func (s *Set) For(kind Kind) (Indexed, error) {
	var lib Indexed
	switch kind {
	case KindPrompt:
		lib = s.Prompts
	case KindImage:
		lib = s.Images
	case KindVideo:
		lib = s.Videos
	}
	if lib == nil {
		return nil, fmt.Errorf("no %s library configured", kind)
	}
	return lib, nil
}

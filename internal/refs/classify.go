// Package refs parses command arguments into stored-artifact references,
// an optional count and free text, and resolves references against the
// user's libraries.
package refs

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"mediabot/internal/store"
)

// Accepts declares which argument slots a command understands.
type Accepts uint8

const (
	AcceptPrompt Accepts = 1 << iota
	AcceptImage
	AcceptVideo
	AcceptCount
)

// Has reports whether all bits in other are set.
func (a Accepts) Has(other Accepts) bool {
	return a&other == other
}

func acceptFor(kind store.Kind) Accepts {
	switch kind {
	case store.KindPrompt:
		return AcceptPrompt
	case store.KindImage:
		return AcceptImage
	case store.KindVideo:
		return AcceptVideo
	default:
		return 0
	}
}

// InvalidReferenceError reports a kind[...] token whose index is not an
// integer.
type InvalidReferenceError struct {
	Kind  store.Kind
	Token string
}

func (e *InvalidReferenceError) Error() string {
	return fmt.Sprintf("invalid %s reference %q: use %s[<number>]", e.Kind, e.Token, e.Kind)
}

// Args is the classified form of a command's arguments.
type Args struct {
	refs     map[store.Kind]int
	count    int
	hasCount bool
	FreeText []string
}

// Ref returns the index referenced for kind, if any.
func (a Args) Ref(kind store.Kind) (int, bool) {
	idx, ok := a.refs[kind]
	return idx, ok
}

// Count returns the numeric option, if any.
func (a Args) Count() (int, bool) {
	return a.count, a.hasCount
}

// Text joins the free-text tokens with single spaces.
func (a Args) Text() string {
	return strings.TrimSpace(strings.Join(a.FreeText, " "))
}

var (
	referencePrefix  = regexp.MustCompile(`^(prompt|image|video)\[`)
	referencePattern = regexp.MustCompile(`^(?:prompt|image|video)\[(.*)\]$`)
	digitsPattern    = regexp.MustCompile(`^[0-9]+$`)
)

// Classify scans tokens once, left to right. The first reference of each
// accepted kind and the first digit-only token (when counts are accepted) fill
// their slots; everything else, including repeated references of a kind
// already filled, is kept as free text in its original order.
func Classify(tokens []string, accepts Accepts) (Args, error) {
	args := Args{refs: make(map[store.Kind]int)}
	for _, tok := range tokens {
		if m := referencePrefix.FindStringSubmatch(tok); m != nil {
			kind := store.Kind(m[1])
			if accepts.Has(acceptFor(kind)) {
				if _, taken := args.refs[kind]; !taken {
					idx, err := parseReference(tok)
					if err != nil {
						return Args{}, &InvalidReferenceError{Kind: kind, Token: tok}
					}
					args.refs[kind] = idx
					continue
				}
			}
		}
		if accepts.Has(AcceptCount) && !args.hasCount && digitsPattern.MatchString(tok) {
			if n, err := strconv.Atoi(tok); err == nil {
				args.count = n
				args.hasCount = true
				continue
			}
		}
		args.FreeText = append(args.FreeText, tok)
	}
	return args, nil
}

func parseReference(tok string) (int, error) {
	m := referencePattern.FindStringSubmatch(tok)
	if m == nil {
		return 0, fmt.Errorf("malformed reference %q", tok)
	}
	return strconv.Atoi(m[1])
}

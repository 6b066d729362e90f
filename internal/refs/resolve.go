package refs

import (
	"context"
	"errors"
	"fmt"

	"mediabot/internal/store"
)

// NotFoundError is returned when a reference points outside the owner's
// library.
type NotFoundError struct {
	Kind  store.Kind
	Index int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no stored %s found at index %d", e.Kind, e.Index)
}

// Resolver looks references up in a store.Set.
type Resolver struct {
	stores *store.Set
}

// NewResolver returns a Resolver over stores.
func NewResolver(stores *store.Set) *Resolver {
	return &Resolver{stores: stores}
}

// Resolve returns the stored value for kind[index].
func (r *Resolver) Resolve(ctx context.Context, owner string, kind store.Kind, index int) (string, error) {
	lib, err := r.stores.For(kind)
	if err != nil {
		return "", err
	}
	v, err := lib.Get(ctx, owner, index)
	if errors.Is(err, store.ErrNotFound) {
		return "", &NotFoundError{Kind: kind, Index: index}
	}
	if err != nil {
		return "", fmt.Errorf("resolve %s[%d]: %w", kind, index, err)
	}
	return v, nil
}

// ResolveArg resolves the reference of kind carried by args. ok is false when
// args has no such reference.
func (r *Resolver) ResolveArg(ctx context.Context, owner string, args Args, kind store.Kind) (value string, ok bool, err error) {
	idx, present := args.Ref(kind)
	if !present {
		return "", false, nil
	}
	v, err := r.Resolve(ctx, owner, kind, idx)
	if err != nil {
		return "", true, err
	}
	return v, true, nil
}

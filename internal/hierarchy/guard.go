package hierarchy

import (
	"context"
	"errors"
	"fmt"

	"tails/api/internal/store"
)

// MaxHops caps every ancestor walk. A healthy chain is at most MaxLevel+1 long.
const MaxHops = 64

var (
	ErrCircularReference = errors.New("move would make a document its own ancestor")
	ErrCorruptHierarchy  = errors.New("ancestor chain exceeds hop limit")
)

// Lookup fetches one document by id and reports a missing record with
// store.ErrNotFound. A transaction's GetDocument satisfies it.
type Lookup func(ctx context.Context, id string) (store.Document, error)

// ValidateNoCycle walks upward from candidateParentID and fails with
// ErrCircularReference if documentID is met on the way, including when the
// candidate is the document itself. A missing ancestor ends the walk.
func ValidateNoCycle(ctx context.Context, lookup Lookup, documentID, candidateParentID string) error {
	current := candidateParentID
	for hops := 0; ; hops++ {
		if hops > MaxHops {
			return fmt.Errorf("validate %s under %s: %w", documentID, candidateParentID, ErrCorruptHierarchy)
		}
		if current == documentID {
			return ErrCircularReference
		}
		doc, err := lookup(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if doc.ParentID == nil {
			return nil
		}
		current = *doc.ParentID
	}
}

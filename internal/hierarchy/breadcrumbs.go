package hierarchy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"tails/api/internal/store"
)

// Crumb is the summary of one document on a root-to-node path.
type Crumb struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Path  string `json:"path"`
}

// Breadcrumbs returns the chain from the workspace root down to documentID.
// A missing ancestor truncates the chain instead of failing it.
func Breadcrumbs(ctx context.Context, lookup Lookup, documentID string) ([]Crumb, error) {
	crumbs := make([]Crumb, 0, MaxLevel+1)
	current := documentID
	for {
		if len(crumbs) > MaxHops {
			return nil, fmt.Errorf("breadcrumbs for %s: %w", documentID, ErrCorruptHierarchy)
		}
		doc, err := lookup(ctx, current)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		crumbs = append(crumbs, Crumb{ID: doc.ID, Title: doc.Title, Path: doc.Path})
		if doc.ParentID == nil {
			break
		}
		current = *doc.ParentID
	}
	slices.Reverse(crumbs)
	return crumbs, nil
}

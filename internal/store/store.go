package store

import (
	"context"
)

// Queries is the record-level surface shared by the store and by an open
// transaction. Lookups return ErrNotFound for missing rows; lists return
// empty slices, never nil.
type Queries interface {
	GetWorkspace(ctx context.Context, id string) (Workspace, error)
	GetWorkspaceForOwner(ctx context.Context, id, ownerID string) (Workspace, error)
	FindWorkspaceByName(ctx context.Context, ownerID, name string) (Workspace, error)
	ListWorkspacesByOwner(ctx context.Context, ownerID string) ([]WorkspaceSummary, error)
	InsertWorkspace(ctx context.Context, workspace Workspace) error
	UpdateWorkspace(ctx context.Context, workspace Workspace) error
	DeleteWorkspace(ctx context.Context, id, ownerID string) error

	GetDocument(ctx context.Context, id string) (Document, error)
	GetDocumentForOwner(ctx context.Context, id, ownerID string) (Document, error)
	ListDocumentsByWorkspace(ctx context.Context, workspaceID string) ([]Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID string) ([]Document, error)
	ListChildren(ctx context.Context, parentID string) ([]Document, error)
	PathExists(ctx context.Context, workspaceID, path string) (bool, error)
	MaxSiblingOrder(ctx context.Context, workspaceID string, parentID *string) (int, error)
	InsertDocument(ctx context.Context, document Document) error
	UpdateDocumentPlacement(ctx context.Context, document Document) error
	UpdateDocumentContent(ctx context.Context, document Document) error
	DeleteDocument(ctx context.Context, id string) error
}

// Store is a Queries backed by a connection pool that can also run a group of
// calls as one transaction.
type Store interface {
	Queries
	// InTx runs fn in a single transaction. fn must only use the Queries it
	// is given. A returned error rolls the transaction back; conflicts with
	// concurrent writers rerun fn from the start.
	InTx(ctx context.Context, fn func(Queries) error) error
	Ping(ctx context.Context) error
}

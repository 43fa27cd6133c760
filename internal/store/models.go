package store

import "time"

// Workspace is a named, owner-scoped collection of documents (a "tail").
type Workspace struct {
	ID          string
	OwnerID     string
	Name        string
	DisplayName string
	Description string
	FilePath    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// WorkspaceSummary is a Workspace with its document count, as listed for an owner.
type WorkspaceSummary struct {
	Workspace
	DocumentCount int
}

// Document is one node of a workspace tree (an "article").
type Document struct {
	ID          string
	WorkspaceID string
	ParentID    *string
	Title       string
	Content     string
	Path        string
	Level       int
	Order       int
	IsFolder    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ParentKey returns the parent id or "" for a root document.
func (d Document) ParentKey() string {
	if d.ParentID == nil {
		return ""
	}
	return *d.ParentID
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := Open(ctx, DialectSQLite, filepath.Join(t.TempDir(), "tails.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := ApplyMigrations(ctx, db, DialectSQLite); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) *SQLStore {
	t.Helper()
	return NewSQLStore(openTestSQLite(t), DialectSQLite, 3)
}

func seedWorkspace(t *testing.T, s *SQLStore, id, ownerID, name string) Workspace {
	t.Helper()
	now := time.Now().UTC()
	item := Workspace{
		ID:          id,
		OwnerID:     ownerID,
		Name:        name,
		DisplayName: name,
		FilePath:    "/tmp/" + name + ".tail/",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.InsertWorkspace(context.Background(), item); err != nil {
		t.Fatalf("insert workspace %s: %v", id, err)
	}
	return item
}

func seedDocument(t *testing.T, s *SQLStore, id, workspaceID string, parentID *string, path string, level, order int) Document {
	t.Helper()
	now := time.Now().UTC()
	item := Document{
		ID:          id,
		WorkspaceID: workspaceID,
		ParentID:    parentID,
		Title:       id,
		Path:        path,
		Level:       level,
		Order:       order,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.InsertDocument(context.Background(), item); err != nil {
		t.Fatalf("insert document %s: %v", id, err)
	}
	return item
}

func strPtr(value string) *string {
	return &value
}

func TestParseDialect(t *testing.T) {
	cases := map[string]Dialect{
		"postgres":   DialectPostgres,
		"PostgreSQL": DialectPostgres,
		"pgx":        DialectPostgres,
		"sqlite":     DialectSQLite,
		" sqlite3 ":  DialectSQLite,
	}
	for input, want := range cases {
		got, err := ParseDialect(input)
		if err != nil {
			t.Fatalf("ParseDialect(%q) error: %v", input, err)
		}
		if got != want {
			t.Fatalf("ParseDialect(%q) = %q, want %q", input, got, want)
		}
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestDuplicateWorkspaceNameIsClassified(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s, "ws_1", "owner", "notes")

	now := time.Now().UTC()
	err := s.InsertWorkspace(context.Background(), Workspace{
		ID: "ws_2", OwnerID: "owner", Name: "notes", DisplayName: "Notes", CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrDuplicateName) {
		t.Fatalf("expected ErrDuplicateName, got %v", err)
	}

	// Same name under a different owner is allowed.
	seedWorkspace(t, s, "ws_3", "other", "notes")
}

func TestDuplicateDocumentPathIsClassified(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s, "ws_1", "owner", "notes")
	seedDocument(t, s, "doc_1", "ws_1", nil, "index.md", 0, 0)

	now := time.Now().UTC()
	err := s.InsertDocument(context.Background(), Document{
		ID: "doc_2", WorkspaceID: "ws_1", Title: "x", Path: "index.md", Level: 0, Order: 1, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("expected ErrDuplicatePath, got %v", err)
	}
}

func TestSiblingOrderCollisionIsConflict(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s, "ws_1", "owner", "notes")
	root := seedDocument(t, s, "doc_root", "ws_1", nil, "index.md", 0, 0)
	seedDocument(t, s, "doc_a", "ws_1", strPtr(root.ID), "a.md", 1, 1)

	now := time.Now().UTC()
	err := s.InsertDocument(context.Background(), Document{
		ID: "doc_b", WorkspaceID: "ws_1", ParentID: strPtr(root.ID), Title: "b", Path: "b.md", Level: 1, Order: 1, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	// Roots share one sibling group per workspace.
	err = s.InsertDocument(context.Background(), Document{
		ID: "doc_c", WorkspaceID: "ws_1", Title: "c", Path: "c.md", Level: 0, Order: 0, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for root order collision, got %v", err)
	}
}

func TestMaxSiblingOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWorkspace(t, s, "ws_1", "owner", "notes")

	max, err := s.MaxSiblingOrder(ctx, "ws_1", nil)
	if err != nil {
		t.Fatalf("MaxSiblingOrder on empty workspace: %v", err)
	}
	if max != 0 {
		t.Fatalf("expected 0 for empty group, got %d", max)
	}

	root := seedDocument(t, s, "doc_root", "ws_1", nil, "index.md", 0, 0)
	seedDocument(t, s, "doc_a", "ws_1", strPtr(root.ID), "a.md", 1, 1)
	seedDocument(t, s, "doc_b", "ws_1", strPtr(root.ID), "b.md", 1, 7)
	seedDocument(t, s, "doc_top", "ws_1", nil, "top.md", 0, 3)

	if max, err = s.MaxSiblingOrder(ctx, "ws_1", strPtr(root.ID)); err != nil || max != 7 {
		t.Fatalf("expected child max 7, got %d (%v)", max, err)
	}
	if max, err = s.MaxSiblingOrder(ctx, "ws_1", nil); err != nil || max != 3 {
		t.Fatalf("expected root max 3, got %d (%v)", max, err)
	}
	if max, err = s.MaxSiblingOrder(ctx, "ws_1", strPtr("doc_missing")); err != nil || max != 0 {
		t.Fatalf("expected 0 for childless parent, got %d (%v)", max, err)
	}
}

func TestDocumentRoundTripAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWorkspace(t, s, "ws_1", "owner", "notes")
	root := seedDocument(t, s, "doc_root", "ws_1", nil, "index.md", 0, 0)
	seedDocument(t, s, "doc_b", "ws_1", strPtr(root.ID), "b.md", 1, 2)
	seedDocument(t, s, "doc_a", "ws_1", strPtr(root.ID), "a.md", 1, 1)

	got, err := s.GetDocument(ctx, "doc_b")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != root.ID {
		t.Fatalf("expected parent %s, got %v", root.ID, got.ParentID)
	}
	if got.Level != 1 || got.Order != 2 || got.Path != "b.md" {
		t.Fatalf("unexpected document fields: %+v", got)
	}

	rootDoc, err := s.GetDocument(ctx, root.ID)
	if err != nil {
		t.Fatalf("GetDocument root: %v", err)
	}
	if rootDoc.ParentID != nil {
		t.Fatalf("expected nil parent for root, got %q", *rootDoc.ParentID)
	}

	items, err := s.ListDocumentsByWorkspace(ctx, "ws_1")
	if err != nil {
		t.Fatalf("ListDocumentsByWorkspace: %v", err)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	if fmt.Sprint(ids) != "[doc_root doc_a doc_b]" {
		t.Fatalf("unexpected order: %v", ids)
	}

	children, err := s.ListChildren(ctx, root.ID)
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 || children[0].ID != "doc_a" {
		t.Fatalf("unexpected children: %+v", children)
	}

	exists, err := s.PathExists(ctx, "ws_1", "a.md")
	if err != nil || !exists {
		t.Fatalf("expected a.md to exist (%v)", err)
	}
	exists, err = s.PathExists(ctx, "ws_1", "zzz.md")
	if err != nil || exists {
		t.Fatalf("expected zzz.md to be absent (%v)", err)
	}
}

func TestOwnerScopedLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWorkspace(t, s, "ws_1", "owner", "notes")
	seedDocument(t, s, "doc_root", "ws_1", nil, "index.md", 0, 0)

	if _, err := s.GetWorkspaceForOwner(ctx, "ws_1", "intruder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	if _, err := s.GetDocumentForOwner(ctx, "doc_root", "intruder"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	if _, err := s.GetDocumentForOwner(ctx, "doc_root", "owner"); err != nil {
		t.Fatalf("GetDocumentForOwner: %v", err)
	}

	summaries, err := s.ListWorkspacesByOwner(ctx, "owner")
	if err != nil {
		t.Fatalf("ListWorkspacesByOwner: %v", err)
	}
	if len(summaries) != 1 || summaries[0].DocumentCount != 1 {
		t.Fatalf("unexpected summaries: %+v", summaries)
	}

	empty, err := s.ListWorkspacesByOwner(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListWorkspacesByOwner: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}

	docs, err := s.ListDocumentsByOwner(ctx, "owner")
	if err != nil || len(docs) != 1 {
		t.Fatalf("ListDocumentsByOwner: %d docs (%v)", len(docs), err)
	}
}

func TestUpdateAndDeleteMissingRowsReturnNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.UpdateWorkspace(ctx, Workspace{ID: "ws_missing", OwnerID: "owner", UpdatedAt: now}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteWorkspace(ctx, "ws_missing", "owner"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateDocumentContent(ctx, Document{ID: "doc_missing", UpdatedAt: now}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateDocumentPlacement(ctx, Document{ID: "doc_missing", UpdatedAt: now}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteDocument(ctx, "doc_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.GetDocument(ctx, "doc_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteWorkspaceCascadesDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWorkspace(t, s, "ws_1", "owner", "notes")
	root := seedDocument(t, s, "doc_root", "ws_1", nil, "index.md", 0, 0)
	seedDocument(t, s, "doc_a", "ws_1", strPtr(root.ID), "a.md", 1, 1)

	if err := s.DeleteWorkspace(ctx, "ws_1", "owner"); err != nil {
		t.Fatalf("DeleteWorkspace: %v", err)
	}
	if _, err := s.GetDocument(ctx, "doc_a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected cascaded delete, got %v", err)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedWorkspace(t, s, "ws_1", "owner", "notes")

	boom := errors.New("boom")
	err := s.InTx(ctx, func(q Queries) error {
		now := time.Now().UTC()
		if err := q.InsertDocument(ctx, Document{
			ID: "doc_tx", WorkspaceID: "ws_1", Title: "tx", Path: "tx.md", CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := s.GetDocument(ctx, "doc_tx"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled back insert, got %v", err)
	}
}

func TestInTxRetriesConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	attempts := 0
	err := s.InTx(ctx, func(Queries) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("write: %w", ErrConflict)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}

	attempts = 0
	err = s.InTx(ctx, func(Queries) error {
		attempts++
		return ErrConflict
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict after exhausting retries, got %v", err)
	}
	if attempts != 4 {
		t.Fatalf("expected 1+3 attempts, got %d", attempts)
	}
}

func TestLevelCheckConstraint(t *testing.T) {
	s := newTestStore(t)
	seedWorkspace(t, s, "ws_1", "owner", "notes")

	now := time.Now().UTC()
	err := s.InsertDocument(context.Background(), Document{
		ID: "doc_deep", WorkspaceID: "ws_1", Title: "deep", Path: "deep.md", Level: 5, Order: 1, CreatedAt: now, UpdatedAt: now,
	})
	if err == nil {
		t.Fatal("expected level check violation")
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrDuplicatePath) {
		t.Fatalf("level violation misclassified: %v", err)
	}
}

func TestSQLiteUniqueTarget(t *testing.T) {
	cases := map[string]string{
		"constraint failed: UNIQUE constraint failed: workspaces.owner_id, workspaces.name (2067)": "workspaces.owner_id, workspaces.name",
		"UNIQUE constraint failed: documents.workspace_id, documents.path":                          "documents.workspace_id, documents.path",
		"constraint failed: UNIQUE constraint failed: index 'documents_sibling_order_key' (2067)":  "index 'documents_sibling_order_key'",
		"constraint failed: FOREIGN KEY constraint failed (787)":                                   "",
	}
	for msg, want := range cases {
		if got := sqliteUniqueTarget(msg); got != want {
			t.Fatalf("sqliteUniqueTarget(%q) = %q, want %q", msg, got, want)
		}
	}

	if sqliteUniqueSentinels["workspaces.owner_id, workspaces.name"] != ErrDuplicateName ||
		sqliteUniqueSentinels["documents.workspace_id, documents.path"] != ErrDuplicatePath ||
		sqliteUniqueSentinels["index 'documents_sibling_order_key'"] != ErrConflict {
		t.Fatalf("unexpected sentinel table: %v", sqliteUniqueSentinels)
	}
	if sqliteUniqueSentinels["documents.id"] != nil {
		t.Fatalf("unknown targets must not classify")
	}
}

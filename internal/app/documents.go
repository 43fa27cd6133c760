package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"tails/api/internal/hierarchy"
	"tails/api/internal/store"
	"tails/api/internal/util"
)

type CreateDocumentInput struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	ParentID *string `json:"parentId"`
	IsFolder bool    `json:"isFolder"`
}

type QuickDocumentInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// ParentRef is an optional parent id that tells "absent" apart from an
// explicit null (move to the workspace root).
type ParentRef struct {
	Set   bool
	Value *string
}

func (p *ParentRef) UnmarshalJSON(data []byte) error {
	p.Set = true
	if string(data) == "null" {
		p.Value = nil
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	p.Value = &id
	return nil
}

type UpdateDocumentInput struct {
	Title    *string   `json:"title"`
	Content  *string   `json:"content"`
	IsFolder *bool     `json:"isFolder"`
	ParentID ParentRef `json:"parentId"`
}

// DocumentDetail is a document with its immediate neighbourhood.
type DocumentDetail struct {
	store.Document
	Parent      *hierarchy.Crumb
	Children    []hierarchy.Crumb
	Breadcrumbs []hierarchy.Crumb
}

type DeleteResult struct {
	DeletedID   string   `json:"deletedId"`
	PromotedIDs []string `json:"promotedIds"`
}

// CreateDocument adds a document to workspaceID, under input.ParentID when set.
func (s *Service) CreateDocument(ctx context.Context, workspaceID string, input CreateDocumentInput) (store.Document, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return store.Document{}, domainError(KindInvalidInput, "title is required", nil)
	}
	parentID := normalizeID(input.ParentID)

	var created store.Document
	err := s.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetWorkspace(ctx, workspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return workspaceNotFound(workspaceID)
			}
			return err
		}

		var parent *hierarchy.Placement
		if parentID != nil {
			doc, err := q.GetDocument(ctx, *parentID)
			if errors.Is(err, store.ErrNotFound) || (err == nil && doc.WorkspaceID != workspaceID) {
				return parentNotFound(*parentID)
			}
			if err != nil {
				return err
			}
			if doc.Level >= hierarchy.MaxLevel {
				return depthExceeded(doc.Level + 1)
			}
			parent = &hierarchy.Placement{Level: doc.Level, Path: doc.Path}
		}

		placement := hierarchy.Derive(parent, title)
		exists, err := q.PathExists(ctx, workspaceID, placement.Path)
		if err != nil {
			return err
		}
		if exists {
			return domainError(KindDuplicatePath, "A document with this path already exists in the workspace", map[string]any{"path": placement.Path})
		}

		maxOrder, err := q.MaxSiblingOrder(ctx, workspaceID, parentID)
		if err != nil {
			return err
		}

		now := s.now()
		doc := store.Document{
			ID:          util.NewID("doc"),
			WorkspaceID: workspaceID,
			ParentID:    parentID,
			Title:       title,
			Content:     input.Content,
			Path:        placement.Path,
			Level:       placement.Level,
			Order:       maxOrder + 1,
			IsFolder:    input.IsFolder,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := q.InsertDocument(ctx, doc); err != nil {
			return err
		}
		created = doc
		return nil
	})
	if err != nil {
		return store.Document{}, s.fail("create document", err)
	}

	s.logger.Debug().
		Str("workspace_id", workspaceID).
		Str("document_id", created.ID).
		Int("level", created.Level).
		Int("order", created.Order).
		Msg("document created")
	return created, nil
}

// CreateQuickDocument creates a root-level document in the owner's default
// workspace, materializing that workspace if needed.
func (s *Service) CreateQuickDocument(ctx context.Context, ownerID string, input QuickDocumentInput) (store.Document, error) {
	if strings.TrimSpace(input.Title) == "" {
		return store.Document{}, domainError(KindInvalidInput, "title is required", nil)
	}
	workspace, err := s.EnsureDefaultWorkspace(ctx, ownerID)
	if err != nil {
		return store.Document{}, err
	}
	return s.CreateDocument(ctx, workspace.ID, CreateDocumentInput{
		Title:   input.Title,
		Content: input.Content,
	})
}

// MoveDocument reparents documentID under newParentID, or to the workspace
// root when newParentID is nil. The moved subtree is re-levelled and its
// paths are rewritten under the new parent.
func (s *Service) MoveDocument(ctx context.Context, documentID string, newParentID *string) (store.Document, error) {
	var moved store.Document
	err := s.store.InTx(ctx, func(q store.Queries) error {
		doc, err := s.moveInTx(ctx, q, documentID, normalizeID(newParentID))
		moved = doc
		return err
	})
	if err != nil {
		return store.Document{}, s.fail("move document", err)
	}
	return moved, nil
}

func (s *Service) moveInTx(ctx context.Context, q store.Queries, documentID string, newParentID *string) (store.Document, error) {
	doc, err := q.GetDocument(ctx, documentID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, documentNotFound(documentID)
	}
	if err != nil {
		return store.Document{}, err
	}

	var parent *hierarchy.Placement
	if newParentID != nil {
		if err := hierarchy.ValidateNoCycle(ctx, q.GetDocument, doc.ID, *newParentID); err != nil {
			return store.Document{}, err
		}
		target, err := q.GetDocument(ctx, *newParentID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && target.WorkspaceID != doc.WorkspaceID) {
			return store.Document{}, parentNotFound(*newParentID)
		}
		if err != nil {
			return store.Document{}, err
		}
		if target.Level >= hierarchy.MaxLevel {
			return store.Document{}, depthExceeded(target.Level + 1)
		}
		parent = &hierarchy.Placement{Level: target.Level, Path: target.Path}
	}

	if sameParent(doc.ParentID, newParentID) {
		return doc, nil
	}

	documents, err := q.ListDocumentsByWorkspace(ctx, doc.WorkspaceID)
	if err != nil {
		return store.Document{}, err
	}
	descendants, height := subtree(documents, doc.ID)

	newLevel := 0
	if parent != nil {
		newLevel = parent.Level + 1
	}
	if err := hierarchy.CheckDepth(newLevel + height); err != nil {
		return store.Document{}, depthExceeded(newLevel + height)
	}

	maxOrder, err := q.MaxSiblingOrder(ctx, doc.WorkspaceID, newParentID)
	if err != nil {
		return store.Document{}, err
	}

	now := s.now()
	oldPath := doc.Path
	newPath := hierarchy.Relocate(parent, oldPath)

	updates := make([]store.Document, 0, len(descendants)+1)
	moved := doc
	moved.ParentID = newParentID
	moved.Level = newLevel
	moved.Order = maxOrder + 1
	moved.Path = newPath
	moved.UpdatedAt = now
	updates = append(updates, moved)
	for _, item := range descendants {
		item.doc.Level = newLevel + item.depth
		if rebased, ok := hierarchy.Rebase(item.doc.Path, oldPath, newPath); ok {
			item.doc.Path = rebased
		}
		item.doc.UpdatedAt = now
		updates = append(updates, item.doc)
	}

	if err := checkPathCollisions(documents, updates); err != nil {
		return store.Document{}, err
	}
	for _, update := range updates {
		if err := q.UpdateDocumentPlacement(ctx, update); err != nil {
			return store.Document{}, err
		}
	}

	s.logger.Debug().
		Str("document_id", doc.ID).
		Int("from_level", doc.Level).
		Int("to_level", moved.Level).
		Int("subtree", len(descendants)).
		Msg("document moved")
	return moved, nil
}

// UpdateDocument edits a document's title, content and folder flag, and
// moves it when a parent id is supplied, all in one transaction.
func (s *Service) UpdateDocument(ctx context.Context, documentID string, input UpdateDocumentInput) (store.Document, error) {
	var updated store.Document
	err := s.store.InTx(ctx, func(q store.Queries) error {
		doc, err := q.GetDocument(ctx, documentID)
		if errors.Is(err, store.ErrNotFound) {
			return documentNotFound(documentID)
		}
		if err != nil {
			return err
		}

		if input.Title != nil || input.Content != nil || input.IsFolder != nil {
			if input.Title != nil {
				title := strings.TrimSpace(*input.Title)
				if title == "" {
					return domainError(KindInvalidInput, "title cannot be empty", nil)
				}
				doc.Title = title
			}
			if input.Content != nil {
				doc.Content = *input.Content
			}
			if input.IsFolder != nil {
				doc.IsFolder = *input.IsFolder
			}
			doc.UpdatedAt = s.now()
			if err := q.UpdateDocumentContent(ctx, doc); err != nil {
				return err
			}
		}

		if input.ParentID.Set {
			if _, err := s.moveInTx(ctx, q, documentID, normalizeID(input.ParentID.Value)); err != nil {
				return err
			}
		}

		updated, err = q.GetDocument(ctx, documentID)
		return err
	})
	if err != nil {
		return store.Document{}, s.fail("update document", err)
	}
	return updated, nil
}

// DeleteDocument removes documentID and promotes its direct children one
// level, onto the deleted document's parent. Deeper descendants keep their
// stored level and path.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) (DeleteResult, error) {
	result := DeleteResult{DeletedID: documentID, PromotedIDs: []string{}}
	err := s.store.InTx(ctx, func(q store.Queries) error {
		result.PromotedIDs = []string{}
		doc, err := q.GetDocument(ctx, documentID)
		if errors.Is(err, store.ErrNotFound) {
			return documentNotFound(documentID)
		}
		if err != nil {
			return err
		}

		children, err := q.ListChildren(ctx, doc.ID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			base, err := q.MaxSiblingOrder(ctx, doc.WorkspaceID, doc.ParentID)
			if err != nil {
				return err
			}
			now := s.now()
			for i, child := range children {
				child.ParentID = doc.ParentID
				child.Level = doc.Level
				child.Order = base + i + 1
				child.UpdatedAt = now
				if err := q.UpdateDocumentPlacement(ctx, child); err != nil {
					return err
				}
				result.PromotedIDs = append(result.PromotedIDs, child.ID)
			}
		}

		return q.DeleteDocument(ctx, doc.ID)
	})
	if err != nil {
		return DeleteResult{}, s.fail("delete document", err)
	}

	s.logger.Info().
		Str("document_id", documentID).
		Int("promoted", len(result.PromotedIDs)).
		Msg("document deleted")
	return result, nil
}

// GetWorkspaceTree assembles every document of workspaceID into a forest.
func (s *Service) GetWorkspaceTree(ctx context.Context, workspaceID string) ([]*hierarchy.Node, error) {
	var documents []store.Document
	err := s.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetWorkspace(ctx, workspaceID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return workspaceNotFound(workspaceID)
			}
			return err
		}
		var err error
		documents, err = q.ListDocumentsByWorkspace(ctx, workspaceID)
		return err
	})
	if err != nil {
		return nil, s.fail("get workspace tree", err)
	}
	return hierarchy.Build(documents), nil
}

// Breadcrumbs returns the root-to-document chain for documentID.
func (s *Service) Breadcrumbs(ctx context.Context, documentID string) ([]hierarchy.Crumb, error) {
	var crumbs []hierarchy.Crumb
	err := s.store.InTx(ctx, func(q store.Queries) error {
		if _, err := q.GetDocument(ctx, documentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return documentNotFound(documentID)
			}
			return err
		}
		var err error
		crumbs, err = hierarchy.Breadcrumbs(ctx, q.GetDocument, documentID)
		return err
	})
	if err != nil {
		return nil, s.fail("breadcrumbs", err)
	}
	return crumbs, nil
}

// GetDocument loads a document with its parent, ordered children and
// breadcrumbs.
func (s *Service) GetDocument(ctx context.Context, documentID string) (DocumentDetail, error) {
	var detail DocumentDetail
	err := s.store.InTx(ctx, func(q store.Queries) error {
		doc, err := q.GetDocument(ctx, documentID)
		if errors.Is(err, store.ErrNotFound) {
			return documentNotFound(documentID)
		}
		if err != nil {
			return err
		}
		detail = DocumentDetail{Document: doc, Children: []hierarchy.Crumb{}}

		if doc.ParentID != nil {
			parent, err := q.GetDocument(ctx, *doc.ParentID)
			if err == nil {
				detail.Parent = &hierarchy.Crumb{ID: parent.ID, Title: parent.Title, Path: parent.Path}
			} else if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		children, err := q.ListChildren(ctx, doc.ID)
		if err != nil {
			return err
		}
		for _, child := range children {
			detail.Children = append(detail.Children, hierarchy.Crumb{ID: child.ID, Title: child.Title, Path: child.Path})
		}

		detail.Breadcrumbs, err = hierarchy.Breadcrumbs(ctx, q.GetDocument, doc.ID)
		return err
	})
	if err != nil {
		return DocumentDetail{}, s.fail("get document", err)
	}
	return detail, nil
}

// ListOwnerDocuments lists every document across ownerID's workspaces,
// most recently updated first.
func (s *Service) ListOwnerDocuments(ctx context.Context, ownerID string) ([]store.Document, error) {
	items, err := s.store.ListDocumentsByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.fail("list owner documents", err)
	}
	return items, nil
}

type subtreeEntry struct {
	doc   store.Document
	depth int
}

// subtree lists the descendants of rootID in breadth-first order with their
// depth below it, and the height of the deepest one.
func subtree(documents []store.Document, rootID string) ([]subtreeEntry, int) {
	children := make(map[string][]store.Document)
	for _, doc := range documents {
		if doc.ParentID != nil {
			children[*doc.ParentID] = append(children[*doc.ParentID], doc)
		}
	}

	visited := map[string]bool{rootID: true}
	queue := []subtreeEntry{{doc: store.Document{ID: rootID}, depth: 0}}
	out := make([]subtreeEntry, 0)
	height := 0
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		for _, child := range children[next.doc.ID] {
			if visited[child.ID] {
				continue
			}
			visited[child.ID] = true
			entry := subtreeEntry{doc: child, depth: next.depth + 1}
			if entry.depth > height {
				height = entry.depth
			}
			out = append(out, entry)
			queue = append(queue, entry)
		}
	}
	return out, height
}

// checkPathCollisions fails with DuplicatePath when a planned path is held by
// a document outside the planned set, or twice inside it.
func checkPathCollisions(documents, updates []store.Document) error {
	moving := make(map[string]bool, len(updates))
	for _, update := range updates {
		moving[update.ID] = true
	}
	holders := make(map[string]string, len(documents))
	for _, doc := range documents {
		if !moving[doc.ID] {
			holders[doc.Path] = doc.ID
		}
	}
	planned := make(map[string]bool, len(updates))
	for _, update := range updates {
		if _, taken := holders[update.Path]; taken || planned[update.Path] {
			return domainError(KindDuplicatePath, "A document with this path already exists in the workspace", map[string]any{"path": update.Path})
		}
		planned[update.Path] = true
	}
	return nil
}

func sameParent(current, next *string) bool {
	if current == nil || next == nil {
		return current == nil && next == nil
	}
	return *current == *next
}

func normalizeID(id *string) *string {
	if id == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*id)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

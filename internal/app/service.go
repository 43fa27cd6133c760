package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"tails/api/internal/config"
	"tails/api/internal/hierarchy"
	"tails/api/internal/store"
	"tails/api/internal/util"
)

const (
	// DefaultWorkspaceName is the reserved name of the workspace each owner
	// gets on first quick-create.
	DefaultWorkspaceName = "default"
	defaultDisplayName   = "My Tail"
	welcomeTitle         = "Welcome"
	welcomeGreeting      = "Welcome to your new tail. Start writing here."
)

type CreateWorkspaceInput struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

type UpdateWorkspaceInput struct {
	DisplayName *string `json:"displayName"`
	Description *string `json:"description"`
}

type WorkspaceDetail struct {
	store.Workspace
	Documents []store.Document
}

// TokenRegistry tracks live token ids so they can be revoked early.
type TokenRegistry interface {
	Register(ctx context.Context, jti, ownerID string, expiresAt time.Time) error
	Lookup(ctx context.Context, jti string) (string, error)
	Revoke(ctx context.Context, jti string) error
}

type Service struct {
	cfg      config.Config
	store    store.Store
	sessions TokenRegistry
	logger   zerolog.Logger
	now      func() time.Time
}

func New(cfg config.Config, dataStore store.Store, logger zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		store:  dataStore,
		logger: logger.With().Str("component", "service").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithTokenRegistry enables revocable tokens backed by registry.
func (s *Service) WithTokenRegistry(registry TokenRegistry) *Service {
	s.sessions = registry
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// CreateWorkspace creates a workspace for ownerID together with its seeded
// "Welcome" root document.
func (s *Service) CreateWorkspace(ctx context.Context, ownerID string, input CreateWorkspaceInput) (store.Workspace, error) {
	name := strings.TrimSpace(input.Name)
	displayName := strings.TrimSpace(input.DisplayName)
	if name == "" || displayName == "" {
		return store.Workspace{}, domainError(KindInvalidInput, "name and displayName are required", nil)
	}
	name = hierarchy.Slugify(name)
	description := strings.TrimSpace(input.Description)

	now := s.now()
	workspace := store.Workspace{
		ID:          util.NewID("ws"),
		OwnerID:     ownerID,
		Name:        name,
		DisplayName: displayName,
		Description: description,
		FilePath:    s.workspaceFilePath(name),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	root := store.Document{
		ID:          util.NewID("doc"),
		WorkspaceID: workspace.ID,
		Title:       welcomeTitle,
		Content:     welcomeContent(displayName, description),
		Path:        hierarchy.RootPath,
		Level:       0,
		Order:       0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.InTx(ctx, func(q store.Queries) error {
		if err := q.InsertWorkspace(ctx, workspace); err != nil {
			return err
		}
		return q.InsertDocument(ctx, root)
	})
	if err != nil {
		return store.Workspace{}, s.fail("create workspace", err)
	}

	s.logger.Info().
		Str("owner_id", ownerID).
		Str("workspace_id", workspace.ID).
		Str("name", workspace.Name).
		Msg("workspace created")
	return workspace, nil
}

// EnsureDefaultWorkspace returns the owner's default workspace, creating it
// on first use. Concurrent first calls converge on one record.
func (s *Service) EnsureDefaultWorkspace(ctx context.Context, ownerID string) (store.Workspace, error) {
	existing, err := s.store.FindWorkspaceByName(ctx, ownerID, DefaultWorkspaceName)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return store.Workspace{}, s.fail("find default workspace", err)
	}

	created, err := s.CreateWorkspace(ctx, ownerID, CreateWorkspaceInput{
		Name:        DefaultWorkspaceName,
		DisplayName: defaultDisplayName,
	})
	if err == nil {
		return created, nil
	}
	if !IsKind(err, KindDuplicateName) {
		return store.Workspace{}, err
	}

	existing, err = s.store.FindWorkspaceByName(ctx, ownerID, DefaultWorkspaceName)
	if err != nil {
		return store.Workspace{}, s.fail("find default workspace", err)
	}
	return existing, nil
}

func (s *Service) ListWorkspaces(ctx context.Context, ownerID string) ([]store.WorkspaceSummary, error) {
	items, err := s.store.ListWorkspacesByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.fail("list workspaces", err)
	}
	return items, nil
}

func (s *Service) GetWorkspace(ctx context.Context, ownerID, workspaceID string) (WorkspaceDetail, error) {
	var detail WorkspaceDetail
	err := s.store.InTx(ctx, func(q store.Queries) error {
		workspace, err := q.GetWorkspaceForOwner(ctx, workspaceID, ownerID)
		if errors.Is(err, store.ErrNotFound) {
			return workspaceNotFound(workspaceID)
		}
		if err != nil {
			return err
		}
		documents, err := q.ListDocumentsByWorkspace(ctx, workspaceID)
		if err != nil {
			return err
		}
		detail = WorkspaceDetail{Workspace: workspace, Documents: documents}
		return nil
	})
	if err != nil {
		return WorkspaceDetail{}, s.fail("get workspace", err)
	}
	return detail, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, ownerID, workspaceID string, input UpdateWorkspaceInput) (store.Workspace, error) {
	var updated store.Workspace
	err := s.store.InTx(ctx, func(q store.Queries) error {
		workspace, err := q.GetWorkspaceForOwner(ctx, workspaceID, ownerID)
		if errors.Is(err, store.ErrNotFound) {
			return workspaceNotFound(workspaceID)
		}
		if err != nil {
			return err
		}
		if input.DisplayName != nil {
			displayName := strings.TrimSpace(*input.DisplayName)
			if displayName == "" {
				return domainError(KindInvalidInput, "displayName cannot be empty", nil)
			}
			workspace.DisplayName = displayName
		}
		if input.Description != nil {
			workspace.Description = strings.TrimSpace(*input.Description)
		}
		workspace.UpdatedAt = s.now()
		if err := q.UpdateWorkspace(ctx, workspace); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return workspaceNotFound(workspaceID)
			}
			return err
		}
		updated = workspace
		return nil
	})
	if err != nil {
		return store.Workspace{}, s.fail("update workspace", err)
	}
	return updated, nil
}

// DeleteWorkspace removes the workspace and, by cascade, all its documents.
func (s *Service) DeleteWorkspace(ctx context.Context, ownerID, workspaceID string) error {
	err := s.store.DeleteWorkspace(ctx, workspaceID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return workspaceNotFound(workspaceID)
	}
	if err != nil {
		return s.fail("delete workspace", err)
	}
	s.logger.Info().Str("owner_id", ownerID).Str("workspace_id", workspaceID).Msg("workspace deleted")
	return nil
}

// AuthorizeWorkspace fails with NotFound unless ownerID owns workspaceID.
func (s *Service) AuthorizeWorkspace(ctx context.Context, ownerID, workspaceID string) error {
	_, err := s.store.GetWorkspaceForOwner(ctx, workspaceID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return workspaceNotFound(workspaceID)
	}
	return s.fail("authorize workspace", err)
}

// AuthorizeDocument fails with NotFound unless the document's workspace
// belongs to ownerID.
func (s *Service) AuthorizeDocument(ctx context.Context, ownerID, documentID string) error {
	_, err := s.store.GetDocumentForOwner(ctx, documentID, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return documentNotFound(documentID)
	}
	return s.fail("authorize document", err)
}

func (s *Service) workspaceFilePath(name string) string {
	root := strings.TrimRight(s.cfg.StorageRoot, "/")
	return root + "/" + name + ".tail/"
}

func welcomeContent(displayName, description string) string {
	body := description
	if body == "" {
		body = welcomeGreeting
	}
	return "# " + displayName + "\n\n" + body
}

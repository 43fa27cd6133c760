package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const documentColumns = `id, workspace_id, parent_id, title, content, path, level, sort_order, is_folder, created_at, updated_at`

const documentColumnsD = `d.id, d.workspace_id, d.parent_id, d.title, d.content, d.path, d.level, d.sort_order, d.is_folder, d.created_at, d.updated_at`

const workspaceColumns = `id, owner_id, name, display_name, description, file_path, created_at, updated_at`

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// SQLStore implements Store over PostgreSQL or SQLite.
type SQLStore struct {
	sqlQueries
	db         *sql.DB
	dialect    Dialect
	maxRetries int
}

func NewSQLStore(db *sql.DB, dialect Dialect, maxRetries int) *SQLStore {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &SQLStore{
		sqlQueries: sqlQueries{q: db},
		db:         db,
		dialect:    dialect,
		maxRetries: maxRetries,
	}
}

func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the database connection is alive
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) InTx(ctx context.Context, fn func(Queries) error) error {
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil || !retryable(err) || attempt >= s.maxRetries {
			return err
		}
		backoff := time.Duration(attempt+1) * 10 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func (s *SQLStore) runTx(ctx context.Context, fn func(Queries) error) error {
	tx, err := s.db.BeginTx(ctx, s.txOptions())
	if err != nil {
		return wrap("begin tx", err)
	}
	if err := fn(&sqlQueries{q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrap("commit tx", err)
	}
	return nil
}

// txOptions asks PostgreSQL for SERIALIZABLE isolation. SQLite transactions
// are already serial on the single pooled connection.
func (s *SQLStore) txOptions() *sql.TxOptions {
	if s.dialect == DialectPostgres {
		return &sql.TxOptions{Isolation: sql.LevelSerializable}
	}
	return nil
}

type sqlQueries struct {
	q dbtx
}

func (s *sqlQueries) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id=$1`, id)
	item, err := scanWorkspace(row)
	if err != nil {
		return Workspace{}, wrap("get workspace", err)
	}
	return item, nil
}

func (s *sqlQueries) GetWorkspaceForOwner(ctx context.Context, id, ownerID string) (Workspace, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id=$1 AND owner_id=$2`, id, ownerID)
	item, err := scanWorkspace(row)
	if err != nil {
		return Workspace{}, wrap("get workspace for owner", err)
	}
	return item, nil
}

func (s *sqlQueries) FindWorkspaceByName(ctx context.Context, ownerID, name string) (Workspace, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE owner_id=$1 AND name=$2`, ownerID, name)
	item, err := scanWorkspace(row)
	if err != nil {
		return Workspace{}, wrap("find workspace by name", err)
	}
	return item, nil
}

func (s *sqlQueries) ListWorkspacesByOwner(ctx context.Context, ownerID string) ([]WorkspaceSummary, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT w.id, w.owner_id, w.name, w.display_name, w.description, w.file_path, w.created_at, w.updated_at,
			(SELECT COUNT(*) FROM documents d WHERE d.workspace_id = w.id)
		FROM workspaces w
		WHERE w.owner_id=$1
		ORDER BY w.updated_at DESC, w.id ASC
	`, ownerID)
	if err != nil {
		return nil, wrap("list workspaces", err)
	}
	defer rows.Close()

	items := make([]WorkspaceSummary, 0)
	for rows.Next() {
		var item WorkspaceSummary
		if err := rows.Scan(
			&item.ID,
			&item.OwnerID,
			&item.Name,
			&item.DisplayName,
			&item.Description,
			&item.FilePath,
			&item.CreatedAt,
			&item.UpdatedAt,
			&item.DocumentCount,
		); err != nil {
			return nil, wrap("scan workspace", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate workspaces", err)
	}
	return items, nil
}

func (s *sqlQueries) InsertWorkspace(ctx context.Context, item Workspace) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO workspaces (id, owner_id, name, display_name, description, file_path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.OwnerID, item.Name, item.DisplayName, item.Description, item.FilePath, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return wrap("insert workspace", err)
	}
	return nil
}

// UpdateWorkspace writes display name and description, scoped by id and owner.
func (s *sqlQueries) UpdateWorkspace(ctx context.Context, item Workspace) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE workspaces SET display_name=$3, description=$4, updated_at=$5
		WHERE id=$1 AND owner_id=$2
	`, item.ID, item.OwnerID, item.DisplayName, item.Description, item.UpdatedAt)
	if err != nil {
		return wrap("update workspace", err)
	}
	return requireAffected("update workspace", result)
}

func (s *sqlQueries) DeleteWorkspace(ctx context.Context, id, ownerID string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM workspaces WHERE id=$1 AND owner_id=$2`, id, ownerID)
	if err != nil {
		return wrap("delete workspace", err)
	}
	return requireAffected("delete workspace", result)
}

func (s *sqlQueries) GetDocument(ctx context.Context, id string) (Document, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id=$1`, id)
	item, err := scanDocument(row)
	if err != nil {
		return Document{}, wrap("get document", err)
	}
	return item, nil
}

func (s *sqlQueries) GetDocumentForOwner(ctx context.Context, id, ownerID string) (Document, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+documentColumnsD+`
		FROM documents d
		JOIN workspaces w ON w.id = d.workspace_id
		WHERE d.id=$1 AND w.owner_id=$2
	`, id, ownerID)
	item, err := scanDocument(row)
	if err != nil {
		return Document{}, wrap("get document for owner", err)
	}
	return item, nil
}

func (s *sqlQueries) ListDocumentsByWorkspace(ctx context.Context, workspaceID string) ([]Document, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE workspace_id=$1
		ORDER BY level ASC, sort_order ASC, id ASC
	`, workspaceID)
	if err != nil {
		return nil, wrap("list documents by workspace", err)
	}
	return collectDocuments(rows)
}

func (s *sqlQueries) ListDocumentsByOwner(ctx context.Context, ownerID string) ([]Document, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+documentColumnsD+`
		FROM documents d
		JOIN workspaces w ON w.id = d.workspace_id
		WHERE w.owner_id=$1
		ORDER BY d.updated_at DESC, d.id ASC
	`, ownerID)
	if err != nil {
		return nil, wrap("list documents by owner", err)
	}
	return collectDocuments(rows)
}

func (s *sqlQueries) ListChildren(ctx context.Context, parentID string) ([]Document, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE parent_id=$1
		ORDER BY sort_order ASC, id ASC
	`, parentID)
	if err != nil {
		return nil, wrap("list children", err)
	}
	return collectDocuments(rows)
}

func (s *sqlQueries) PathExists(ctx context.Context, workspaceID, path string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE workspace_id=$1 AND path=$2)`, workspaceID, path).Scan(&exists)
	if err != nil {
		return false, wrap("check document path", err)
	}
	return exists, nil
}

// MaxSiblingOrder returns the highest order under parentID (nil groups the
// workspace roots), or 0 when the group is empty.
func (s *sqlQueries) MaxSiblingOrder(ctx context.Context, workspaceID string, parentID *string) (int, error) {
	var max int
	var err error
	if parentID == nil {
		err = s.q.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sort_order), 0) FROM documents WHERE workspace_id=$1 AND parent_id IS NULL
		`, workspaceID).Scan(&max)
	} else {
		err = s.q.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(sort_order), 0) FROM documents WHERE workspace_id=$1 AND parent_id=$2
		`, workspaceID, *parentID).Scan(&max)
	}
	if err != nil {
		return 0, wrap("max sibling order", err)
	}
	return max, nil
}

func (s *sqlQueries) InsertDocument(ctx context.Context, item Document) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO documents (id, workspace_id, parent_id, title, content, path, level, sort_order, is_folder, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		item.ID,
		item.WorkspaceID,
		nullableString(item.ParentID),
		item.Title,
		item.Content,
		item.Path,
		item.Level,
		item.Order,
		item.IsFolder,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		return wrap("insert document", err)
	}
	return nil
}

// UpdateDocumentPlacement writes the structural fields: parent, level, order and path.
func (s *sqlQueries) UpdateDocumentPlacement(ctx context.Context, item Document) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE documents SET parent_id=$2, level=$3, sort_order=$4, path=$5, updated_at=$6
		WHERE id=$1
	`, item.ID, nullableString(item.ParentID), item.Level, item.Order, item.Path, item.UpdatedAt)
	if err != nil {
		return wrap("update document placement", err)
	}
	return requireAffected("update document placement", result)
}

func (s *sqlQueries) UpdateDocumentContent(ctx context.Context, item Document) error {
	result, err := s.q.ExecContext(ctx, `
		UPDATE documents SET title=$2, content=$3, is_folder=$4, updated_at=$5
		WHERE id=$1
	`, item.ID, item.Title, item.Content, item.IsFolder, item.UpdatedAt)
	if err != nil {
		return wrap("update document content", err)
	}
	return requireAffected("update document content", result)
}

func (s *sqlQueries) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.q.ExecContext(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return wrap("delete document", err)
	}
	return requireAffected("delete document", result)
}

func scanWorkspace(row rowScanner) (Workspace, error) {
	var item Workspace
	err := row.Scan(
		&item.ID,
		&item.OwnerID,
		&item.Name,
		&item.DisplayName,
		&item.Description,
		&item.FilePath,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	return item, err
}

func scanDocument(row rowScanner) (Document, error) {
	var item Document
	var parentID sql.NullString
	err := row.Scan(
		&item.ID,
		&item.WorkspaceID,
		&parentID,
		&item.Title,
		&item.Content,
		&item.Path,
		&item.Level,
		&item.Order,
		&item.IsFolder,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Document{}, err
	}
	if parentID.Valid {
		value := parentID.String
		item.ParentID = &value
	}
	return item, nil
}

func collectDocuments(rows *sql.Rows) ([]Document, error) {
	defer rows.Close()
	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, wrap("scan document", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate documents", err)
	}
	return items, nil
}

func requireAffected(op string, result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func nullableString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

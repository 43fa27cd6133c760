package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicatePath = errors.New("document path already exists in workspace")
	ErrDuplicateName = errors.New("workspace name already exists for owner")
	// ErrConflict marks a transaction that lost a race with a concurrent
	// writer. InTx retries it.
	ErrConflict = errors.New("concurrent modification conflict")
)

const (
	constraintWorkspaceName = "workspaces_owner_name_key"
	constraintDocumentPath  = "documents_workspace_path_key"
	constraintSiblingOrder  = "documents_sibling_order_key"
)

// wrap annotates err with op and, when the driver error maps to one of the
// sentinels above, chains that sentinel as well.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if sentinel := classify(err); sentinel != nil {
		return fmt.Errorf("%s: %w: %w", op, sentinel, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifyPostgres(pgErr)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return classifySQLite(liteErr)
	}
	return nil
}

func classifyPostgres(pgErr *pgconn.PgError) error {
	switch pgErr.Code {
	case "40001", "40P01":
		return ErrConflict
	case "23505":
		switch pgErr.ConstraintName {
		case constraintWorkspaceName:
			return ErrDuplicateName
		case constraintDocumentPath:
			return ErrDuplicatePath
		case constraintSiblingOrder:
			return ErrConflict
		}
	}
	return nil
}

// classifySQLite works from extended result codes. SQLite names the
// violated columns (or expression index) only in the message text, so unique
// violations are matched on the exact target it reports.
func classifySQLite(liteErr *sqlite.Error) error {
	code := liteErr.Code()
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return ErrConflict
	}
	if code != sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return nil
	}
	return sqliteUniqueSentinels[sqliteUniqueTarget(liteErr.Error())]
}

var sqliteUniqueSentinels = map[string]error{
	"workspaces.owner_id, workspaces.name":   ErrDuplicateName,
	"documents.workspace_id, documents.path": ErrDuplicatePath,
	"index '" + constraintSiblingOrder + "'": ErrConflict,
}

// sqliteUniqueTarget extracts what follows "UNIQUE constraint failed: " in a
// driver message, without the trailing " (<code>)" modernc appends.
func sqliteUniqueTarget(msg string) string {
	const marker = "UNIQUE constraint failed: "
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return ""
	}
	target := msg[idx+len(marker):]
	if cut := strings.LastIndex(target, " ("); cut >= 0 && strings.HasSuffix(target, ")") {
		target = target[:cut]
	}
	return strings.TrimSpace(target)
}

func retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

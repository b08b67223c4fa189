package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/theapemachine/synapse/pkg/rpc"
	"github.com/theapemachine/synapse/pkg/stores"
)

const schema = `
CREATE TABLE IF NOT EXISTS applications (
	id                   TEXT PRIMARY KEY,
	name                 TEXT NOT NULL DEFAULT '',
	url                  TEXT NOT NULL DEFAULT '',
	description          TEXT NOT NULL DEFAULT '',
	authentication_token TEXT NOT NULL DEFAULT '',
	is_active            INTEGER NOT NULL DEFAULT 1,
	is_admin             INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS application_permissions (
	id        TEXT PRIMARY KEY,
	action    TEXT NOT NULL,
	owner_id  TEXT NOT NULL REFERENCES applications(id),
	target_id TEXT NOT NULL REFERENCES applications(id),
	is_active INTEGER NOT NULL DEFAULT 1,
	CONSTRAINT unique_action_owner_target UNIQUE (action, owner_id, target_id),
	CONSTRAINT check_owner_not_target CHECK (owner_id <> target_id)
);

CREATE INDEX IF NOT EXISTS idx_target_lookup ON application_permissions (target_id, is_active);
CREATE INDEX IF NOT EXISTS idx_active_owner_action ON application_permissions (is_active, owner_id, action);
`

const applicationColumns = "id, name, url, description, authentication_token, is_active, is_admin"

const permissionColumns = "id, action, owner_id, target_id, is_active"

var applicationSortColumns = map[string]string{
	"":          "rowid",
	"id":        "id",
	"name":      "name",
	"url":       "url",
	"is_active": "is_active",
	"is_admin":  "is_admin",
}

var permissionSortColumns = map[string]string{
	"":          "rowid",
	"id":        "id",
	"action":    "action",
	"owner_id":  "owner_id",
	"target_id": "target_id",
	"is_active": "is_active",
}

/*
Store is a Repository backed by an embedded SQLite database. All methods
follow the repository contract: failures are logged here and reported to the
caller as nil, empty, or false values.
*/
type Store struct {
	db *sql.DB
}

/*
New opens (and if needed creates) the database at dsn and prepares the
schema. In-memory databases are pinned to a single connection so every
query sees the same store.
*/
func New(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)

	if err != nil {
		return nil, fmt.Errorf("failed to open database %q: %w", dsn, err)
	}

	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database %q: %w", dsn, err)
	}

	if _, err = db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err = db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (store *Store) Close() error {
	return store.db.Close()
}

func (store *Store) CreateApplication(
	ctx context.Context, app *stores.Application,
) *stores.Application {
	created := *app

	if created.ID == "" {
		created.ID = uuid.NewString()
	}

	if _, err := store.db.ExecContext(
		ctx,
		"INSERT INTO applications ("+applicationColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		created.ID, created.Name, created.URL, created.Description,
		created.AuthenticationToken, created.IsActive, created.IsAdmin,
	); err != nil {
		log.Error("failed to create application", "id", created.ID, "error", err)
		return nil
	}

	return &created
}

func (store *Store) FindApplicationByID(
	ctx context.Context, id string,
) *stores.Application {
	row := store.db.QueryRowContext(
		ctx, "SELECT "+applicationColumns+" FROM applications WHERE id = ?", id,
	)

	app, err := scanApplication(row)

	if err != nil {
		if err != sql.ErrNoRows {
			log.Error("failed to load application", "id", id, "error", err)
		}

		return nil
	}

	return app
}

func (store *Store) FindApplications(
	ctx context.Context, query stores.ApplicationQuery,
) []*stores.Application {
	stmt := "SELECT " + applicationColumns + " FROM applications"

	if query.ActiveOnly {
		stmt += " WHERE is_active = 1"
	}

	stmt += " ORDER BY " + sortColumn(applicationSortColumns, query.SortBy)
	stmt += pageClause(query.Limit, query.Skip)

	rows, err := store.db.QueryContext(ctx, stmt)

	if err != nil {
		log.Error("failed to list applications", "error", err)
		return nil
	}

	defer rows.Close()
	return scanApplications(rows)
}

/*
UpdateApplication applies the updatable subset of updates to the stored
application and returns the fresh record. Unknown fields and nil values are
dropped; an update that ends up empty returns the record unchanged.
*/
func (store *Store) UpdateApplication(
	ctx context.Context, id string, updates map[string]any,
) *stores.Application {
	var (
		assignments []string
		args        []any
	)

	for _, field := range []string{"url", "description", "is_active", "authentication_token"} {
		value, ok := updates[field]

		if !ok || value == nil {
			continue
		}

		switch field {
		case "is_active":
			flag, ok := value.(bool)

			if !ok {
				log.Warn("ignoring update with invalid type", "field", field, "id", id)
				return nil
			}

			assignments = append(assignments, "is_active = ?")
			args = append(args, flag)
		default:
			text, ok := value.(string)

			if !ok {
				log.Warn("ignoring update with invalid type", "field", field, "id", id)
				return nil
			}

			assignments = append(assignments, field+" = ?")
			args = append(args, text)
		}
	}

	if len(assignments) == 0 {
		return store.FindApplicationByID(ctx, id)
	}

	result, err := store.db.ExecContext(
		ctx,
		"UPDATE applications SET "+strings.Join(assignments, ", ")+" WHERE id = ?",
		append(args, id)...,
	)

	if err != nil {
		log.Error("failed to update application", "id", id, "error", err)
		return nil
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil
	}

	return store.FindApplicationByID(ctx, id)
}

/*
DeleteApplication removes the application and, in the same transaction, every
permission that references it on either side.
*/
func (store *Store) DeleteApplication(ctx context.Context, id string) bool {
	tx, err := store.db.BeginTx(ctx, nil)

	if err != nil {
		log.Error("failed to begin delete transaction", "id", id, "error", err)
		return false
	}

	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, "DELETE FROM applications WHERE id = ?", id)

	if err != nil {
		log.Error("failed to delete application", "id", id, "error", err)
		return false
	}

	if affected, _ := result.RowsAffected(); affected == 0 {
		return false
	}

	if _, err = tx.ExecContext(
		ctx,
		"DELETE FROM application_permissions WHERE owner_id = ? OR target_id = ?",
		id, id,
	); err != nil {
		log.Error("failed to delete application permissions", "id", id, "error", err)
		return false
	}

	if err = tx.Commit(); err != nil {
		log.Error("failed to commit delete", "id", id, "error", err)
		return false
	}

	return true
}

/*
GrantPermission creates an active permission triple after the safety checks:
owner and target must differ, the reverse direction must not already be
active, and both endpoints must exist. Duplicate grants fail on the unique
constraint and report nil like any other failure.
*/
func (store *Store) GrantPermission(
	ctx context.Context, ownerID, targetID string, action rpc.Action,
) *stores.Permission {
	if ownerID == targetID {
		log.Warn("refusing self-referential permission", "owner_id", ownerID)
		return nil
	}

	if store.hasPermission(ctx, targetID, ownerID, action, true) {
		log.Warn(
			"refusing grant while reverse permission is active",
			"owner_id", ownerID, "target_id", targetID, "action", action,
		)

		return nil
	}

	if store.FindApplicationByID(ctx, ownerID) == nil ||
		store.FindApplicationByID(ctx, targetID) == nil {
		log.Warn(
			"refusing grant between unknown applications",
			"owner_id", ownerID, "target_id", targetID,
		)

		return nil
	}

	perm := &stores.Permission{
		ID:       uuid.NewString(),
		OwnerID:  ownerID,
		TargetID: targetID,
		Action:   action,
		IsActive: true,
	}

	if _, err := store.db.ExecContext(
		ctx,
		"INSERT INTO application_permissions ("+permissionColumns+") VALUES (?, ?, ?, ?, ?)",
		perm.ID, perm.Action, perm.OwnerID, perm.TargetID, perm.IsActive,
	); err != nil {
		log.Error(
			"failed to grant permission",
			"owner_id", ownerID, "target_id", targetID, "action", action, "error", err,
		)

		return nil
	}

	return perm
}

func (store *Store) RevokePermission(
	ctx context.Context, ownerID, targetID string, action rpc.Action,
) bool {
	result, err := store.db.ExecContext(
		ctx,
		"DELETE FROM application_permissions WHERE owner_id = ? AND target_id = ? AND action = ?",
		ownerID, targetID, action,
	)

	if err != nil {
		log.Error(
			"failed to revoke permission",
			"owner_id", ownerID, "target_id", targetID, "action", action, "error", err,
		)

		return false
	}

	affected, _ := result.RowsAffected()
	return affected > 0
}

func (store *Store) RevokePermissionByID(ctx context.Context, id string) bool {
	result, err := store.db.ExecContext(
		ctx, "DELETE FROM application_permissions WHERE id = ?", id,
	)

	if err != nil {
		log.Error("failed to revoke permission", "id", id, "error", err)
		return false
	}

	affected, _ := result.RowsAffected()
	return affected > 0
}

func (store *Store) FindPermissions(
	ctx context.Context, query stores.PermissionQuery,
) []*stores.Permission {
	var (
		clauses []string
		args    []any
	)

	if query.OwnerID != "" {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, query.OwnerID)
	}

	if query.TargetID != "" {
		clauses = append(clauses, "target_id = ?")
		args = append(args, query.TargetID)
	}

	if query.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, query.Action)
	}

	if query.ActiveOnly {
		clauses = append(clauses, "is_active = 1")
	}

	stmt := "SELECT " + permissionColumns + " FROM application_permissions"

	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}

	stmt += " ORDER BY " + sortColumn(permissionSortColumns, query.SortBy)
	stmt += pageClause(query.Limit, query.Skip)

	rows, err := store.db.QueryContext(ctx, stmt, args...)

	if err != nil {
		log.Error("failed to list permissions", "error", err)
		return nil
	}

	defer rows.Close()

	var perms []*stores.Permission

	for rows.Next() {
		perm := &stores.Permission{}

		if err := rows.Scan(
			&perm.ID, &perm.Action, &perm.OwnerID, &perm.TargetID, &perm.IsActive,
		); err != nil {
			log.Error("failed to scan permission", "error", err)
			return nil
		}

		perms = append(perms, perm)
	}

	if err := rows.Err(); err != nil {
		log.Error("failed to list permissions", "error", err)
		return nil
	}

	return perms
}

func (store *Store) FindAuthorizedApplications(
	ctx context.Context, targetID *string, action rpc.Action, activeOnly bool,
) []*stores.Application {
	admins := "SELECT " + applicationColumns +
		" FROM applications WHERE is_admin = 1 AND is_active = 1"

	var (
		stmt string
		args []any
	)

	if targetID == nil {
		stmt = admins
	} else {
		owners := "SELECT DISTINCT a." + strings.ReplaceAll(applicationColumns, ", ", ", a.") +
			" FROM applications a" +
			" JOIN application_permissions p ON p.owner_id = a.id" +
			" WHERE p.target_id = ? AND p.action = ? AND p.is_active = 1"

		if activeOnly {
			owners += " AND a.is_active = 1"
		}

		stmt = owners + " UNION " + admins
		args = append(args, *targetID, action)
	}

	rows, err := store.db.QueryContext(ctx, stmt, args...)

	if err != nil {
		log.Error("failed to resolve authorized applications", "action", action, "error", err)
		return nil
	}

	defer rows.Close()
	return scanApplications(rows)
}

func (store *Store) hasPermission(
	ctx context.Context, ownerID, targetID string, action rpc.Action, activeOnly bool,
) bool {
	stmt := "SELECT 1 FROM application_permissions" +
		" WHERE owner_id = ? AND target_id = ? AND action = ?"

	if activeOnly {
		stmt += " AND is_active = 1"
	}

	var one int

	err := store.db.QueryRowContext(ctx, stmt+" LIMIT 1", ownerID, targetID, action).Scan(&one)

	if err != nil {
		if err != sql.ErrNoRows {
			log.Error(
				"failed to check permission",
				"owner_id", ownerID, "target_id", targetID, "action", action, "error", err,
			)
		}

		return false
	}

	return true
}

type scannable interface {
	Scan(dest ...any) error
}

func scanApplication(row scannable) (*stores.Application, error) {
	app := &stores.Application{}

	if err := row.Scan(
		&app.ID, &app.Name, &app.URL, &app.Description,
		&app.AuthenticationToken, &app.IsActive, &app.IsAdmin,
	); err != nil {
		return nil, err
	}

	return app, nil
}

func scanApplications(rows *sql.Rows) []*stores.Application {
	var apps []*stores.Application

	for rows.Next() {
		app, err := scanApplication(rows)

		if err != nil {
			log.Error("failed to scan application", "error", err)
			return nil
		}

		apps = append(apps, app)
	}

	if err := rows.Err(); err != nil {
		log.Error("failed to iterate applications", "error", err)
		return nil
	}

	return apps
}

func sortColumn(allowed map[string]string, requested string) string {
	column, ok := allowed[requested]

	if !ok {
		log.Warn("ignoring unknown sort column", "sort_by", requested)
		return allowed[""]
	}

	return column
}

func pageClause(limit, skip int) string {
	var clause string

	switch {
	case limit > 0:
		clause = fmt.Sprintf(" LIMIT %d", limit)
	case skip > 0:
		clause = " LIMIT -1"
	}

	if skip > 0 {
		clause += fmt.Sprintf(" OFFSET %d", skip)
	}

	return clause
}

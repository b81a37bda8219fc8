// Copyright 2026 The Warden Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wardenhq/warden/internal/id"
	"github.com/wardenhq/warden/internal/roster"
)

// Unique index names from 001_initial_schema.up.sql. Conflict
// translation keys off these; keep them in sync with the migration.
const (
	constraintUsernameLower = "admins_username_lower_idx"
	constraintEmailLower    = "admins_email_lower_idx"
)

const uniqueViolation = "23505"

const adminColumns = `id, username, email, name, role, permissions, secret_hash,
	active, created_by, created_at, updated_at, last_login_at`

// roleRankSQL orders roles the same way internal/rbac ranks them:
// owners surface first, unknown roles sink to the bottom.
const roleRankSQL = `CASE role
	WHEN 'owner' THEN 100
	WHEN 'admin' THEN 80
	WHEN 'support' THEN 60
	ELSE 0
END`

// AdminRepository implements roster.Repository
type AdminRepository struct {
	db *DB
}

// NewAdminRepository creates a new administrator repository
func NewAdminRepository(db *DB) *AdminRepository {
	return &AdminRepository{db: db}
}

// Create persists a new administrator. Case-insensitive uniqueness of
// username and email is enforced by the database; a concurrent insert
// of the same values surfaces here as a unique violation and is
// translated to the matching duplicate error.
func (r *AdminRepository) Create(ctx context.Context, admin *roster.Administrator) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO admins (
			id, username, email, name, role, permissions, secret_hash,
			active, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		admin.ID, admin.Username, admin.Email, admin.Name, admin.Role,
		admin.Permissions, admin.SecretHash, admin.Active, admin.CreatedBy,
		admin.CreatedAt, admin.UpdatedAt,
	)
	if err != nil {
		if dup := translateUnique(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert administrator: %w", err)
	}
	return nil
}

// GetByID retrieves an administrator by ID
func (r *AdminRepository) GetByID(ctx context.Context, adminID string) (*roster.Administrator, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE id = $1`, adminID)
	return scanAdmin(row)
}

// GetByUsername retrieves an administrator by case-insensitive username
func (r *AdminRepository) GetByUsername(ctx context.Context, username string) (*roster.Administrator, error) {
	row := r.db.pool.QueryRow(ctx,
		`SELECT `+adminColumns+` FROM admins WHERE lower(username) = lower($1)`, username)
	return scanAdmin(row)
}

// List retrieves administrators matching the filter, role rank
// descending then newest first.
func (r *AdminRepository) List(ctx context.Context, filter roster.ListFilter) ([]*roster.Administrator, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Search != "" {
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
		n := len(args)
		clauses = append(clauses, fmt.Sprintf(
			"(lower(username) LIKE $%d OR lower(name) LIKE $%d OR lower(email) LIKE $%d)", n, n, n))
	}
	if filter.Role != "" {
		args = append(args, filter.Role)
		clauses = append(clauses, fmt.Sprintf("role = $%d", len(args)))
	}
	switch filter.Status {
	case roster.StatusActive:
		clauses = append(clauses, "active")
	case roster.StatusSuspended:
		clauses = append(clauses, "NOT active")
	}

	query := `SELECT ` + adminColumns + ` FROM admins`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY ` + roleRankSQL + ` DESC, created_at DESC`

	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list administrators: %w", err)
	}
	defer rows.Close()

	var admins []*roster.Administrator
	for rows.Next() {
		admin, err := scanAdmin(rows)
		if err != nil {
			return nil, err
		}
		admins = append(admins, admin)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate administrators: %w", err)
	}
	return admins, nil
}

// UpdateRole changes a target's role inside a single serializable
// transaction spanning the owner-count read and the role write, so two
// concurrent demotions cannot both observe a safe owner count. The role
// change is recorded in role_changes within the same transaction, and
// the pre-change role is returned from the same locked read.
func (r *AdminRepository) UpdateRole(ctx context.Context, actorID, adminID, role string, permissions []string) (*roster.Administrator, string, error) {
	tx, err := r.db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentRole string
	var active bool
	err = tx.QueryRow(ctx,
		`SELECT role, active FROM admins WHERE id = $1 FOR UPDATE`, adminID,
	).Scan(&currentRole, &active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", roster.ErrAdminNotFound
		}
		return nil, "", fmt.Errorf("failed to read current role: %w", err)
	}

	if currentRole == "owner" && role != "owner" && active {
		var owners int
		err = tx.QueryRow(ctx,
			`SELECT count(*) FROM admins WHERE role = 'owner' AND active`,
		).Scan(&owners)
		if err != nil {
			return nil, "", fmt.Errorf("failed to count active owners: %w", err)
		}
		if owners <= 1 {
			return nil, "", roster.ErrLastOwnerProtection
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE admins SET role = $2, permissions = $3, updated_at = now()
		WHERE id = $1
		RETURNING `+adminColumns, adminID, role, permissions)
	admin, err := scanAdmin(row)
	if err != nil {
		return nil, "", err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO role_changes (id, actor_id, target_id, from_role, to_role, changed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id.NewUUIDv7(), actorID, adminID, currentRole, role, time.Now())
	if err != nil {
		return nil, "", fmt.Errorf("failed to record role change: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("failed to commit role change: %w", err)
	}
	return admin, currentRole, nil
}

// SetActive flips the active flag under the same transactional
// discipline: deactivating the last active owner is refused.
func (r *AdminRepository) SetActive(ctx context.Context, adminID string, active bool) (*roster.Administrator, error) {
	tx, err := r.db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var currentRole string
	var currentActive bool
	err = tx.QueryRow(ctx,
		`SELECT role, active FROM admins WHERE id = $1 FOR UPDATE`, adminID,
	).Scan(&currentRole, &currentActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roster.ErrAdminNotFound
		}
		return nil, fmt.Errorf("failed to read current status: %w", err)
	}

	if !active && currentActive && currentRole == "owner" {
		var owners int
		err = tx.QueryRow(ctx,
			`SELECT count(*) FROM admins WHERE role = 'owner' AND active`,
		).Scan(&owners)
		if err != nil {
			return nil, fmt.Errorf("failed to count active owners: %w", err)
		}
		if owners <= 1 {
			return nil, roster.ErrLastOwnerProtection
		}
	}

	row := tx.QueryRow(ctx, `
		UPDATE admins SET active = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+adminColumns, adminID, active)
	admin, err := scanAdmin(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit status change: %w", err)
	}
	return admin, nil
}

// TouchLastLogin stamps a successful login
func (r *AdminRepository) TouchLastLogin(ctx context.Context, adminID string, at time.Time) error {
	result, err := r.db.pool.Exec(ctx,
		`UPDATE admins SET last_login_at = $2 WHERE id = $1`, adminID, at)
	if err != nil {
		return fmt.Errorf("failed to stamp last login: %w", err)
	}
	if result.RowsAffected() == 0 {
		return roster.ErrAdminNotFound
	}
	return nil
}

func scanAdmin(row pgx.Row) (*roster.Administrator, error) {
	var admin roster.Administrator
	var lastLogin sql.NullTime

	err := row.Scan(
		&admin.ID, &admin.Username, &admin.Email, &admin.Name, &admin.Role,
		&admin.Permissions, &admin.SecretHash, &admin.Active, &admin.CreatedBy,
		&admin.CreatedAt, &admin.UpdatedAt, &lastLogin,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, roster.ErrAdminNotFound
		}
		return nil, fmt.Errorf("failed to scan administrator: %w", err)
	}
	if lastLogin.Valid {
		admin.LastLoginAt = &lastLogin.Time
	}
	return &admin, nil
}

// translateUnique maps a unique violation to the matching domain error,
// or returns nil if err is not a unique violation.
func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	switch pgErr.ConstraintName {
	case constraintUsernameLower:
		return roster.ErrDuplicateUsername
	case constraintEmailLower:
		return roster.ErrDuplicateEmail
	}
	return fmt.Errorf("unexpected unique violation: %w", err)
}

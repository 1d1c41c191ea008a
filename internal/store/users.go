// Package store holds the Postgres and in-memory persistence of user profiles
// and deletion audits.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ProjectOpenLeaf/OpenLeaf-User-Service/pkg/models"
	"github.com/lib/pq"
)

const userColumns = "id, external_id, username, email, first_name, last_name, roles, created_at"

// UserStore keeps user profiles in the users table.
type UserStore struct {
	DB *sql.DB
}

// NewUserStore creates a new UserStore.
func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{DB: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u     models.User
		email sql.NullString
		roles pq.StringArray
	)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Username, &email, &u.FirstName, &u.LastName, &roles, &u.CreatedAt); err != nil {
		return nil, err
	}
	if email.Valid {
		u.Email = &email.String
	}
	u.Roles = []string(roles)
	if u.Roles == nil {
		u.Roles = []string{}
	}
	return &u, nil
}

// FindByExternalID returns nil, nil when no user has the id.
func (s *UserStore) FindByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE external_id = $1", externalID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

func (s *UserStore) Exists(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE external_id = $1)", externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check user exists: %w", err)
	}
	return exists, nil
}

// Save upserts by external_id. On conflict the stored id and created_at are
// kept and copied back into user.
func (s *UserStore) Save(ctx context.Context, user *models.User) error {
	roles := user.Roles
	if roles == nil {
		roles = []string{}
	}

	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (id, external_id, username, email, first_name, last_name, roles, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (external_id) DO UPDATE SET
			username = EXCLUDED.username,
			email = EXCLUDED.email,
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			roles = EXCLUDED.roles
		 RETURNING id, created_at`,
		user.ID, user.ExternalID, user.Username, user.Email, user.FirstName, user.LastName, pq.Array(roles), user.CreatedAt,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	user.Roles = roles
	return nil
}

// Delete removes the user and reports whether a row was removed.
func (s *UserStore) Delete(ctx context.Context, externalID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM users WHERE external_id = $1", externalID)
	if err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete user rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByRole returns users carrying role, oldest first.
func (s *UserStore) ListByRole(ctx context.Context, role string) ([]models.User, error) {
	return s.list(ctx, "SELECT "+userColumns+" FROM users WHERE $1 = ANY(roles) ORDER BY created_at ASC", role)
}

// ListAll returns every user, newest first.
func (s *UserStore) ListAll(ctx context.Context) ([]models.User, error) {
	return s.list(ctx, "SELECT "+userColumns+" FROM users ORDER BY created_at DESC")
}

func (s *UserStore) list(ctx context.Context, query string, args ...interface{}) ([]models.User, error) {
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

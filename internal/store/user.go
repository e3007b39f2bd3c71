package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// CreateUser inserts a new operator account. The ID, CreatedAt, and UpdatedAt
// fields are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Role == "" {
		user.Role = model.RoleAdmin
	}
	if user.Status == "" {
		user.Status = model.UserEnabled
	}

	const q = `INSERT INTO users
		(username, password_hash, role, status, created_at, updated_at)
		VALUES
		(:username, :password_hash, :role, :status, :created_at, :updated_at)`

	id, err := s.namedInsert(ctx, q, user)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("insert user: %w", err)
	}
	user.ID = id
	return nil
}

// GetUser returns an operator by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.rebind("SELECT * FROM users WHERE id = ?"), id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &user, nil
}

// GetUserByUsername returns an operator by their unique username.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var user model.User
	if err := s.db.GetContext(ctx, &user, s.rebind("SELECT * FROM users WHERE username = ?"), username); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &user, nil
}

// ListUsers returns all operator accounts.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// ListAdmins returns operator accounts with the admin role. Owner accounts
// are managed out of band and never shown in the admin management view.
func (s *Store) ListAdmins(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users,
		s.rebind("SELECT * FROM users WHERE role = ? ORDER BY username"), model.RoleAdmin); err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return users, nil
}

// HasAnyUser reports whether at least one operator account exists, used for
// first-run detection.
func (s *Store) HasAnyUser(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM users"); err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	return count > 0, nil
}

// DeleteAdmin removes an admin-role account by ID. Owner accounts cannot be
// deleted through this path.
func (s *Store) DeleteAdmin(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM users WHERE id = ? AND role = ?"), id, model.RoleAdmin)
	if err != nil {
		return fmt.Errorf("delete admin: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete admin rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAdminStatus enables or disables an admin-role account. Owner accounts
// are exempt and cannot be disabled.
func (s *Store) SetAdminStatus(ctx context.Context, id int64, status string) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET status = ?, updated_at = ? WHERE id = ? AND role = ?"),
		status, time.Now().UTC(), id, model.RoleAdmin)
	if err != nil {
		return fmt.Errorf("set admin status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set admin status rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserPassword replaces an operator's password hash.
func (s *Store) SetUserPassword(ctx context.Context, id int64, passwordHash string) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?"),
		passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set user password: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set user password rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateUserLastLogin sets the last_login_at timestamp for an operator.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		s.rebind("UPDATE users SET last_login_at = ?, updated_at = ? WHERE id = ?"), now, now, id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	return nil
}

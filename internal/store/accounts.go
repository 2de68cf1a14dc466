package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"memoria/internal/errs"
)

// CreateOrganization inserts a new organization.
func (s *Store) CreateOrganization(ctx context.Context, org Organization) (Organization, error) {
	if org.ID == "" {
		org.ID = newID()
	}
	org.CreatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `INSERT INTO organizations(id, name, created_at) VALUES ($1,$2,$3)`, org.ID, org.Name, org.CreatedAt)
	if err != nil {
		return Organization{}, errs.New(errs.Transient, "create organization", err)
	}
	return org, nil
}

// CreateUser inserts a new user. Called from the admin user-creation path
// (§4.15) after bearer-token verification.
func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = newID()
	}
	u.CreatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `INSERT INTO users(id, org_id, email, created_at) VALUES ($1,$2,$3,$4)`, u.ID, u.OrgID, u.Email, u.CreatedAt)
	if err != nil {
		return User{}, errs.New(errs.Transient, "create user", err)
	}
	return u, nil
}

// GetUser fetches a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.Pool.QueryRow(ctx, `SELECT id, org_id, email, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.OrgID, &u.Email, &u.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return User{}, errs.New(errs.NotFound, "user "+id, err)
		}
		return User{}, errs.New(errs.Transient, "get user", err)
	}
	return u, nil
}

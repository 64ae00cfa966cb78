package repository

import (
	"context"
	"database/sql"

	"github.com/estimatehq/followup-engine/internal/model"
	"github.com/jmoiron/sqlx"
)

type UsersRepository interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// FindActiveByName matches active users by case-insensitive exact
	// name. Returns nil when no user matches.
	FindActiveByName(ctx context.Context, name string) (*model.User, error)
}

type UsersRepositoryImpl struct {
	db *sqlx.DB
}

func NewUsersRepository(db *sqlx.DB) *UsersRepositoryImpl {
	return &UsersRepositoryImpl{db: db}
}

var _ UsersRepository = (*UsersRepositoryImpl)(nil)

func (r *UsersRepositoryImpl) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `
		SELECT id, name, email, status, created_at, updated_at
		  FROM users
		 WHERE id = ? LIMIT 1
	`, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepositoryImpl) FindActiveByName(ctx context.Context, name string) (*model.User, error) {
	var u model.User
	err := r.db.GetContext(ctx, &u, `
		SELECT id, name, email, status, created_at, updated_at
		  FROM users
		 WHERE LOWER(name) = LOWER(?) AND status = 'active'
		 LIMIT 1
	`, name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

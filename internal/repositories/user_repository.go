package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pet-society-chat/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidToken = errors.New("invalid token")
)

// UserRepository reads identities from the platform's shared users and
// auth token tables. This service never writes user rows.
type UserRepository interface {
	GetByUsername(ctx context.Context, username string) (models.User, error)
	ByIDs(ctx context.Context, ids []int) ([]models.User, error)
	ResolveToken(ctx context.Context, key string) (models.User, error)
}

// UserRepo is a sqlx implementation of UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs a UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

const userColumns = `id, username, first_name, last_name, image`

// GetByUsername fetches a user by username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM users WHERE username=$1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrUserNotFound
	}
	return user, err
}

// ByIDs fetches multiple users in one query.
func (r *UserRepo) ByIDs(ctx context.Context, ids []int) ([]models.User, error) {
	if len(ids) == 0 {
		return []models.User{}, nil
	}
	query, args, err := sqlx.In(`SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var users []models.User
	err = r.db.SelectContext(ctx, &users, r.db.Rebind(query), args...)
	return users, err
}

// ResolveToken maps a connection credential to its user.
func (r *UserRepo) ResolveToken(ctx context.Context, key string) (models.User, error) {
	if key == "" {
		return models.User{}, ErrInvalidToken
	}
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT u.id, u.username, u.first_name, u.last_name, u.image
        FROM users u INNER JOIN auth_tokens t ON t.user_id = u.id
        WHERE t.key=$1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrInvalidToken
	}
	return user, err
}

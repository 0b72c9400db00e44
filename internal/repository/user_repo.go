package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-linux/forge/internal/models"
)

// UserRepository links pipelines to the accounts that requested them.
type UserRepository interface {
	// UpsertGitHub records or refreshes a user identified by their
	// hosting-provider account id.
	UpsertGitHub(ctx context.Context, githubID int64, login, name, avatarURL string) (*models.User, error)
	GetByID(ctx context.Context, id int) (*models.User, error)
}

type postgresUserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a PostgreSQL-backed user repository.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &postgresUserRepository{pool: pool}
}

const userColumns = `id, github_login, github_id, github_name, github_avatar_url, telegram_chat_id, token`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.GitHubLogin, &u.GitHubID, &u.GitHubName, &u.GitHubAvatarURL, &u.TelegramChatID, &u.Token)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *postgresUserRepository) UpsertGitHub(ctx context.Context, githubID int64, login, name, avatarURL string) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE github_id = $1`, githubID)
	u, err := scanUser(row)
	if err == nil {
		row = r.pool.QueryRow(ctx, `
			UPDATE users SET github_login = $1, github_name = $2, github_avatar_url = $3
			WHERE id = $4
			RETURNING `+userColumns,
			login, name, avatarURL, u.ID,
		)
		return scanUser(row)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	row = r.pool.QueryRow(ctx, `
		INSERT INTO users (github_id, github_login, github_name, github_avatar_url)
		VALUES ($1, $2, $3, $4)
		RETURNING `+userColumns,
		githubID, login, name, avatarURL,
	)
	u, err = scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	return u, nil
}

func (r *postgresUserRepository) GetByID(ctx context.Context, id int) (*models.User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

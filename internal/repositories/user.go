package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/desertthunder/soundalike/internal/models"
	"github.com/desertthunder/soundalike/internal/shared"
)

const userColumns = "id, external_id, display_name, email, credential, created_at, last_login_at"

// UserRepository persists [models.User] rows.
type UserRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new [UserRepository] with the given database connection
func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user and sets its ID.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO users (external_id, display_name, email, credential, last_login_at)
		VALUES (?, ?, ?, ?, ?)
	`

	res, err := r.db.ExecContext(ctx, query, user.ExternalID, user.DisplayName, user.Email, user.Credential, user.LastLoginAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: user %s already exists", shared.ErrInvalidInput, user.ExternalID)
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	user.ID = id
	return nil
}

// Upsert inserts the user or refreshes the profile and credential of the
// existing row with the same external id. The user's ID is set either way.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidInput, err)
	}

	query := `
		INSERT INTO users (external_id, display_name, email, credential, last_login_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			display_name = excluded.display_name,
			email = excluded.email,
			credential = CASE WHEN excluded.credential = '' THEN users.credential ELSE excluded.credential END,
			last_login_at = COALESCE(excluded.last_login_at, users.last_login_at)
	`

	if _, err := r.db.ExecContext(ctx, query, user.ExternalID, user.DisplayName, user.Email, user.Credential, user.LastLoginAt); err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}

	stored, err := r.GetByExternalID(ctx, user.ExternalID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

// Get retrieves a user by ID.
func (r *UserRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE id = ?"
	user, err := r.scanOne(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, shared.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %d", shared.ErrUserNotFound, id)
	}
	return user, err
}

// GetByExternalID retrieves a user by remote catalog id.
func (r *UserRepository) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	query := "SELECT " + userColumns + " FROM users WHERE external_id = ?"
	user, err := r.scanOne(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, shared.ErrUserNotFound) {
		return nil, fmt.Errorf("%w: %s", shared.ErrUserNotFound, externalID)
	}
	return user, err
}

// UpdateCredential replaces the stored credential for a user.
func (r *UserRepository) UpdateCredential(ctx context.Context, id int64, credential string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE users SET credential = ? WHERE id = ?", credential, id)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", shared.ErrUserNotFound, id)
	}
	return nil
}

// List returns every user ordered by ID.
func (r *UserRepository) List(ctx context.Context) ([]*models.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return users, nil
}

func (r *UserRepository) scanOne(row *sql.Row) (*models.User, error) {
	user, err := scanUser(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

func scanUser(scan func(dest ...any) error) (*models.User, error) {
	var (
		u         models.User
		lastLogin sql.NullTime
	)
	if err := scan(&u.ID, &u.ExternalID, &u.DisplayName, &u.Email, &u.Credential, &u.CreatedAt, &lastLogin); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

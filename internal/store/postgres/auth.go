package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"clinicqr/internal/models"
	"clinicqr/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const staffColumns = `
	user_id, username, email, full_name, role, department, password_hash, active, created_at`

func scanStaff(row pgx.Row) (models.Staff, error) {
	var u models.Staff
	err := row.Scan(&u.UserID, &u.Username, &u.Email, &u.FullName, &u.Role, &u.Department,
		&u.PasswordHash, &u.Active, &u.CreatedAt)
	if err != nil {
		return models.Staff{}, err
	}
	return u, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (models.Staff, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+staffColumns+` FROM staff_users WHERE username = $1
	`, username)
	user, err := scanStaff(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Staff{}, store.ErrUserNotFound
		}
		return models.Staff{}, err
	}
	return user, nil
}

func (s *Store) CreateStaff(ctx context.Context, input store.CreateStaffInput) (models.Staff, error) {
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO staff_users (user_id, username, email, full_name, role, department, password_hash, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,TRUE,$8)
		RETURNING `+staffColumns,
		uuid.NewString(), input.Username, input.Email, input.FullName, input.Role,
		input.Department, input.PasswordHash, createdAt)
	return scanStaff(row)
}

func (s *Store) ListStaff(ctx context.Context) ([]models.Staff, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+staffColumns+` FROM staff_users ORDER BY full_name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []models.Staff
	for rows.Next() {
		user, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) SetStaffActive(ctx context.Context, userID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE staff_users SET active = $2 WHERE user_id = $1
	`, userID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrUserNotFound
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, userID string, ttl time.Duration) (store.Session, error) {
	session := store.Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO sessions (session_id, user_id, expires_at, created_at)
		SELECT $1, $2, $3, $4
		WHERE EXISTS (SELECT 1 FROM staff_users WHERE user_id = $2 AND active = TRUE)
		RETURNING session_id
	`, session.SessionID, userID, session.ExpiresAt, time.Now().UTC())
	if err := row.Scan(&session.SessionID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrUserNotFound
		}
		return store.Session{}, err
	}
	row = s.pool.QueryRow(ctx, `SELECT role, department FROM staff_users WHERE user_id = $1`, userID)
	if err := row.Scan(&session.Role, &session.Department); err != nil {
		return store.Session{}, err
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	var expiresAt sql.NullTime
	row := s.pool.QueryRow(ctx, `
		SELECT s.session_id, s.user_id, u.role, u.department, s.expires_at
		FROM sessions s
		JOIN staff_users u ON u.user_id = s.user_id
		WHERE s.session_id = $1 AND u.active = TRUE
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.Role, &session.Department, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrAccessDenied
		}
		return store.Session{}, err
	}
	if expiresAt.Valid {
		session.ExpiresAt = expiresAt.Time
	}
	if !session.ExpiresAt.IsZero() && session.ExpiresAt.Before(time.Now().UTC()) {
		return store.Session{}, store.ErrAccessDenied
	}
	return session, nil
}

func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	return err
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/dkeye/VideoLaunch/internal/domain"
)

var (
	ErrNotFound  = errors.New("scheduled session not found")
	ErrDuplicate = errors.New("scheduled session already exists")
)

// SessionStore keeps the private details of booked sessions.
type SessionStore struct {
	db *DB
}

func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Insert(ctx context.Context, sess domain.ScheduledSession) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_session (session_name, passcode, start_date, host_email, attendee_email, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(sess.SessionName), sess.Passcode, sess.Start.Unix(), sess.HostEmail, sess.AttendeeEmail, sess.CreatedAt.Unix())
	if isConstraint(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert scheduled session: %w", err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, name domain.SessionName) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_session WHERE session_name = ?`, string(name)); err != nil {
		return fmt.Errorf("delete scheduled session: %w", err)
	}
	return nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *SessionStore) Get(ctx context.Context, name domain.SessionName) (domain.ScheduledSession, error) {
	var (
		out              domain.ScheduledSession
		rawName          string
		start, createdAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_name, passcode, start_date, host_email, attendee_email, created_at
		FROM scheduled_session WHERE session_name = ?
	`, string(name)).Scan(&rawName, &out.Passcode, &start, &out.HostEmail, &out.AttendeeEmail, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduledSession{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduledSession{}, fmt.Errorf("get scheduled session: %w", err)
	}
	out.SessionName = domain.SessionName(rawName)
	out.Start = time.Unix(start, 0)
	out.CreatedAt = time.Unix(createdAt, 0)
	return out, nil
}

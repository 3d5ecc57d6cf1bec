package store

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS teachers (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		phone         TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS students (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		student_number  TEXT NOT NULL UNIQUE,
		phone           TEXT NOT NULL DEFAULT '',
		address         TEXT NOT NULL DEFAULT '',
		remaining_hours INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS courses (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		course_date DATE NOT NULL,
		time_label  TEXT NOT NULL DEFAULT '',
		teacher_id  TEXT NOT NULL REFERENCES teachers(id) ON DELETE RESTRICT,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id           TEXT PRIMARY KEY,
		course_id    TEXT NOT NULL REFERENCES courses(id) ON DELETE CASCADE,
		student_id   TEXT NOT NULL REFERENCES students(id) ON DELETE CASCADE,
		session_date DATE NOT NULL,
		status       TEXT NOT NULL CHECK (status IN ('present', 'absent')),
		deducted     BOOLEAN NOT NULL DEFAULT FALSE,
		recorded_by  TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (course_id, student_id, session_date)
	)`,
	`CREATE INDEX IF NOT EXISTS attendance_records_student_idx ON attendance_records (student_id)`,
	`CREATE INDEX IF NOT EXISTS attendance_records_date_idx ON attendance_records (session_date)`,
}

// Migrate creates the tables the repository expects.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

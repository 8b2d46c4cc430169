package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/odometry/internal/odometry"
)

// Session groups the poses recorded during one run of the tracker.
type Session struct {
	ID      string     `json:"id"`
	Source  string     `json:"source"` // serial, can or sim
	Note    string     `json:"note,omitempty"`
	Started time.Time  `json:"started"`
	Ended   *time.Time `json:"ended,omitempty"`
	Poses   int        `json:"poses"`
}

// PoseRecord is one logged pose. Seq counts integrated ticks from the start
// of the session, so gaps show decimation or dropped records.
type PoseRecord struct {
	Seq      int64         `json:"seq"`
	Recorded time.Time     `json:"recorded"`
	Pose     odometry.Pose `json:"pose"`
}

// StartSession creates a new session and returns it.
func (db *DB) StartSession(source, note string, started time.Time) (*Session, error) {
	s := &Session{
		ID:      uuid.NewString(),
		Source:  source,
		Note:    note,
		Started: started.UTC(),
	}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, source, note, started_unix_nanos) VALUES (?, ?, ?, ?)`,
		s.ID, s.Source, s.Note, s.Started.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	return s, nil
}

// EndSession stamps the session's end time.
func (db *DB) EndSession(id string, ended time.Time) error {
	res, err := db.Exec(`UPDATE sessions SET ended_unix_nanos = ? WHERE session_id = ?`, ended.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return requireRow(res, id)
}

// DeleteSession removes a session and its poses. Runs recorded against it
// are kept with their session cleared.
func (db *DB) DeleteSession(id string) error {
	res, err := db.Exec(`DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return nil
}

const sessionColumns = `
	s.session_id, s.source, s.note, s.started_unix_nanos, s.ended_unix_nanos,
	(SELECT COUNT(*) FROM poses p WHERE p.session_id = s.session_id)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s       Session
		started int64
		ended   sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.Source, &s.Note, &started, &ended, &s.Poses); err != nil {
		return Session{}, err
	}
	s.Started = time.Unix(0, started).UTC()
	if ended.Valid {
		t := time.Unix(0, ended.Int64).UTC()
		s.Ended = &t
	}
	return s, nil
}

// Session returns one session by ID.
func (db *DB) Session(id string) (*Session, error) {
	s, err := scanSession(db.QueryRow(`SELECT `+sessionColumns+` FROM sessions s WHERE s.session_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Sessions lists every session, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT ` + sessionColumns + ` FROM sessions s ORDER BY s.started_unix_nanos DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RecordPoses appends poses to a session in a single transaction.
func (db *DB) RecordPoses(sessionID string, recs []PoseRecord) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO poses (session_id, seq, recorded_unix_nanos, x, y, heading) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.Exec(sessionID, r.Seq, r.Recorded.UnixNano(), r.Pose.X, r.Pose.Y, r.Pose.Heading); err != nil {
			return fmt.Errorf("record pose %d: %w", r.Seq, err)
		}
	}
	return tx.Commit()
}

// Trajectory returns a session's poses in sequence order.
func (db *DB) Trajectory(sessionID string) ([]PoseRecord, error) {
	rows, err := db.Query(
		`SELECT seq, recorded_unix_nanos, x, y, heading FROM poses WHERE session_id = ? ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []PoseRecord
	for rows.Next() {
		var (
			r        PoseRecord
			recorded int64
		)
		if err := rows.Scan(&r.Seq, &recorded, &r.Pose.X, &r.Pose.Y, &r.Pose.Heading); err != nil {
			return nil, err
		}
		r.Recorded = time.Unix(0, recorded).UTC()
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/odometry/internal/motion"
	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/pid"
)

// PIDRun is a stored motion.Run.
type PIDRun struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id,omitempty"`
	Kind      string        `json:"kind"`
	Target    float64       `json:"target"`
	Gains     pid.Gains     `json:"gains"`
	Settled   bool          `json:"settled"`
	Overshoot float64       `json:"overshoot"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Start     odometry.Pose `json:"start"`
	Final     odometry.Pose `json:"final"`
	Started   time.Time     `json:"started"`
}

// RecordPIDRun stores a finished move with its tuning data. sessionID may be
// empty when no pose log is open.
func (db *DB) RecordPIDRun(sessionID string, run motion.Run) (*PIDRun, error) {
	r := &PIDRun{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      run.Kind,
		Target:    run.Target,
		Gains:     run.Gains,
		Settled:   run.Settled,
		Overshoot: run.Data.Overshoot,
		// stored at millisecond resolution
		Elapsed: run.Data.Elapsed.Truncate(time.Millisecond),
		Start:   run.Start,
		Final:   run.Final,
		Started: run.Started.UTC(),
	}

	var session sql.NullString
	if sessionID != "" {
		session = sql.NullString{String: sessionID, Valid: true}
	}
	_, err := db.Exec(`
		INSERT INTO pid_runs (
			run_id, session_id, kind, target, kp, ki, kd, settled, overshoot, elapsed_ms,
			start_x, start_y, start_heading, final_x, final_y, final_heading, started_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, session, r.Kind, r.Target, r.Gains.Kp, r.Gains.Ki, r.Gains.Kd, r.Settled,
		r.Overshoot, r.Elapsed.Milliseconds(),
		r.Start.X, r.Start.Y, r.Start.Heading, r.Final.X, r.Final.Y, r.Final.Heading,
		r.Started.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("record pid run: %w", err)
	}
	return r, nil
}

// PIDRuns returns the most recent runs, newest first. kind filters by move
// kind when non-empty; limit <= 0 returns every run.
func (db *DB) PIDRuns(kind string, limit int) ([]PIDRun, error) {
	query := `
		SELECT run_id, session_id, kind, target, kp, ki, kd, settled, overshoot, elapsed_ms,
			start_x, start_y, start_heading, final_x, final_y, final_heading, started_unix_nanos
		FROM pid_runs`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY started_unix_nanos DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []PIDRun
	for rows.Next() {
		var (
			r         PIDRun
			session   sql.NullString
			elapsedMs int64
			started   int64
		)
		if err := rows.Scan(
			&r.ID, &session, &r.Kind, &r.Target, &r.Gains.Kp, &r.Gains.Ki, &r.Gains.Kd,
			&r.Settled, &r.Overshoot, &elapsedMs,
			&r.Start.X, &r.Start.Y, &r.Start.Heading, &r.Final.X, &r.Final.Y, &r.Final.Heading,
			&started,
		); err != nil {
			return nil, err
		}
		r.SessionID = session.String
		r.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		r.Started = time.Unix(0, started).UTC()
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

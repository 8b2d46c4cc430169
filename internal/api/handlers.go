package api

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"

	"github.com/banshee-data/odometry/internal/config"
	"github.com/banshee-data/odometry/internal/db"
	"github.com/banshee-data/odometry/internal/httputil"
	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/motion"
	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/pid"
	"github.com/banshee-data/odometry/internal/report"
)

type poseResponse struct {
	odometry.Pose
	Running bool `json:"running"`
}

func (s *Server) getPose(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, poseResponse{Pose: s.opts.Tracker.Position(), Running: s.opts.Tracker.Running()})
}

// putPose overwrites only the fields present in the body; omitted fields
// keep their current value.
func (s *Server) putPose(w http.ResponseWriter, r *http.Request) {
	var req odometry.PoseUpdate
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"x", req.X},
		{"y", req.Y},
		{"heading", req.Heading},
	} {
		if f.v != nil && (math.IsNaN(*f.v) || math.IsInf(*f.v, 0)) {
			httputil.BadRequest(w, fmt.Sprintf("%s must be finite", f.name))
			return
		}
	}

	p, err := s.opts.Tracker.UpdatePosition(req)
	if err != nil {
		httputil.ServiceUnavailable(w, err.Error())
		return
	}
	monitoring.Logf("api: pose set to %s", p)
	httputil.WriteJSONOK(w, poseResponse{Pose: p, Running: s.opts.Tracker.Running()})
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.opts.Config)
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.opts.DB == nil {
		httputil.ServiceUnavailable(w, "storage disabled")
		return false
	}
	return true
}

// sessionID resolves the "current" alias.
func (s *Server) sessionID(r *http.Request) string {
	id := r.PathValue("id")
	if id == "current" {
		return s.opts.SessionID
	}
	return id
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	sessions, err := s.opts.DB.Sessions()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

type sessionResponse struct {
	*db.Session
	Stats report.Stats `json:"stats"`
}

func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (*db.Session, []db.PoseRecord, bool) {
	if !s.requireDB(w) {
		return nil, nil, false
	}
	id := s.sessionID(r)
	if id == "" {
		httputil.NotFound(w, "no current session")
		return nil, nil, false
	}
	session, err := s.opts.DB.Session(id)
	if errors.Is(err, db.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return nil, nil, false
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, nil, false
	}
	recs, err := s.opts.DB.Trajectory(session.ID)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return nil, nil, false
	}
	return session, recs, true
}

func (s *Server) showSession(w http.ResponseWriter, r *http.Request) {
	session, recs, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, sessionResponse{Session: session, Stats: report.Summarize(recs)})
}

// showTrajectory renders a session as an HTML chart, a PNG plot or raw
// JSON, chosen by ?format=html|png|json.
func (s *Server) showTrajectory(w http.ResponseWriter, r *http.Request) {
	session, recs, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	title := fmt.Sprintf("Session %s (%s)", session.ID, session.Source)
	var buf bytes.Buffer
	switch format := r.URL.Query().Get("format"); format {
	case "", "html":
		if err := report.RenderTrajectoryHTML(&buf, title, recs); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
	case "png":
		if len(recs) == 0 {
			httputil.NotFound(w, "session has no poses")
			return
		}
		if err := report.WriteTrajectoryPNG(&buf, title, recs); err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
			return
		}
		w.Header().Set("Content-Type", "image/png")
	case "json":
		if recs == nil {
			recs = []db.PoseRecord{}
		}
		httputil.WriteJSONOK(w, recs)
		return
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown format %q", format))
		return
	}
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) listPIDRuns(w http.ResponseWriter, r *http.Request) {
	if !s.requireDB(w) {
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httputil.BadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "", "turn", "drive":
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown kind %q", kind))
		return
	}

	runs, err := s.opts.DB.PIDRuns(kind, limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if runs == nil {
		runs = []db.PIDRun{}
	}
	httputil.WriteJSONOK(w, runs)
}

type turnRequest struct {
	Heading float64           `json:"heading"`
	PID     *config.PIDConfig `json:"pid,omitempty"`
}

type driveRequest struct {
	Distance float64           `json:"distance"`
	PID      *config.PIDConfig `json:"pid,omitempty"`
	Hold     *config.PIDConfig `json:"hold_pid,omitempty"`
}

type moveResponse struct {
	Run   motion.Run `json:"run"`
	Error string     `json:"error,omitempty"`
}

func (s *Server) turn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cfg := s.opts.Config.GetTurnPID()
	if req.PID != nil {
		cfg = *req.PID
	}
	s.move(w, r, func() (motion.Run, error) {
		return s.opts.Motion.TurnToHeading(r.Context(), req.Heading, cfg)
	})
}

func (s *Server) drive(w http.ResponseWriter, r *http.Request) {
	var req driveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	drive, hold := s.opts.Config.GetDrivePID(), s.opts.Config.GetTurnPID()
	if req.PID != nil {
		drive = *req.PID
	}
	if req.Hold != nil {
		hold = *req.Hold
	}
	s.move(w, r, func() (motion.Run, error) {
		return s.opts.Motion.DriveDistance(r.Context(), req.Distance, drive, hold)
	})
}

// move runs fn unless another move holds the motors. The request context
// bounds the move, so a disconnected client stops the robot.
func (s *Server) move(w http.ResponseWriter, r *http.Request, fn func() (motion.Run, error)) {
	if s.opts.Motion == nil {
		httputil.ServiceUnavailable(w, "motion control disabled")
		return
	}
	if !s.moving.TryLock() {
		httputil.Conflict(w, "a move is already in progress")
		return
	}
	defer s.moving.Unlock()

	run, err := fn()
	switch {
	case err == nil:
		httputil.WriteJSONOK(w, moveResponse{Run: run})
	case errors.Is(err, pid.ErrInvalidOptions):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, motion.ErrTimeout):
		httputil.WriteJSON(w, http.StatusGatewayTimeout, moveResponse{Run: run, Error: err.Error()})
	case r.Context().Err() != nil:
		monitoring.Logf("api: move abandoned by client: %v", err)
	default:
		httputil.WriteJSON(w, http.StatusInternalServerError, moveResponse{Run: run, Error: err.Error()})
	}
}

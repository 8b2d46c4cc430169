// Package api serves the local operator surface: pose, stored sessions and
// PID runs as JSON, and trajectory charts.
package api

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/odometry/internal/config"
	"github.com/banshee-data/odometry/internal/db"
	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/motion"
	"github.com/banshee-data/odometry/internal/odometry"
)

// ANSI escape codes for request logs
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// PoseTracker is the part of odometry.Tracker the API reads and resets.
type PoseTracker interface {
	Position() odometry.Pose
	UpdatePosition(u odometry.PoseUpdate) (odometry.Pose, error)
	Running() bool
}

// Mover executes closed-loop moves.
type Mover interface {
	TurnToHeading(ctx context.Context, target float64, cfg config.PIDConfig) (motion.Run, error)
	DriveDistance(ctx context.Context, distance float64, drive, hold config.PIDConfig) (motion.Run, error)
}

var (
	_ PoseTracker = (*odometry.Tracker)(nil)
	_ Mover       = (*motion.Controller)(nil)
)

// Options configures a Server. Tracker and Config are required; a nil DB
// or Motion disables the routes that need them.
type Options struct {
	Tracker PoseTracker
	Motion  Mover
	DB      *db.DB
	Config  *config.RobotConfig
	// SessionID is the session being recorded, served as "current".
	SessionID string
}

type Server struct {
	opts Options

	// one move at a time
	moving sync.Mutex
}

func NewServer(opts Options) *Server {
	if opts.Config == nil {
		opts.Config = config.DefaultRobotConfig()
	}
	return &Server{opts: opts}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/pose", s.getPose)
	mux.HandleFunc("PUT /api/pose", s.putPose)
	mux.HandleFunc("GET /api/config", s.showConfig)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}", s.showSession)
	mux.HandleFunc("GET /api/sessions/{id}/trajectory", s.showTrajectory)
	mux.HandleFunc("GET /api/pid/runs", s.listPIDRuns)
	mux.HandleFunc("POST /api/motion/turn", s.turn)
	mux.HandleFunc("POST /api/motion/drive", s.drive)
	return mux
}

// AttachAdminRoutes adds live pose values to the tsweb debug index.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.KVFunc("Pose", func() any { return s.opts.Tracker.Position().String() })
	debug.KVFunc("Tracking", func() any { return s.opts.Tracker.Running() })
	if s.opts.SessionID != "" {
		debug.KV("Session", s.opts.SessionID)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

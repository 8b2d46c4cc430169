package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/odometry/internal/config"
	"github.com/banshee-data/odometry/internal/db"
	"github.com/banshee-data/odometry/internal/motion"
	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/pid"
)

type fakeTracker struct {
	mu      sync.Mutex
	pose    odometry.Pose
	setErr  error
	updates []odometry.PoseUpdate
}

func (f *fakeTracker) Position() odometry.Pose {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pose
}

func (f *fakeTracker) UpdatePosition(u odometry.PoseUpdate) (odometry.Pose, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	if f.setErr != nil {
		return f.pose, f.setErr
	}
	if u.X != nil {
		f.pose.X = *u.X
	}
	if u.Y != nil {
		f.pose.Y = *u.Y
	}
	if u.Heading != nil {
		f.pose.Heading = *u.Heading
	}
	return f.pose, nil
}

func (f *fakeTracker) Running() bool { return true }

type fakeMover struct {
	err     error
	block   chan struct{}
	turns   []float64
	drives  []float64
	lastCfg config.PIDConfig
}

func (f *fakeMover) TurnToHeading(ctx context.Context, target float64, cfg config.PIDConfig) (motion.Run, error) {
	if f.block != nil {
		<-f.block
	}
	f.turns = append(f.turns, target)
	f.lastCfg = cfg
	return motion.Run{Kind: "turn", Target: target, Settled: f.err == nil}, f.err
}

func (f *fakeMover) DriveDistance(ctx context.Context, distance float64, drive, hold config.PIDConfig) (motion.Run, error) {
	f.drives = append(f.drives, distance)
	f.lastCfg = drive
	return motion.Run{Kind: "drive", Target: distance, Settled: f.err == nil}, f.err
}

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, *fakeTracker, *fakeMover, *db.DB) {
	t.Helper()
	store, err := db.OpenDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	session, err := store.StartSession("sim", "", t0)
	require.NoError(t, err)

	tracker := &fakeTracker{}
	mover := &fakeMover{}
	srv := NewServer(Options{
		Tracker:   tracker,
		Motion:    mover,
		DB:        store,
		SessionID: session.ID,
	})
	return srv, tracker, mover, store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPose_GetAndPut(t *testing.T) {
	srv, tracker, _, _ := newTestServer(t)
	mux := srv.ServeMux()
	tracker.pose = odometry.Pose{X: 1, Y: 2, Heading: 30}

	w := do(t, mux, http.MethodGet, "/api/pose", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"x":1,"y":2,"heading":30,"running":true}`, w.Body.String())

	// omitted fields keep their value
	w = do(t, mux, http.MethodPut, "/api/pose", `{"heading": 90}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, odometry.Pose{X: 1, Y: 2, Heading: 90}, tracker.Position())
	// only the named field reaches the tracker, so a tick landing during
	// the request is not overwritten
	last := tracker.updates[len(tracker.updates)-1]
	assert.Nil(t, last.X)
	assert.Nil(t, last.Y)
	require.NotNil(t, last.Heading)
	assert.Equal(t, 90.0, *last.Heading)

	w = do(t, mux, http.MethodPut, "/api/pose", `{"x": 0, "y": 0, "heading": 0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, odometry.Pose{}, tracker.Position())
}

func TestPose_PutErrors(t *testing.T) {
	srv, tracker, _, _ := newTestServer(t)
	mux := srv.ServeMux()

	w := do(t, mux, http.MethodPut, "/api/pose", `{"x": "far"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, mux, http.MethodPut, "/api/pose", `{"z": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, tracker.updates)

	tracker.setErr = errors.New("no telemetry")
	w = do(t, mux, http.MethodPut, "/api/pose", `{"x": 5}`)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, odometry.Pose{}, tracker.Position())

	w = do(t, mux, http.MethodPost, "/api/pose", `{}`)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSessions(t *testing.T) {
	srv, _, _, store := newTestServer(t)
	mux := srv.ServeMux()
	recs := []db.PoseRecord{
		{Seq: 0, Recorded: t0, Pose: odometry.Pose{}},
		{Seq: 10, Recorded: t0.Add(time.Second), Pose: odometry.Pose{Y: 3}},
		{Seq: 20, Recorded: t0.Add(2 * time.Second), Pose: odometry.Pose{X: 4, Y: 3, Heading: 90}},
	}
	require.NoError(t, store.RecordPoses(srv.opts.SessionID, recs))

	w := do(t, mux, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var sessions []db.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, 3, sessions[0].Poses)

	w = do(t, mux, http.MethodGet, "/api/sessions/current", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail struct {
		ID    string `json:"id"`
		Stats struct {
			PathLength float64 `json:"path_length"`
			Poses      int     `json:"poses"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &detail))
	assert.Equal(t, srv.opts.SessionID, detail.ID)
	assert.InDelta(t, 7, detail.Stats.PathLength, 1e-9)
	assert.Equal(t, 3, detail.Stats.Poses)

	w = do(t, mux, http.MethodGet, "/api/sessions/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrajectoryFormats(t *testing.T) {
	srv, _, _, store := newTestServer(t)
	mux := srv.ServeMux()
	id := srv.opts.SessionID
	require.NoError(t, store.RecordPoses(id, []db.PoseRecord{
		{Seq: 0, Recorded: t0},
		{Seq: 1, Recorded: t0, Pose: odometry.Pose{X: 1, Y: 1}},
	}))

	w := do(t, mux, http.MethodGet, "/api/sessions/"+id+"/trajectory", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "echarts")

	w = do(t, mux, http.MethodGet, "/api/sessions/"+id+"/trajectory?format=png", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	_, err := png.Decode(bytes.NewReader(w.Body.Bytes()))
	assert.NoError(t, err)

	w = do(t, mux, http.MethodGet, "/api/sessions/"+id+"/trajectory?format=json", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []db.PoseRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	w = do(t, mux, http.MethodGet, "/api/sessions/"+id+"/trajectory?format=svg", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTrajectory_EmptySessionPNG(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	w := do(t, srv.ServeMux(), http.MethodGet, "/api/sessions/current/trajectory?format=png", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPIDRuns(t *testing.T) {
	srv, _, _, store := newTestServer(t)
	mux := srv.ServeMux()
	for i, kind := range []string{"turn", "drive", "turn"} {
		_, err := store.RecordPIDRun(srv.opts.SessionID, motion.Run{
			Kind:    kind,
			Target:  float64(i),
			Gains:   pid.Gains{Kp: 1},
			Started: t0.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	w := do(t, mux, http.MethodGet, "/api/pid/runs?kind=turn", "")
	require.Equal(t, http.StatusOK, w.Code)
	var runs []db.PIDRun
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	require.Len(t, runs, 2)
	assert.Equal(t, 2.0, runs[0].Target)

	w = do(t, mux, http.MethodGet, "/api/pid/runs?limit=1", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/pid/runs?limit=-1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/pid/runs?kind=strafe", "").Code)
}

func TestStorageDisabled(t *testing.T) {
	srv := NewServer(Options{Tracker: &fakeTracker{}})
	mux := srv.ServeMux()
	for _, path := range []string{"/api/sessions", "/api/sessions/current", "/api/pid/runs"} {
		assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodGet, path, "").Code, path)
	}
	assert.Equal(t, http.StatusServiceUnavailable, do(t, mux, http.MethodPost, "/api/motion/turn", `{"heading": 1}`).Code)

	w := do(t, mux, http.MethodGet, "/api/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"tick_period":"10ms"`)
}

func TestMotion(t *testing.T) {
	srv, _, mover, _ := newTestServer(t)
	mux := srv.ServeMux()

	w := do(t, mux, http.MethodPost, "/api/motion/turn", `{"heading": 90}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []float64{90}, mover.turns)
	assert.Equal(t, config.DefaultTurnPID(), mover.lastCfg)
	assert.Contains(t, w.Body.String(), `"settled":true`)

	w = do(t, mux, http.MethodPost, "/api/motion/drive", `{"distance": -12, "pid": {"kp": 2, "output_min": -6, "output_max": 6}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []float64{-12}, mover.drives)
	assert.Equal(t, 2.0, mover.lastCfg.Kp)

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/api/motion/turn", `{"heading": "north"}`).Code)
}

func TestMotion_Errors(t *testing.T) {
	srv, _, mover, _ := newTestServer(t)
	mux := srv.ServeMux()

	mover.err = motion.ErrTimeout
	w := do(t, mux, http.MethodPost, "/api/motion/turn", `{"heading": 45}`)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Contains(t, w.Body.String(), `"settled":false`)

	mover.err = pid.ErrInvalidOptions
	w = do(t, mux, http.MethodPost, "/api/motion/drive", `{"distance": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	mover.err = errors.New("serial write failed")
	w = do(t, mux, http.MethodPost, "/api/motion/drive", `{"distance": 1}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "serial write failed")
}

func TestMotion_OneAtATime(t *testing.T) {
	srv, _, mover, _ := newTestServer(t)
	mux := srv.ServeMux()
	mover.block = make(chan struct{})

	first := make(chan int)
	go func() {
		first <- do(t, mux, http.MethodPost, "/api/motion/turn", `{"heading": 10}`).Code
	}()

	require.Eventually(t, func() bool {
		if srv.moving.TryLock() {
			srv.moving.Unlock()
			return false
		}
		return true
	}, time.Second, time.Millisecond)

	w := do(t, mux, http.MethodPost, "/api/motion/drive", `{"distance": 1}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	close(mover.block)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestAttachAdminRoutes(t *testing.T) {
	srv, tracker, _, _ := newTestServer(t)
	tracker.pose = odometry.Pose{X: 1.5, Y: -2, Heading: 45}
	mux := http.NewServeMux()
	srv.AttachAdminRoutes(mux)

	w := do(t, mux, http.MethodGet, "/debug/", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Pose")
	assert.Contains(t, w.Body.String(), srv.opts.SessionID)
}

func TestLoggingMiddleware(t *testing.T) {
	var logged []string
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	restore := captureLogs(&logged)
	defer restore()

	w := do(t, h, http.MethodGet, "/api/pose?x=1", "")
	assert.Equal(t, http.StatusTeapot, w.Code)
	require.Len(t, logged, 1)
	assert.Contains(t, logged[0], "418")
	assert.Contains(t, logged[0], "/api/pose?x=1")
}

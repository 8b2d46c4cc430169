// Command plot-trajectory renders a recorded session as a PNG plot and,
// optionally, an interactive HTML chart. Poses come from the sqlite
// database or from a running service's API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/odometry/internal/db"
	"github.com/banshee-data/odometry/internal/httputil"
	"github.com/banshee-data/odometry/internal/report"
	"github.com/banshee-data/odometry/internal/security"
)

var (
	dbPath    = flag.String("db", "odometry.db", "sqlite database path")
	serverURL = flag.String("url", "", "Fetch from a running service (e.g. http://robot:8080) instead of -db")
	sessionID = flag.String("session", "", "Session ID (default: most recent)")
	outPNG    = flag.String("out", "", "PNG output path (default: trajectory-<session>.png)")
	outHTML   = flag.String("html", "", "Also write an HTML chart to this path")
)

// trajectory is what the tool needs from either source.
type trajectory struct {
	Session db.Session
	Poses   []db.PoseRecord
}

func fromDB(path, id string) (*trajectory, error) {
	store, err := db.OpenDB(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	if id == "" {
		sessions, err := store.Sessions()
		if err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, errors.New("database has no sessions")
		}
		id = sessions[0].ID
	}
	session, err := store.Session(id)
	if err != nil {
		return nil, err
	}
	poses, err := store.Trajectory(session.ID)
	if err != nil {
		return nil, err
	}
	return &trajectory{Session: *session, Poses: poses}, nil
}

func fromAPI(ctx context.Context, c httputil.HTTPClient, base, id string) (*trajectory, error) {
	base = strings.TrimRight(base, "/")
	if id == "" {
		var sessions []db.Session
		if err := httputil.GetJSON(ctx, c, base+"/api/sessions", &sessions); err != nil {
			return nil, err
		}
		if len(sessions) == 0 {
			return nil, errors.New("service has no sessions")
		}
		id = sessions[0].ID
	}

	var t trajectory
	if err := httputil.GetJSON(ctx, c, base+"/api/sessions/"+id, &t.Session); err != nil {
		return nil, err
	}
	if err := httputil.GetJSON(ctx, c, base+"/api/sessions/"+id+"/trajectory?format=json", &t.Poses); err != nil {
		return nil, err
	}
	return &t, nil
}

// outputPaths picks the PNG path and checks both outputs stay within the
// working or temp directory.
func outputPaths(png, html, sessionID string) (string, error) {
	if png == "" {
		png = fmt.Sprintf("trajectory-%s.png", security.SafeFilename(sessionID))
	}
	for _, path := range []string{png, html} {
		if path == "" {
			continue
		}
		if err := security.CheckOutputPath(path); err != nil {
			return "", err
		}
	}
	return png, nil
}

func main() {
	flag.Parse()

	var (
		t   *trajectory
		err error
	)
	if *serverURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		t, err = fromAPI(ctx, &http.Client{}, *serverURL, *sessionID)
	} else {
		t, err = fromDB(*dbPath, *sessionID)
	}
	if err != nil {
		log.Fatalf("failed to load trajectory: %v", err)
	}

	stats := report.Summarize(t.Poses)
	fmt.Printf("session %s (%s): %d poses over %s, path %.2f, net %.2f, rotation %.1f°\n",
		t.Session.ID, t.Session.Source, stats.Poses, stats.Duration, stats.PathLength, stats.NetDisplacement, stats.TotalRotation)

	title := fmt.Sprintf("Session %s", t.Session.ID)
	png, err := outputPaths(*outPNG, *outHTML, t.Session.ID)
	if err != nil {
		log.Fatalf("refusing to write: %v", err)
	}
	if err := report.SaveTrajectoryPNG(png, title, t.Poses); err != nil {
		log.Fatalf("failed to save plot: %v", err)
	}
	log.Printf("wrote %s", png)

	if *outHTML != "" {
		f, err := os.Create(*outHTML)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *outHTML, err)
		}
		if err := report.RenderTrajectoryHTML(f, title, t.Poses); err != nil {
			f.Close()
			log.Fatalf("failed to render chart: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("failed to write %s: %v", *outHTML, err)
		}
		log.Printf("wrote %s", *outHTML)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/odometry/internal/api"
	"github.com/banshee-data/odometry/internal/config"
	"github.com/banshee-data/odometry/internal/db"
	"github.com/banshee-data/odometry/internal/motion"
	"github.com/banshee-data/odometry/internal/odometry"
	"github.com/banshee-data/odometry/internal/report"
	"github.com/banshee-data/odometry/internal/sensors"
	"github.com/banshee-data/odometry/internal/serialmux"
	"github.com/banshee-data/odometry/internal/sim"
	"github.com/banshee-data/odometry/internal/timeutil"
	"github.com/banshee-data/odometry/internal/version"
)

// readyTimeout bounds the wait for the first telemetry line.
const readyTimeout = 5 * time.Second

type serviceOptions struct {
	Dev  bool
	Note string
	// Listener, when set, replaces listening on the configured address.
	Listener net.Listener
}

// service owns every long-running component of the binary.
type service struct {
	cfg  *config.RobotConfig
	opts serviceOptions

	serial    serialmux.Mux
	telemetry *sensors.Telemetry
	canWheels *sensors.CANWheels
	canBus    *sensors.CANBus
	robot     *sim.Robot

	store   *db.DB
	session *db.Session
	poseLog *db.PoseLogger

	tracker *odometry.Tracker
	motors  *sensors.SerialMotors
	motion  *motion.Controller

	mux *http.ServeMux
}

func newService(ctx context.Context, cfg *config.RobotConfig, opts serviceOptions) (svc *service, err error) {
	clk := timeutil.RealClock{}
	cal := odometry.CalibrationFromConfig(cfg)
	if err := cal.Validate(); err != nil {
		return nil, err
	}

	s := &service{cfg: cfg, opts: opts}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	if opts.Dev {
		s.robot = sim.NewRobot(sim.ParamsFromCalibration(cal))
		s.serial = serialmux.NewSerialMux(sim.NewPort(s.robot, clk, cal.TickPeriod))
		log.Printf("dev mode: simulated robot")
	} else {
		m, err := serialmux.NewRealSerialMux(cfg.GetSerialPort(), serialmux.PortOptions{BaudRate: cfg.GetBaudRate()})
		if err != nil {
			return nil, err
		}
		s.serial = m
		log.Printf("opened serial port %s", cfg.GetSerialPort())
	}
	s.telemetry = sensors.NewTelemetry(clk, cfg.GetStaleAfter())

	vertical, horizontal := s.telemetry.VerticalWheel(), s.telemetry.HorizontalWheel()
	source := cfg.GetSensorSource()
	if opts.Dev {
		source = "sim"
	} else if source == config.SensorCAN {
		s.canWheels = sensors.NewCANWheels(cfg.GetCANVerticalID(), cfg.GetCANHorizontalID(), clk, cfg.GetStaleAfter())
		s.canBus, err = sensors.OpenCANBus(ctx, cfg.GetCANInterface())
		if err != nil {
			return nil, err
		}
		vertical, horizontal = s.canWheels.VerticalWheel(), s.canWheels.HorizontalWheel()
		log.Printf("tracking wheels on %s (vertical %#x, horizontal %#x)",
			cfg.GetCANInterface(), cfg.GetCANVerticalID(), cfg.GetCANHorizontalID())
	}

	trackerOpts := []odometry.TrackerOption{
		odometry.WithClock(clk),
		odometry.WithMaxSensorFailures(cfg.GetMaxSensorFailures()),
	}
	if s.canWheels == nil {
		// wheels and rotation share one telemetry line
		trackerOpts = append(trackerOpts, odometry.WithSnapshot(s.telemetry))
	}
	if path := cfg.GetDBPath(); path != "none" {
		s.store, err = db.OpenDB(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		s.session, err = s.store.StartSession(source, opts.Note, clk.Now())
		if err != nil {
			return nil, err
		}
		s.poseLog = db.NewPoseLogger(s.store, s.session.ID, cfg.GetPoseLogEvery(), clk)
		trackerOpts = append(trackerOpts, odometry.WithObserver(s.poseLog.Observe))
		log.Printf("recording session %s to %s", s.session.ID, path)
	}

	s.tracker, err = odometry.NewTracker(vertical, horizontal, s.telemetry, cal, trackerOpts...)
	if err != nil {
		return nil, err
	}

	s.motors = sensors.NewSerialMotors(s.serial)
	s.motion = motion.NewController(s.tracker, s.motors, clk)
	s.motion.Timeout = cfg.GetMotionTimeout()
	s.motion.OnRun = s.recordRun

	s.mux = s.routes()
	return s, nil
}

func (s *service) recordRun(run motion.Run) {
	if s.store == nil {
		return
	}
	if _, err := s.store.RecordPIDRun(s.session.ID, run); err != nil {
		log.Printf("failed to record pid run: %v", err)
	}
}

func (s *service) routes() *http.ServeMux {
	apiOpts := api.Options{
		Tracker: s.tracker,
		Motion:  s.motion,
		DB:      s.store,
		Config:  s.cfg,
	}
	if s.session != nil {
		apiOpts.SessionID = s.session.ID
	}
	srv := api.NewServer(apiOpts)
	mux := srv.ServeMux()

	srv.AttachAdminRoutes(mux)
	s.serial.AttachAdminRoutes(mux)
	if s.store != nil {
		if err := s.store.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach db admin routes: %v", err)
		}
	}

	debug := tsweb.Debugger(mux)
	debug.KV("Version", version.String())
	debug.KVFunc("Telemetry", func() any {
		malformed, restarts := s.telemetry.Stats()
		return fmt.Sprintf("malformed=%d restarts=%d", malformed, restarts)
	})
	if s.poseLog != nil {
		debug.KVFunc("Pose log", func() any { return s.poseLog.Stats() })
	}
	if s.canWheels != nil {
		debug.KVFunc("CAN frames", func() any {
			frames, ignored := s.canWheels.Stats()
			return fmt.Sprintf("frames=%d ignored=%d", frames, ignored)
		})
	}
	if s.robot != nil {
		debug.KVFunc("Sim drift", func() any {
			_, worst := report.Drift([]odometry.Pose{s.tracker.Position()}, []odometry.Pose{s.robot.Truth()})
			return fmt.Sprintf("%.4f", worst)
		})
	}
	return mux
}

// Run starts every component and blocks until ctx is done, then shuts them
// down. A tracker halt is logged and leaves the API serving the last pose.
func (s *service) Run(ctx context.Context) error {
	defer s.close()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.serial.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.telemetry.Consume(ctx, s.serial); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("telemetry routine stopped: %v", err)
		}
	}()

	if s.canBus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.canWheels.RunBus(ctx, s.canBus); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("CAN routine stopped: %v", err)
			}
		}()
	}

	if s.poseLog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.poseLog.Run(ctx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		readyCtx, cancelReady := context.WithTimeout(ctx, readyTimeout)
		err := s.telemetry.WaitReady(readyCtx, 10*time.Millisecond)
		cancelReady()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("no telemetry after %s, starting tracker anyway", readyTimeout)
			} else {
				return
			}
		}
		err = <-s.tracker.Start(ctx)
		switch {
		case errors.Is(err, odometry.ErrSensorUnavailable):
			log.Printf("odometry halted: %v", err)
			if stopErr := s.motors.Stop(); stopErr != nil {
				log.Printf("failed to stop motors: %v", stopErr)
			}
		case err != nil && !errors.Is(err, context.Canceled):
			log.Printf("odometry loop error: %v", err)
		}
		log.Printf("odometry stopped at %s", s.tracker.Position())
	}()

	// HTTP server goroutine
	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		server := &http.Server{
			Addr:    s.cfg.GetListenAddr(),
			Handler: api.LoggingMiddleware(s.mux),
		}

		go func() {
			var err error
			if s.opts.Listener != nil {
				err = server.Serve(s.opts.Listener)
			} else {
				log.Printf("listening on %s", server.Addr)
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
				cancel()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancelShutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	<-ctx.Done()
	if err := s.motors.Stop(); err != nil {
		log.Printf("failed to stop motors: %v", err)
	}
	// closing the port unblocks the monitor's pending read
	if err := s.serial.Close(); err != nil {
		log.Printf("failed to close serial port: %v", err)
	}
	wg.Wait()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// close releases storage and the CAN socket. Safe to call more than once.
func (s *service) close() {
	if s.canBus != nil {
		s.canBus.Close()
		s.canBus = nil
	}
	if s.store != nil {
		if s.session != nil {
			if err := s.store.EndSession(s.session.ID, time.Now()); err != nil {
				log.Printf("failed to end session: %v", err)
			}
		}
		if err := s.store.Close(); err != nil {
			log.Printf("failed to close database: %v", err)
		}
		s.store = nil
	}
	if s.serial != nil {
		s.serial.Close()
	}
}

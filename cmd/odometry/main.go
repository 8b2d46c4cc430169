package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/odometry/internal/config"
	"github.com/banshee-data/odometry/internal/monitoring"
	"github.com/banshee-data/odometry/internal/version"
)

var (
	configPath = flag.String("config", config.DefaultConfigPath, "Robot config JSON file")
	devMode    = flag.Bool("dev", false, "Run against a simulated robot instead of the serial port")
	port       = flag.String("port", "", "Serial port to use (overrides config; ignored in dev mode)")
	listen     = flag.String("listen", "", "Listen address (overrides config)")
	dbPath     = flag.String("db", "", "sqlite database path (overrides config); \"none\" disables storage")
	canIface   = flag.String("can", "", "Read tracking wheels from this SocketCAN interface")
	note       = flag.String("note", "", "Free-text note stored with the recording session")
	debug      = flag.Bool("debug", false, "Log per-tick diagnostics")
	showVer    = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults; a missing explicit file is an error.
func loadConfig(path string, explicit bool) (*config.RobotConfig, error) {
	cfg, err := config.LoadRobotConfig(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		log.Printf("config %s not found, using defaults", path)
		return config.DefaultRobotConfig(), nil
	}
	return nil, err
}

// applyFlags overrides config values with any flags given on the command
// line.
func applyFlags(cfg *config.RobotConfig) {
	if *port != "" {
		cfg.SerialPort = port
	}
	if *listen != "" {
		cfg.ListenAddr = listen
	}
	if *dbPath != "" {
		cfg.DBPath = dbPath
	}
	if *canIface != "" {
		source := config.SensorCAN
		cfg.SensorSource = &source
		cfg.CANInterface = canIface
	}
}

func main() {
	flag.Parse()
	if *showVer {
		fmt.Println("odometry", version.String())
		return
	}
	monitoring.SetDebug(*debug)
	log.Printf("odometry %s", version.String())

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := loadConfig(*configPath, explicit)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := newService(ctx, cfg, serviceOptions{Dev: *devMode, Note: *note})
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("service error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical robot defaults file.
const DefaultConfigPath = "config/robot.defaults.json"

// RobotConfig is the root configuration for a single robot: tracking wheel
// geometry, loop timing, sensor policy, storage and controller gains.
// Pointer fields distinguish "unset" from zero so partial files fall back to
// the Get* defaults.
type RobotConfig struct {
	// Odometry calibration
	TickPeriod               *string  `json:"tick_period,omitempty"` // duration string like "10ms"
	VerticalOffset           *float64 `json:"vertical_offset,omitempty"`
	HorizontalOffset         *float64 `json:"horizontal_offset,omitempty"`
	VerticalUnitsPerDegree   *float64 `json:"vertical_units_per_degree,omitempty"`
	HorizontalUnitsPerDegree *float64 `json:"horizontal_units_per_degree,omitempty"`

	// Sensor policy
	StaleAfter        *string `json:"stale_after,omitempty"` // duration string like "100ms"
	MaxSensorFailures *int    `json:"max_sensor_failures,omitempty"`

	// Tracking wheel source: "serial" telemetry or "can" frames. Heading
	// always comes from serial telemetry.
	SensorSource *string `json:"sensor_source,omitempty"`

	// Serial link to the robot brain
	SerialPort *string `json:"serial_port,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// SocketCAN tracking wheel frames
	CANInterface    *string `json:"can_interface,omitempty"`
	CANVerticalID   *int    `json:"can_vertical_id,omitempty"`
	CANHorizontalID *int    `json:"can_horizontal_id,omitempty"`

	// Storage and HTTP surface
	DBPath     *string `json:"db_path,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`

	// Pose log: record every Nth integrated pose (0 disables)
	PoseLogEvery *int `json:"pose_log_every,omitempty"`

	// Longest a single turn or drive may take before it is abandoned
	MotionTimeout *string `json:"motion_timeout,omitempty"`

	// Controllers (optional)
	DrivePID *PIDConfig `json:"drive_pid,omitempty"`
	TurnPID  *PIDConfig `json:"turn_pid,omitempty"`
}

// PIDConfig holds the gains and tolerances for one PID controller.
type PIDConfig struct {
	Kp                float64 `json:"kp"`
	Ki                float64 `json:"ki"`
	Kd                float64 `json:"kd"`
	IntegralTolerance float64 `json:"integral_tolerance"`
	SettleTolerance   float64 `json:"settle_tolerance"`
	SettleTime        string  `json:"settle_time"` // duration string like "300ms"
	OutputMin         float64 `json:"output_min"`
	OutputMax         float64 `json:"output_max"`
	Tick              string  `json:"tick,omitempty"` // defaults to 10ms
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyRobotConfig returns a config with every field unset.
func EmptyRobotConfig() *RobotConfig {
	return &RobotConfig{}
}

// DefaultRobotConfig returns a config with every field populated with its
// default value. The values mirror DefaultConfigPath.
func DefaultRobotConfig() *RobotConfig {
	drive := DefaultDrivePID()
	turn := DefaultTurnPID()
	return &RobotConfig{
		TickPeriod:               ptrString("10ms"),
		VerticalOffset:           ptrFloat64(defaultVerticalOffset),
		HorizontalOffset:         ptrFloat64(defaultHorizontalOffset),
		VerticalUnitsPerDegree:   ptrFloat64(defaultUnitsPerDegree),
		HorizontalUnitsPerDegree: ptrFloat64(defaultUnitsPerDegree),
		StaleAfter:               ptrString("100ms"),
		MaxSensorFailures:        ptrInt(50),
		SensorSource:             ptrString(SensorSerial),
		SerialPort:               ptrString("/dev/ttyACM0"),
		BaudRate:                 ptrInt(115200),
		CANInterface:             ptrString("can0"),
		CANVerticalID:            ptrInt(defaultCANVerticalID),
		CANHorizontalID:          ptrInt(defaultCANHorizontalID),
		DBPath:                   ptrString("odometry.db"),
		ListenAddr:               ptrString(":8080"),
		PoseLogEvery:             ptrInt(10),
		MotionTimeout:            ptrString("10s"),
		DrivePID:                 &drive,
		TurnPID:                  &turn,
	}
}

// Sensor sources.
const (
	SensorSerial = "serial"
	SensorCAN    = "can"
)

const (
	defaultCANVerticalID   = 0x181
	defaultCANHorizontalID = 0x182
)

const (
	defaultVerticalOffset   = 0.25
	defaultHorizontalOffset = -2.5
	// 2.75" tracking wheel: pi * 2.75 / 360 inches per degree
	defaultUnitsPerDegree = 0.02399827721492203
)

// DefaultDrivePID returns the default linear drive controller, in inches
// of error and volts of output.
func DefaultDrivePID() PIDConfig {
	return PIDConfig{
		Kp:                1.5,
		Ki:                0,
		Kd:                10,
		IntegralTolerance: 0,
		SettleTolerance:   1.5,
		SettleTime:        "300ms",
		OutputMin:         -12,
		OutputMax:         12,
		Tick:              "10ms",
	}
}

// DefaultTurnPID returns the default heading controller, in degrees of
// error and volts of output.
func DefaultTurnPID() PIDConfig {
	return PIDConfig{
		Kp:                0.4,
		Ki:                0.03,
		Kd:                3,
		IntegralTolerance: 15,
		SettleTolerance:   1,
		SettleTime:        "300ms",
		OutputMin:         -12,
		OutputMax:         12,
		Tick:              "10ms",
	}
}

// LoadRobotConfig loads a RobotConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadRobotConfig(path string) (*RobotConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyRobotConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical robot defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *RobotConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from cmd/tools/*/
	}
	for _, path := range candidates {
		if cfg, err := LoadRobotConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *RobotConfig) Validate() error {
	if c.TickPeriod != nil && *c.TickPeriod != "" {
		d, err := time.ParseDuration(*c.TickPeriod)
		if err != nil {
			return fmt.Errorf("invalid tick_period '%s': %w", *c.TickPeriod, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_period must be positive, got %s", d)
		}
	}

	if c.StaleAfter != nil && *c.StaleAfter != "" {
		d, err := time.ParseDuration(*c.StaleAfter)
		if err != nil {
			return fmt.Errorf("invalid stale_after '%s': %w", *c.StaleAfter, err)
		}
		if d < 0 {
			return fmt.Errorf("stale_after must be non-negative, got %s", d)
		}
	}

	for name, v := range map[string]*float64{
		"vertical_units_per_degree":   c.VerticalUnitsPerDegree,
		"horizontal_units_per_degree": c.HorizontalUnitsPerDegree,
	} {
		if v != nil && (*v == 0 || math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return fmt.Errorf("%s must be a finite non-zero number, got %f", name, *v)
		}
	}

	if c.MaxSensorFailures != nil && *c.MaxSensorFailures < 0 {
		return fmt.Errorf("max_sensor_failures must be non-negative, got %d", *c.MaxSensorFailures)
	}
	if c.PoseLogEvery != nil && *c.PoseLogEvery < 0 {
		return fmt.Errorf("pose_log_every must be non-negative, got %d", *c.PoseLogEvery)
	}
	if c.BaudRate != nil && *c.BaudRate < 0 {
		return fmt.Errorf("baud_rate must be non-negative, got %d", *c.BaudRate)
	}
	if c.SensorSource != nil {
		switch *c.SensorSource {
		case "", SensorSerial, SensorCAN:
		default:
			return fmt.Errorf("sensor_source must be %q or %q, got %q", SensorSerial, SensorCAN, *c.SensorSource)
		}
	}
	for name, v := range map[string]*int{
		"can_vertical_id":   c.CANVerticalID,
		"can_horizontal_id": c.CANHorizontalID,
	} {
		// standard 11-bit or extended 29-bit identifiers
		if v != nil && (*v < 0 || *v > 0x1FFFFFFF) {
			return fmt.Errorf("%s out of range: %#x", name, *v)
		}
	}
	if c.CANVerticalID != nil && c.CANHorizontalID != nil && *c.CANVerticalID == *c.CANHorizontalID {
		return fmt.Errorf("can_vertical_id and can_horizontal_id must differ")
	}
	if c.MotionTimeout != nil && *c.MotionTimeout != "" {
		d, err := time.ParseDuration(*c.MotionTimeout)
		if err != nil {
			return fmt.Errorf("invalid motion_timeout '%s': %w", *c.MotionTimeout, err)
		}
		if d < 0 {
			return fmt.Errorf("motion_timeout must be non-negative, got %s", d)
		}
	}

	if c.DrivePID != nil {
		if err := c.DrivePID.Validate(); err != nil {
			return fmt.Errorf("drive_pid: %w", err)
		}
	}
	if c.TurnPID != nil {
		if err := c.TurnPID.Validate(); err != nil {
			return fmt.Errorf("turn_pid: %w", err)
		}
	}

	return nil
}

// Validate checks the controller limits and durations.
func (p PIDConfig) Validate() error {
	if p.OutputMin > p.OutputMax {
		return fmt.Errorf("output_min %f exceeds output_max %f", p.OutputMin, p.OutputMax)
	}
	if p.IntegralTolerance < 0 || p.SettleTolerance < 0 {
		return fmt.Errorf("tolerances must be non-negative")
	}
	if p.SettleTime != "" {
		if _, err := time.ParseDuration(p.SettleTime); err != nil {
			return fmt.Errorf("invalid settle_time '%s': %w", p.SettleTime, err)
		}
	}
	if p.Tick != "" {
		d, err := time.ParseDuration(p.Tick)
		if err != nil {
			return fmt.Errorf("invalid tick '%s': %w", p.Tick, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick must be positive, got %s", d)
		}
	}
	return nil
}

// GetSettleTime parses SettleTime, returning 0 when unset or malformed.
func (p PIDConfig) GetSettleTime() time.Duration {
	d, err := time.ParseDuration(p.SettleTime)
	if err != nil {
		return 0
	}
	return d
}

// GetTick parses Tick, returning 10ms when unset or malformed.
func (p PIDConfig) GetTick() time.Duration {
	if p.Tick == "" {
		return 10 * time.Millisecond
	}
	d, err := time.ParseDuration(p.Tick)
	if err != nil || d <= 0 {
		return 10 * time.Millisecond
	}
	return d
}

// parseDurationOr parses an optional duration string, returning def when the
// string is unset or malformed.
func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetTickPeriod returns the odometry tick period.
func (c *RobotConfig) GetTickPeriod() time.Duration {
	return parseDurationOr(c.TickPeriod, 10*time.Millisecond)
}

// GetStaleAfter returns how old the newest telemetry may be before readers
// report it as stale.
func (c *RobotConfig) GetStaleAfter() time.Duration {
	return parseDurationOr(c.StaleAfter, 100*time.Millisecond)
}

// GetVerticalOffset returns the vertical wheel offset from the tracking center.
func (c *RobotConfig) GetVerticalOffset() float64 {
	if c.VerticalOffset == nil {
		return defaultVerticalOffset
	}
	return *c.VerticalOffset
}

// GetHorizontalOffset returns the horizontal wheel offset from the tracking center.
func (c *RobotConfig) GetHorizontalOffset() float64 {
	if c.HorizontalOffset == nil {
		return defaultHorizontalOffset
	}
	return *c.HorizontalOffset
}

// GetVerticalUnitsPerDegree returns the vertical wheel travel per degree.
func (c *RobotConfig) GetVerticalUnitsPerDegree() float64 {
	if c.VerticalUnitsPerDegree == nil {
		return defaultUnitsPerDegree
	}
	return *c.VerticalUnitsPerDegree
}

// GetHorizontalUnitsPerDegree returns the horizontal wheel travel per degree.
func (c *RobotConfig) GetHorizontalUnitsPerDegree() float64 {
	if c.HorizontalUnitsPerDegree == nil {
		return defaultUnitsPerDegree
	}
	return *c.HorizontalUnitsPerDegree
}

// GetMaxSensorFailures returns the consecutive failure budget before the
// odometry loop halts. Zero means never halt.
func (c *RobotConfig) GetMaxSensorFailures() int {
	if c.MaxSensorFailures == nil {
		return 50
	}
	return *c.MaxSensorFailures
}

// GetSerialPort returns the serial device path.
func (c *RobotConfig) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return "/dev/ttyACM0"
	}
	return *c.SerialPort
}

// GetBaudRate returns the serial baud rate.
func (c *RobotConfig) GetBaudRate() int {
	if c.BaudRate == nil || *c.BaudRate == 0 {
		return 115200
	}
	return *c.BaudRate
}

// GetSensorSource returns where tracking wheel readings come from.
func (c *RobotConfig) GetSensorSource() string {
	if c.SensorSource == nil || *c.SensorSource == "" {
		return SensorSerial
	}
	return *c.SensorSource
}

// GetCANInterface returns the SocketCAN interface name.
func (c *RobotConfig) GetCANInterface() string {
	if c.CANInterface == nil || *c.CANInterface == "" {
		return "can0"
	}
	return *c.CANInterface
}

// GetCANVerticalID returns the frame ID carrying the vertical wheel.
func (c *RobotConfig) GetCANVerticalID() uint32 {
	if c.CANVerticalID == nil {
		return defaultCANVerticalID
	}
	return uint32(*c.CANVerticalID)
}

// GetCANHorizontalID returns the frame ID carrying the horizontal wheel.
func (c *RobotConfig) GetCANHorizontalID() uint32 {
	if c.CANHorizontalID == nil {
		return defaultCANHorizontalID
	}
	return uint32(*c.CANHorizontalID)
}

// GetDBPath returns the sqlite database path.
func (c *RobotConfig) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return "odometry.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the HTTP listen address.
func (c *RobotConfig) GetListenAddr() string {
	if c.ListenAddr == nil || *c.ListenAddr == "" {
		return ":8080"
	}
	return *c.ListenAddr
}

// GetMotionTimeout returns the per-move time limit. Zero means no limit.
func (c *RobotConfig) GetMotionTimeout() time.Duration {
	return parseDurationOr(c.MotionTimeout, 10*time.Second)
}

// GetPoseLogEvery returns the pose log decimation factor.
func (c *RobotConfig) GetPoseLogEvery() int {
	if c.PoseLogEvery == nil {
		return 10
	}
	return *c.PoseLogEvery
}

// GetDrivePID returns the drive controller config or the default.
func (c *RobotConfig) GetDrivePID() PIDConfig {
	if c.DrivePID == nil {
		return DefaultDrivePID()
	}
	return *c.DrivePID
}

// GetTurnPID returns the turn controller config or the default.
func (c *RobotConfig) GetTurnPID() PIDConfig {
	if c.TurnPID == nil {
		return DefaultTurnPID()
	}
	return *c.TurnPID
}

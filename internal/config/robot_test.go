package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultRobotConfig(t *testing.T) {
	cfg := DefaultRobotConfig()

	if cfg.TickPeriod == nil || *cfg.TickPeriod != "10ms" {
		t.Errorf("Expected TickPeriod '10ms', got %v", cfg.TickPeriod)
	}
	if cfg.GetTickPeriod() != 10*time.Millisecond {
		t.Errorf("GetTickPeriod() = %v, want 10ms", cfg.GetTickPeriod())
	}
	if cfg.GetStaleAfter() != 100*time.Millisecond {
		t.Errorf("GetStaleAfter() = %v, want 100ms", cfg.GetStaleAfter())
	}
	if cfg.GetMaxSensorFailures() != 50 {
		t.Errorf("GetMaxSensorFailures() = %d, want 50", cfg.GetMaxSensorFailures())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultRobotConfig().Validate() = %v", err)
	}
}

func TestEmptyConfigFallsBackToDefaults(t *testing.T) {
	empty := EmptyRobotConfig()
	def := DefaultRobotConfig()

	if empty.GetTickPeriod() != def.GetTickPeriod() {
		t.Errorf("GetTickPeriod() = %v, want %v", empty.GetTickPeriod(), def.GetTickPeriod())
	}
	if empty.GetVerticalOffset() != def.GetVerticalOffset() {
		t.Errorf("GetVerticalOffset() = %v, want %v", empty.GetVerticalOffset(), def.GetVerticalOffset())
	}
	if empty.GetHorizontalUnitsPerDegree() != def.GetHorizontalUnitsPerDegree() {
		t.Errorf("GetHorizontalUnitsPerDegree() = %v, want %v", empty.GetHorizontalUnitsPerDegree(), def.GetHorizontalUnitsPerDegree())
	}
	if empty.GetSerialPort() != "/dev/ttyACM0" {
		t.Errorf("GetSerialPort() = %q", empty.GetSerialPort())
	}
	if empty.GetBaudRate() != 115200 {
		t.Errorf("GetBaudRate() = %d", empty.GetBaudRate())
	}
	if empty.GetSensorSource() != SensorSerial {
		t.Errorf("GetSensorSource() = %q", empty.GetSensorSource())
	}
	if empty.GetCANVerticalID() != 0x181 || empty.GetCANHorizontalID() != 0x182 {
		t.Errorf("CAN IDs = %#x, %#x", empty.GetCANVerticalID(), empty.GetCANHorizontalID())
	}
	if empty.GetCANInterface() != def.GetCANInterface() {
		t.Errorf("GetCANInterface() = %q", empty.GetCANInterface())
	}
	if empty.GetDBPath() != "odometry.db" || empty.GetListenAddr() != ":8080" {
		t.Errorf("GetDBPath() = %q, GetListenAddr() = %q", empty.GetDBPath(), empty.GetListenAddr())
	}
	if empty.GetMotionTimeout() != 10*time.Second {
		t.Errorf("GetMotionTimeout() = %v", empty.GetMotionTimeout())
	}
	if diff := cmp.Diff(DefaultDrivePID(), empty.GetDrivePID()); diff != "" {
		t.Errorf("GetDrivePID() mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(DefaultTurnPID(), empty.GetTurnPID()); diff != "" {
		t.Errorf("GetTurnPID() mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultsFileMatchesCode(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultRobotConfig(), fromFile); diff != "" {
		t.Errorf("%s out of sync with DefaultRobotConfig (-code +file):\n%s", DefaultConfigPath, diff)
	}
}

func TestLoadRobotConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "robot.json")

	testJSON := `{
  "tick_period": "5ms",
  "vertical_offset": 1.5,
  "max_sensor_failures": 0,
  "turn_pid": {"kp": 2, "settle_tolerance": 0.5, "settle_time": "100ms", "output_min": -6, "output_max": 6}
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadRobotConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.GetTickPeriod() != 5*time.Millisecond {
		t.Errorf("GetTickPeriod() = %v, want 5ms", cfg.GetTickPeriod())
	}
	if cfg.GetVerticalOffset() != 1.5 {
		t.Errorf("GetVerticalOffset() = %v, want 1.5", cfg.GetVerticalOffset())
	}
	// explicitly zero is honoured rather than replaced by the default
	if cfg.GetMaxSensorFailures() != 0 {
		t.Errorf("GetMaxSensorFailures() = %d, want 0", cfg.GetMaxSensorFailures())
	}
	// unset fields fall back
	if cfg.GetHorizontalOffset() != -2.5 {
		t.Errorf("GetHorizontalOffset() = %v, want -2.5", cfg.GetHorizontalOffset())
	}
	turn := cfg.GetTurnPID()
	if turn.Kp != 2 || turn.GetSettleTime() != 100*time.Millisecond || turn.GetTick() != 10*time.Millisecond {
		t.Errorf("GetTurnPID() = %+v", turn)
	}
	if diff := cmp.Diff(DefaultDrivePID(), cfg.GetDrivePID()); diff != "" {
		t.Errorf("GetDrivePID() mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRobotConfigMissing(t *testing.T) {
	_, err := LoadRobotConfig("/nonexistent/path/to/config.json")
	if err == nil {
		t.Error("Expected error when loading missing file, got nil")
	}
}

func TestLoadRobotConfigWrongExtension(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "robot.yaml")
	if err := os.WriteFile(configPath, []byte("{}"), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadRobotConfig(configPath); err == nil {
		t.Error("Expected error for non-.json config, got nil")
	}
}

func TestLoadRobotConfigInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.json")
	if err := os.WriteFile(configPath, []byte(`{"tick_period": 10`), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	if _, err := LoadRobotConfig(configPath); err == nil {
		t.Error("Expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	badTurn := DefaultTurnPID()
	badTurn.OutputMin, badTurn.OutputMax = 5, -5

	badTick := DefaultDrivePID()
	badTick.Tick = "-10ms"

	tests := []struct {
		name    string
		cfg     *RobotConfig
		wantErr bool
	}{
		{name: "empty", cfg: EmptyRobotConfig()},
		{name: "defaults", cfg: DefaultRobotConfig()},
		{name: "unparseable tick", cfg: &RobotConfig{TickPeriod: ptrString("soon")}, wantErr: true},
		{name: "zero tick", cfg: &RobotConfig{TickPeriod: ptrString("0s")}, wantErr: true},
		{name: "negative tick", cfg: &RobotConfig{TickPeriod: ptrString("-5ms")}, wantErr: true},
		{name: "bad stale_after", cfg: &RobotConfig{StaleAfter: ptrString("x")}, wantErr: true},
		{name: "zero units per degree", cfg: &RobotConfig{VerticalUnitsPerDegree: ptrFloat64(0)}, wantErr: true},
		{name: "negative failures", cfg: &RobotConfig{MaxSensorFailures: ptrInt(-1)}, wantErr: true},
		{name: "negative log every", cfg: &RobotConfig{PoseLogEvery: ptrInt(-1)}, wantErr: true},
		{name: "min greater than max", cfg: &RobotConfig{TurnPID: &badTurn}, wantErr: true},
		{name: "negative pid tick", cfg: &RobotConfig{DrivePID: &badTick}, wantErr: true},
		{name: "can source", cfg: &RobotConfig{SensorSource: ptrString(SensorCAN)}},
		{name: "unknown source", cfg: &RobotConfig{SensorSource: ptrString("i2c")}, wantErr: true},
		{name: "can id too large", cfg: &RobotConfig{CANVerticalID: ptrInt(0x20000000)}, wantErr: true},
		{name: "same can ids", cfg: &RobotConfig{CANVerticalID: ptrInt(0x181), CANHorizontalID: ptrInt(0x181)}, wantErr: true},
		{name: "bad motion timeout", cfg: &RobotConfig{MotionTimeout: ptrString("forever")}, wantErr: true},
		{name: "no motion timeout", cfg: &RobotConfig{MotionTimeout: ptrString("0s")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

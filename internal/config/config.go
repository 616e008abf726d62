package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the system-wide settings coordinator. Precedence is
// file > environment > defaults.
type Config struct {
	Database   *DatabaseConfig   `json:"database"`
	HTTP       *HTTPConfig       `json:"http"`
	WebSocket  *WebSocketConfig  `json:"websocket"`
	Vision     *VisionConfig     `json:"vision"`
	Proctoring *ProctoringConfig `json:"proctoring"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// VisionConfig points at the external face/head-pose service.
type VisionConfig struct {
	Endpoint string        `json:"endpoint"`
	Timeout  time.Duration `json:"timeout"`
}

// ProctoringConfig holds the policy knobs of the monitoring state machine.
// The divergent thresholds of the two legacy client scripts are collapsed
// here as configuration.
type ProctoringConfig struct {
	// Expected spacing of monitoring frames. Frames arriving while one is
	// still being evaluated are dropped, not queued.
	FrameInterval time.Duration `json:"frame_interval"`

	// Calibration burst size and how many single-face frames it must
	// contain to establish a baseline.
	CalibrationFrameCount int `json:"calibration_frame_count"`
	MinValidFrames        int `json:"min_valid_frames"`

	// Head-pose deviation thresholds in degrees relative to the baseline.
	SoftDeviation float64 `json:"soft_deviation"`
	HardDeviation float64 `json:"hard_deviation"`

	// Minimum time before a sustained deviation is counted again.
	DeviationCooldown time.Duration `json:"deviation_cooldown"`

	// Tab switches within this window collapse into one counted switch.
	TabSwitchDebounce time.Duration `json:"tab_switch_debounce"`

	// Warning frequency divisors: a user-visible notice fires on every k-th
	// occurrence per kind, but every occurrence counts toward the threshold.
	WarnEveryNoFace        int `json:"warn_every_no_face"`
	WarnEveryMultipleFaces int `json:"warn_every_multiple_faces"`
	WarnEveryLookingAway   int `json:"warn_every_looking_away"`

	// Ceilings applied when the exam row does not specify its own.
	DefaultMaxTabSwitches int `json:"default_max_tab_switches"`
	DefaultMaxViolations  int `json:"default_max_violations"`

	// Faculty force-end and end-time extensions are observed within one
	// polling interval.
	StatusPollInterval time.Duration `json:"status_poll_interval"`

	// Heartbeat silence beyond HeartbeatInterval logs a warning; silence
	// beyond DisconnectGrace closes the attempt.
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	DisconnectGrace   time.Duration `json:"disconnect_grace"`
}

// DefaultConfig returns production defaults. Threshold values follow the
// stricter of the two legacy proctoring scripts.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./proctord.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Vision: &VisionConfig{
			Endpoint: "http://127.0.0.1:9090/evaluate",
			Timeout:  3 * time.Second,
		},
		Proctoring: &ProctoringConfig{
			FrameInterval:          2 * time.Second,
			CalibrationFrameCount:  10,
			MinValidFrames:         1,
			SoftDeviation:          15.0,
			HardDeviation:          30.0,
			DeviationCooldown:      5 * time.Second,
			TabSwitchDebounce:      2 * time.Second,
			WarnEveryNoFace:        3,
			WarnEveryMultipleFaces: 2,
			WarnEveryLookingAway:   5,
			DefaultMaxTabSwitches:  3,
			DefaultMaxViolations:   6,
			StatusPollInterval:     2 * time.Second,
			HeartbeatInterval:      15 * time.Second,
			DisconnectGrace:        60 * time.Second,
		},
	}
}

// Validate checks the configuration before component initialization.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket timeouts must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Vision == nil {
		return fmt.Errorf("vision configuration is required")
	}
	if c.Vision.Endpoint == "" {
		return fmt.Errorf("vision endpoint cannot be empty")
	}
	if c.Vision.Timeout <= 0 {
		return fmt.Errorf("vision timeout must be positive")
	}

	p := c.Proctoring
	if p == nil {
		return fmt.Errorf("proctoring configuration is required")
	}
	if p.FrameInterval <= 0 {
		return fmt.Errorf("frame interval must be positive")
	}
	if p.CalibrationFrameCount <= 0 {
		return fmt.Errorf("calibration frame count must be positive")
	}
	if p.MinValidFrames <= 0 || p.MinValidFrames > p.CalibrationFrameCount {
		return fmt.Errorf("min valid frames must be in [1, calibration frame count]")
	}
	if p.SoftDeviation <= 0 || p.HardDeviation <= p.SoftDeviation {
		return fmt.Errorf("deviation thresholds must satisfy 0 < soft < hard")
	}
	if p.DeviationCooldown <= 0 {
		return fmt.Errorf("deviation cooldown must be positive")
	}
	if p.TabSwitchDebounce <= 0 {
		return fmt.Errorf("tab switch debounce must be positive")
	}
	if p.WarnEveryNoFace <= 0 || p.WarnEveryMultipleFaces <= 0 || p.WarnEveryLookingAway <= 0 {
		return fmt.Errorf("warning frequency divisors must be positive")
	}
	if p.DefaultMaxTabSwitches <= 0 || p.DefaultMaxViolations <= 0 {
		return fmt.Errorf("default ceilings must be positive")
	}
	if p.StatusPollInterval <= 0 {
		return fmt.Errorf("status poll interval must be positive")
	}
	if p.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if p.DisconnectGrace <= p.HeartbeatInterval {
		return fmt.Errorf("disconnect grace must exceed heartbeat interval")
	}

	return nil
}

// LoadFromEnv builds a configuration from defaults overridden by PROCTORD_*
// environment variables. Unparseable values fall back silently.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("PROCTORD_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("PROCTORD_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("PROCTORD_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if endpoint := os.Getenv("PROCTORD_VISION_ENDPOINT"); endpoint != "" {
		config.Vision.Endpoint = endpoint
	}

	setDuration := func(key string, target *time.Duration) {
		if raw := os.Getenv(key); raw != "" {
			if d, err := time.ParseDuration(raw); err == nil {
				*target = d
			}
		}
	}
	setInt := func(key string, target *int) {
		if raw := os.Getenv(key); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil {
				*target = n
			}
		}
	}
	setFloat := func(key string, target *float64) {
		if raw := os.Getenv(key); raw != "" {
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				*target = f
			}
		}
	}

	setDuration("PROCTORD_DATABASE_TIMEOUT", &config.Database.Timeout)
	setDuration("PROCTORD_HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	setDuration("PROCTORD_HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	setDuration("PROCTORD_WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	setDuration("PROCTORD_WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	setDuration("PROCTORD_WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	setInt("PROCTORD_WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	setDuration("PROCTORD_VISION_TIMEOUT", &config.Vision.Timeout)

	p := config.Proctoring
	setDuration("PROCTORD_FRAME_INTERVAL", &p.FrameInterval)
	setInt("PROCTORD_CALIBRATION_FRAME_COUNT", &p.CalibrationFrameCount)
	setInt("PROCTORD_MIN_VALID_FRAMES", &p.MinValidFrames)
	setFloat("PROCTORD_SOFT_DEVIATION", &p.SoftDeviation)
	setFloat("PROCTORD_HARD_DEVIATION", &p.HardDeviation)
	setDuration("PROCTORD_DEVIATION_COOLDOWN", &p.DeviationCooldown)
	setDuration("PROCTORD_TAB_SWITCH_DEBOUNCE", &p.TabSwitchDebounce)
	setInt("PROCTORD_WARN_EVERY_NO_FACE", &p.WarnEveryNoFace)
	setInt("PROCTORD_WARN_EVERY_MULTIPLE_FACES", &p.WarnEveryMultipleFaces)
	setInt("PROCTORD_WARN_EVERY_LOOKING_AWAY", &p.WarnEveryLookingAway)
	setInt("PROCTORD_DEFAULT_MAX_TAB_SWITCHES", &p.DefaultMaxTabSwitches)
	setInt("PROCTORD_DEFAULT_MAX_VIOLATIONS", &p.DefaultMaxViolations)
	setDuration("PROCTORD_STATUS_POLL_INTERVAL", &p.StatusPollInterval)
	setDuration("PROCTORD_HEARTBEAT_INTERVAL", &p.HeartbeatInterval)
	setDuration("PROCTORD_DISCONNECT_GRACE", &p.DisconnectGrace)

	return config
}

// ConfigFile mirrors Config with string durations for JSON parsing.
type ConfigFile struct {
	Database   *DatabaseConfigFile   `json:"database"`
	HTTP       *HTTPConfigFile       `json:"http"`
	WebSocket  *WebSocketConfigFile  `json:"websocket"`
	Vision     *VisionConfigFile     `json:"vision"`
	Proctoring *ProctoringConfigFile `json:"proctoring"`
}

type DatabaseConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type HTTPConfigFile struct {
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	Host         string `json:"host"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type VisionConfigFile struct {
	Endpoint string `json:"endpoint"`
	Timeout  string `json:"timeout"`
}

type ProctoringConfigFile struct {
	FrameInterval          string  `json:"frame_interval"`
	CalibrationFrameCount  int     `json:"calibration_frame_count"`
	MinValidFrames         int     `json:"min_valid_frames"`
	SoftDeviation          float64 `json:"soft_deviation"`
	HardDeviation          float64 `json:"hard_deviation"`
	DeviationCooldown      string  `json:"deviation_cooldown"`
	TabSwitchDebounce      string  `json:"tab_switch_debounce"`
	WarnEveryNoFace        int     `json:"warn_every_no_face"`
	WarnEveryMultipleFaces int     `json:"warn_every_multiple_faces"`
	WarnEveryLookingAway   int     `json:"warn_every_looking_away"`
	DefaultMaxTabSwitches  int     `json:"default_max_tab_switches"`
	DefaultMaxViolations   int     `json:"default_max_violations"`
	StatusPollInterval     string  `json:"status_poll_interval"`
	HeartbeatInterval      string  `json:"heartbeat_interval"`
	DisconnectGrace        string  `json:"disconnect_grace"`
}

// LoadFromFile reads a JSON configuration file on top of the defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	parse := func(raw string, target *time.Duration) {
		if raw == "" {
			return
		}
		if d, err := time.ParseDuration(raw); err == nil {
			*target = d
		}
	}

	if file.Database != nil {
		if file.Database.Path != "" {
			config.Database.Path = file.Database.Path
		}
		parse(file.Database.Timeout, &config.Database.Timeout)
	}

	if file.HTTP != nil {
		if file.HTTP.Port > 0 {
			config.HTTP.Port = file.HTTP.Port
		}
		if file.HTTP.Host != "" {
			config.HTTP.Host = file.HTTP.Host
		}
		parse(file.HTTP.ReadTimeout, &config.HTTP.ReadTimeout)
		parse(file.HTTP.WriteTimeout, &config.HTTP.WriteTimeout)
	}

	if file.WebSocket != nil {
		if file.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = file.WebSocket.BufferSize
		}
		parse(file.WebSocket.PingInterval, &config.WebSocket.PingInterval)
		parse(file.WebSocket.ReadTimeout, &config.WebSocket.ReadTimeout)
		parse(file.WebSocket.WriteTimeout, &config.WebSocket.WriteTimeout)
	}

	if file.Vision != nil {
		if file.Vision.Endpoint != "" {
			config.Vision.Endpoint = file.Vision.Endpoint
		}
		parse(file.Vision.Timeout, &config.Vision.Timeout)
	}

	if fp := file.Proctoring; fp != nil {
		p := config.Proctoring
		parse(fp.FrameInterval, &p.FrameInterval)
		parse(fp.DeviationCooldown, &p.DeviationCooldown)
		parse(fp.TabSwitchDebounce, &p.TabSwitchDebounce)
		parse(fp.StatusPollInterval, &p.StatusPollInterval)
		parse(fp.HeartbeatInterval, &p.HeartbeatInterval)
		parse(fp.DisconnectGrace, &p.DisconnectGrace)
		if fp.CalibrationFrameCount > 0 {
			p.CalibrationFrameCount = fp.CalibrationFrameCount
		}
		if fp.MinValidFrames > 0 {
			p.MinValidFrames = fp.MinValidFrames
		}
		if fp.SoftDeviation > 0 {
			p.SoftDeviation = fp.SoftDeviation
		}
		if fp.HardDeviation > 0 {
			p.HardDeviation = fp.HardDeviation
		}
		if fp.WarnEveryNoFace > 0 {
			p.WarnEveryNoFace = fp.WarnEveryNoFace
		}
		if fp.WarnEveryMultipleFaces > 0 {
			p.WarnEveryMultipleFaces = fp.WarnEveryMultipleFaces
		}
		if fp.WarnEveryLookingAway > 0 {
			p.WarnEveryLookingAway = fp.WarnEveryLookingAway
		}
		if fp.DefaultMaxTabSwitches > 0 {
			p.DefaultMaxTabSwitches = fp.DefaultMaxTabSwitches
		}
		if fp.DefaultMaxViolations > 0 {
			p.DefaultMaxViolations = fp.DefaultMaxViolations
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence applies file > environment > defaults. File errors
// are ignored so environment/defaults still work without one.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	VariantTraffic   = "traffic"
	VariantOccupancy = "occupancy"

	DriverMock   = "mock"
	DriverGPIO   = "gpio"
	DriverSerial = "serial"

	SourceStdin     = "stdin"
	SourceWebSocket = "websocket"
	SourceClient    = "client"
	SourceNone      = "none"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Controller ControllerConfig `json:"controller"`
	Actuator   ActuatorConfig   `json:"actuator"`
	EventLog   EventLogConfig   `json:"event_log"`
	Detection  DetectionConfig  `json:"detection"`
	Security   SecurityConfig   `json:"security"`
	Redis      RedisConfig      `json:"redis"`
	Logging    LoggingConfig    `json:"logging"`
}

type ServerConfig struct {
	Enabled      bool          `json:"enabled"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type ControllerConfig struct {
	Variant             string        `json:"variant"`
	TargetLabel         string        `json:"target_label"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	Bands               string        `json:"bands"`
	RisingFrames        int           `json:"rising_frames"`
	FallingFrames       int           `json:"falling_frames"`
	IdleOnEmpty         bool          `json:"idle_on_empty"`
	DualCounter         bool          `json:"dual_counter"`
	PollInterval        time.Duration `json:"poll_interval"`
	CommandTimeout      time.Duration `json:"command_timeout"`
	ShutdownTimeout     time.Duration `json:"shutdown_timeout"`
}

type ActuatorConfig struct {
	Driver     string            `json:"driver"`
	Channels   []string          `json:"channels"`
	GPIOChip   string            `json:"gpio_chip"`
	GPIOLines  map[string][]int  `json:"gpio_lines"`
	ActiveLow  bool              `json:"active_low"`
	SerialPort string            `json:"serial_port"`
	SerialBaud int               `json:"serial_baud"`
	Relays     map[string][]int  `json:"relays"`
	StateMap   map[string]string `json:"state_map"`
}

type EventLogConfig struct {
	CSVPath    string `json:"csv_path"`
	TextPath   string `json:"text_path"`
	SQLitePath string `json:"sqlite_path"`
}

type DetectionConfig struct {
	// Source is "stdin", "websocket" (pipeline pushes to /ws/detections),
	// "client" (dial URL), "none", or otherwise a file or FIFO path.
	Source      string        `json:"source"`
	URL         string        `json:"url"`
	MaxRetries  int           `json:"max_retries"`
	RetryDelay  time.Duration `json:"retry_delay"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

type SecurityConfig struct {
	OperatorToken  string   `json:"-"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	RateLimitBurst int      `json:"rate_limit_burst"`
}

type RedisConfig struct {
	Host     string        `json:"host"`
	Port     int           `json:"port"`
	Password string        `json:"-"`
	DB       int           `json:"db"`
	StateTTL time.Duration `json:"state_ttl"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadConfig reads the environment, after loading a .env file from the
// working directory if one exists. Variant-specific defaults are applied
// before explicit overrides.
func LoadConfig() *Config {
	_ = godotenv.Load()

	variant := strings.ToLower(getEnv("CONTROLLER_VARIANT", VariantTraffic))
	defaults := variantDefaults(variant)

	config := &Config{
		Server: ServerConfig{
			Enabled:      getEnvAsBool("SERVER_ENABLED", true),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Controller: ControllerConfig{
			Variant:             variant,
			TargetLabel:         getEnv("TARGET_LABEL", defaults.target),
			ConfidenceThreshold: getEnvAsFloat("CONFIDENCE_THRESHOLD", 0.4),
			Bands:               getEnv("THRESHOLD_BANDS", defaults.bands),
			RisingFrames:        getEnvAsInt("RISING_FRAMES", defaults.rising),
			FallingFrames:       getEnvAsInt("FALLING_FRAMES", defaults.falling),
			IdleOnEmpty:         getEnvAsBool("IDLE_ON_EMPTY", defaults.idleOnEmpty),
			DualCounter:         getEnvAsBool("DUAL_COUNTER", defaults.dualCounter),
			PollInterval:        getEnvAsDuration("COMMAND_POLL_INTERVAL", 5*time.Millisecond),
			CommandTimeout:      getEnvAsDuration("COMMAND_TIMEOUT", 2*time.Second),
			ShutdownTimeout:     getEnvAsDuration("SHUTDOWN_TIMEOUT", 5*time.Second),
		},
		Actuator: ActuatorConfig{
			Driver:     getEnv("ACTUATOR_DRIVER", DriverMock),
			Channels:   getEnvAsStringSlice("ACTUATOR_CHANNELS", defaults.channels),
			GPIOChip:   getEnv("GPIO_CHIP", "gpiochip0"),
			GPIOLines:  getEnvAsGroups("GPIO_LINES", nil),
			ActiveLow:  getEnvAsBool("GPIO_ACTIVE_LOW", true),
			SerialPort: getEnv("SERIAL_PORT", "/dev/ttyUSB0"),
			SerialBaud: getEnvAsInt("SERIAL_BAUD", 9600),
			Relays:     getEnvAsGroups("SERIAL_RELAYS", nil),
			StateMap:   getEnvAsPairs("STATE_CHANNELS", defaults.stateMap),
		},
		EventLog: EventLogConfig{
			CSVPath:    getEnv("LOG_CSV_PATH", "light_log.csv"),
			TextPath:   getEnv("LOG_TXT_PATH", "light_log.txt"),
			SQLitePath: getEnv("LOG_SQLITE_PATH", ""),
		},
		Detection: DetectionConfig{
			Source:      getEnv("DETECTION_SOURCE", SourceStdin),
			URL:         getEnv("DETECTION_URL", ""),
			MaxRetries:  getEnvAsInt("DETECTION_MAX_RETRIES", 0),
			RetryDelay:  getEnvAsDuration("DETECTION_RETRY_DELAY", 1*time.Second),
			ReadTimeout: getEnvAsDuration("DETECTION_READ_TIMEOUT", 30*time.Second),
		},
		Security: SecurityConfig{
			OperatorToken:  getEnv("OPERATOR_TOKEN", ""),
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 5),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			StateTTL: getEnvAsDuration("REDIS_STATE_TTL", 0),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config
}

type variantDefault struct {
	target      string
	bands       string
	rising      int
	falling     int
	idleOnEmpty bool
	dualCounter bool
	channels    []string
	stateMap    map[string]string
}

func variantDefaults(variant string) variantDefault {
	if variant == VariantOccupancy {
		return variantDefault{
			target:      "person",
			bands:       "CHANNEL_3:3-,CHANNEL_2:2-2,CHANNEL_1:0-1",
			rising:      4,
			falling:     5,
			idleOnEmpty: true,
			dualCounter: true,
			channels:    []string{"LIGHT1", "LIGHT2", "LIGHT3"},
			stateMap: map[string]string{
				"CHANNEL_1": "LIGHT1",
				"CHANNEL_2": "LIGHT2",
				"CHANNEL_3": "LIGHT3",
			},
		}
	}
	return variantDefault{
		target:   "car",
		bands:    "GREEN:11-,YELLOW:5-10,RED:0-4",
		rising:   1,
		falling:  1,
		channels: []string{"RED", "YELLOW", "GREEN"},
		stateMap: map[string]string{
			"RED":    "RED",
			"YELLOW": "YELLOW",
			"GREEN":  "GREEN",
		},
	}
}

func (c *Config) ValidateConfig(logger *zap.Logger) error {
	var errors []string

	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errors = append(errors, "server port must be between 1 and 65535")
	}

	switch c.Controller.Variant {
	case VariantTraffic, VariantOccupancy:
	default:
		errors = append(errors, fmt.Sprintf("unknown controller variant %q", c.Controller.Variant))
	}

	if c.Controller.TargetLabel == "" {
		errors = append(errors, "target label is required")
	}

	if c.Controller.ConfidenceThreshold < 0 || c.Controller.ConfidenceThreshold > 1 {
		errors = append(errors, "confidence threshold must be within [0, 1]")
	}

	if c.Controller.RisingFrames < 1 || c.Controller.FallingFrames < 1 {
		errors = append(errors, "persistence thresholds must be at least 1 frame")
	}

	if c.Controller.PollInterval <= 0 || c.Controller.PollInterval > 10*time.Millisecond {
		errors = append(errors, "command poll interval must be within (0, 10ms]")
	}

	switch c.Actuator.Driver {
	case DriverMock:
		logger.Warn("Using in-memory actuator driver, no physical outputs will change")
	case DriverGPIO:
		if c.Actuator.GPIOChip == "" {
			errors = append(errors, "GPIO chip is required for the gpio driver")
		}
	case DriverSerial:
		if c.Actuator.SerialPort == "" {
			errors = append(errors, "serial port is required for the serial driver")
		}
	default:
		errors = append(errors, fmt.Sprintf("unknown actuator driver %q", c.Actuator.Driver))
	}

	if len(c.Actuator.Channels) == 0 {
		errors = append(errors, "at least one actuator channel is required")
	}

	if c.EventLog.CSVPath == "" || c.EventLog.TextPath == "" {
		errors = append(errors, "both CSV and text log paths are required")
	}

	switch c.Detection.Source {
	case "":
		errors = append(errors, "detection source is required")
	case SourceWebSocket:
		if !c.Server.Enabled {
			errors = append(errors, "websocket detection source needs the HTTP server")
		}
	case SourceClient:
		if c.Detection.URL == "" {
			errors = append(errors, "detection URL is required for the client source")
		}
	}

	if c.Security.OperatorToken == "" {
		logger.Warn("Operator token not set, light controls are unauthenticated")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, ", "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

// getEnvAsPairs parses "A=B,C=D".
func getEnvAsPairs(key string, defaultValue map[string]string) map[string]string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	pairs := make(map[string]string)
	for _, part := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return defaultValue
		}
		pairs[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return pairs
}

// getEnvAsGroups parses "RED=17 27 22,YELLOW=23 24 25".
func getEnvAsGroups(key string, defaultValue map[string][]int) map[string][]int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	groups := make(map[string][]int)
	for _, part := range strings.Split(value, ",") {
		name, nums, ok := strings.Cut(part, "=")
		if !ok {
			return defaultValue
		}
		var ints []int
		for _, field := range strings.Fields(nums) {
			n, err := strconv.Atoi(field)
			if err != nil {
				return defaultValue
			}
			ints = append(ints, n)
		}
		groups[strings.TrimSpace(name)] = ints
	}
	return groups
}

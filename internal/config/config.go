package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"

	"taskproof/internal/oracle"
)

// Mode selects which presentation surfaces the daemon serves.
type Mode string

const (
	ModeHTTP Mode = "http"
	ModeMCP  Mode = "mcp"
	ModeBoth Mode = "both"
)

// Duration reads "30s" style strings from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	AuthToken string `toml:"auth_token"`
	Mode      Mode   `toml:"mode"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ScheduleConfig controls the monitor loop.
type ScheduleConfig struct {
	ScanInterval Duration `toml:"scan_interval"`
	WarningLead  Duration `toml:"warning_lead"`
}

// OracleConfig holds the vision model settings. An empty API key selects the mock oracle.
type OracleConfig struct {
	APIKey        string   `toml:"api_key"`
	BaseURL       string   `toml:"base_url"`
	Model         string   `toml:"model"`
	Timeout       Duration `toml:"timeout"`
	MaxImageBytes int      `toml:"max_image_bytes"`
}

// AlarmConfig holds alarm loop settings.
type AlarmConfig struct {
	Cadence      Duration `toml:"cadence"`
	SoundCommand string   `toml:"sound_command"`
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL     string `toml:"url"`
	Enabled bool   `toml:"enabled"`
}

// NtfyConfig holds ntfy notification settings.
type NtfyConfig struct {
	URL string `toml:"url"`
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Bark BarkConfig `toml:"bark"`
	Ntfy NtfyConfig `toml:"ntfy"`
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Log          LogConfig          `toml:"log"`
	Schedule     ScheduleConfig     `toml:"schedule"`
	Oracle       OracleConfig       `toml:"oracle"`
	Alarm        AlarmConfig        `toml:"alarm"`
	Notification NotificationConfig `toml:"notification"`

	StateDir      string   `toml:"state_dir"`
	UseUTC        bool     `toml:"use_utc"`
	ShutdownGrace Duration `toml:"shutdown_grace"`

	// ConfigFile is the TOML file that was loaded, empty when none existed.
	ConfigFile string `toml:"-"`
}

const (
	defaultAddr          = "127.0.0.1:8000"
	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"
	defaultScanInterval  = 30 * time.Second
	defaultCadence       = 2 * time.Second
	defaultWarningLead   = 5 * time.Minute
	defaultShutdownGrace = 5 * time.Second
	defaultOracleTimeout = 30 * time.Second
	defaultMaxImageBytes = 10 << 20

	appDirName = "taskproof"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: defaultAddr, Mode: ModeHTTP},
		Log:    LogConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		Schedule: ScheduleConfig{
			ScanInterval: Duration{defaultScanInterval},
			WarningLead:  Duration{defaultWarningLead},
		},
		Oracle: OracleConfig{
			BaseURL:       oracle.DefaultBaseURL,
			Model:         oracle.DefaultModel,
			Timeout:       Duration{defaultOracleTimeout},
			MaxImageBytes: defaultMaxImageBytes,
		},
		Alarm:         AlarmConfig{Cadence: Duration{defaultCadence}},
		ShutdownGrace: Duration{defaultShutdownGrace},
	}
}

// Parse builds the configuration from args and the environment.
// Priority: CLI flags > environment variables > .env file > TOML file > defaults.
func Parse(args []string) (*Config, error) {
	flags := flag.NewFlagSet("taskproofd", flag.ContinueOnError)
	var (
		configPath, addr, mode, stateDir, logLevel, logFormat string
		useUTC                                                bool
		scanInterval, cadence, shutdownGrace                  time.Duration
	)
	flags.StringVar(&configPath, "config", "", "Path to a TOML config file")
	flags.StringVar(&addr, "addr", "", "HTTP listen address (overrides env)")
	flags.StringVar(&mode, "mode", "", "Surfaces to serve: http, mcp or both")
	flags.StringVar(&stateDir, "state-dir", "", "Directory holding the database and lock file")
	flags.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "", "Log format (text, json, auto)")
	flags.BoolVar(&useUTC, "use-utc", false, "Match start times in UTC instead of system local time")
	flags.DurationVar(&scanInterval, "scan-interval", 0, "How often to look for due tasks")
	flags.DurationVar(&cadence, "alarm-cadence", 0, "Spacing between alarm notices")
	flags.DurationVar(&shutdownGrace, "shutdown-grace", 0, "Grace period when shutting down")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	// Load .env if present; existing environment variables win.
	envFiles := []string{}
	if _, err := os.Stat(".env"); err == nil {
		envFiles = append(envFiles, ".env")
	}
	if configDir, err := os.UserConfigDir(); err == nil {
		path := filepath.Join(configDir, appDirName, ".env")
		if _, err := os.Stat(path); err == nil {
			envFiles = append(envFiles, path)
		}
	}
	if len(envFiles) > 0 {
		_ = godotenv.Load(envFiles...)
	}

	cfg := Default()
	if configPath == "" {
		configPath = os.Getenv("TASKPROOF_CONFIG")
	}
	if err := loadFile(&cfg, configPath); err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = addr
		case "mode":
			cfg.Server.Mode = Mode(mode)
		case "state-dir":
			cfg.StateDir = stateDir
		case "log-level":
			cfg.Log.Level = logLevel
		case "log-format":
			cfg.Log.Format = logFormat
		case "use-utc":
			cfg.UseUTC = useUTC
		case "scan-interval":
			cfg.Schedule.ScanInterval.Duration = scanInterval
		case "alarm-cadence":
			cfg.Alarm.Cadence.Duration = cadence
		case "shutdown-grace":
			cfg.ShutdownGrace.Duration = shutdownGrace
		}
	})

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadFile decodes the TOML file at path into cfg. An explicit path must
// exist; the default location is optional.
func loadFile(cfg *Config, path string) error {
	explicit := path != ""
	if !explicit {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(configDir, appDirName, "config.toml")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Server.Addr, "TASKPROOF_ADDR")
	setString(&cfg.Server.AuthToken, "TASKPROOF_AUTH_TOKEN")
	if v, ok := lookup("TASKPROOF_MODE"); ok {
		cfg.Server.Mode = Mode(strings.ToLower(v))
	}
	setString(&cfg.StateDir, "TASKPROOF_STATE_DIR")
	setString(&cfg.Log.Level, "TASKPROOF_LOG_LEVEL")
	setString(&cfg.Log.Format, "TASKPROOF_LOG_FORMAT")
	setString(&cfg.Oracle.APIKey, "GROQ_API_KEY")
	setString(&cfg.Oracle.APIKey, "TASKPROOF_ORACLE_API_KEY")
	setString(&cfg.Oracle.BaseURL, "TASKPROOF_ORACLE_BASE_URL")
	setString(&cfg.Oracle.Model, "TASKPROOF_ORACLE_MODEL")
	setString(&cfg.Alarm.SoundCommand, "TASKPROOF_SOUND_COMMAND")
	setString(&cfg.Notification.Bark.URL, "TASKPROOF_BARK_URL")
	setString(&cfg.Notification.Ntfy.URL, "TASKPROOF_NTFY_URL")

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	collect(setBool(&cfg.UseUTC, "TASKPROOF_USE_UTC"))
	collect(setBool(&cfg.Notification.Bark.Enabled, "TASKPROOF_BARK_ENABLED"))
	collect(setDuration(&cfg.Schedule.ScanInterval.Duration, "TASKPROOF_SCAN_INTERVAL"))
	collect(setDuration(&cfg.Schedule.WarningLead.Duration, "TASKPROOF_WARNING_LEAD"))
	collect(setDuration(&cfg.Alarm.Cadence.Duration, "TASKPROOF_ALARM_CADENCE"))
	collect(setDuration(&cfg.ShutdownGrace.Duration, "TASKPROOF_SHUTDOWN_GRACE"))
	collect(setDuration(&cfg.Oracle.Timeout.Duration, "TASKPROOF_ORACLE_TIMEOUT"))
	collect(setInt(&cfg.Oracle.MaxImageBytes, "TASKPROOF_MAX_IMAGE_BYTES"))
	return errors.Join(errs...)
}

// Validate reports settings the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Server.Mode {
	case ModeHTTP, ModeMCP, ModeBoth:
	default:
		errs = append(errs, fmt.Errorf("mode must be http, mcp or both, got %q", c.Server.Mode))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json", "auto":
	default:
		errs = append(errs, fmt.Errorf("log format must be text, json or auto, got %q", c.Log.Format))
	}
	if c.Schedule.ScanInterval.Duration <= 0 {
		errs = append(errs, errors.New("scan interval must be positive"))
	}
	if c.Schedule.WarningLead.Duration < 0 {
		errs = append(errs, errors.New("warning lead must not be negative"))
	}
	if c.Alarm.Cadence.Duration <= 0 {
		errs = append(errs, errors.New("alarm cadence must be positive"))
	}
	if c.Oracle.MaxImageBytes <= 0 {
		errs = append(errs, errors.New("max image bytes must be positive"))
	}
	if c.Notification.Bark.Enabled && strings.TrimSpace(c.Notification.Bark.URL) == "" {
		errs = append(errs, errors.New("bark is enabled but no url is set"))
	}
	return errors.Join(errs...)
}

// Location returns the zone used to match task start times.
func (c *Config) Location() *time.Location {
	if c.UseUTC {
		return time.UTC
	}
	return time.Local
}

// ServesHTTP reports whether the HTTP API should run.
func (c *Config) ServesHTTP() bool {
	return c.Server.Mode == ModeHTTP || c.Server.Mode == ModeBoth
}

// ServesStdio reports whether the MCP stdio server should run.
func (c *Config) ServesStdio() bool {
	return c.Server.Mode == ModeMCP || c.Server.Mode == ModeBoth
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func setString(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setBool(dst *bool, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	default:
		return fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func setInt(dst *int, key string) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, appDirName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

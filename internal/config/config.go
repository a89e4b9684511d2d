package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// AppName is the application name used for config files and directories
	AppName = "comfyrunner"

	// EnvPrefix is the prefix for environment variables, e.g. COMFYRUNNER_COMFY_URL
	EnvPrefix = "COMFYRUNNER"
)

// Staging modes
const (
	StagingFilesystem = "filesystem"
	StagingUpload     = "upload"
)

// AppConfig holds the application configuration
type AppConfig struct {
	// Core settings
	Debug     bool   `mapstructure:"debug"`
	LogFormat string `mapstructure:"log_format"`
	LogFile   string `mapstructure:"log_file"`

	// ComfyUI backend
	Comfy struct {
		URL            string        `mapstructure:"url"`
		InputDir       string        `mapstructure:"input_dir"`
		OutputDir      string        `mapstructure:"output_dir"`
		ReadyAttempts  int           `mapstructure:"ready_attempts"`
		ReadyInterval  time.Duration `mapstructure:"ready_interval"`
		PollInterval   time.Duration `mapstructure:"poll_interval"`
		Timeout        time.Duration `mapstructure:"timeout"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"` // per HTTP request to ComfyUI
		Websocket      bool          `mapstructure:"websocket"`       // follow progress over /ws
		RestartCommand string        `mapstructure:"restart_command"`
	} `mapstructure:"comfy"`

	// Input staging
	Staging struct {
		Mode      string `mapstructure:"mode"`       // filesystem or upload
		Subfolder string `mapstructure:"subfolder"`  // upload mode only
		MaxPixels int64  `mapstructure:"max_pixels"` // largest input or start frame, width x height
	} `mapstructure:"staging"`

	// HTTP server
	Server struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`
}

// Global variables
var (
	// Global configuration instance
	Instance AppConfig

	// Status indicators
	ConfigLoaded bool
	ConfigFile   string

	// v exists before Initialize so command flags can be bound to it
	v = viper.New()

	initOnce sync.Once
)

// Viper returns the viper instance backing Instance
func Viper() *viper.Viper {
	return v
}

// Initialize loads .env, the optional config file and COMFYRUNNER_* variables into Instance.
// Only the first call has any effect.
func Initialize(cfgFile string) error {
	var err error

	initOnce.Do(func() {
		// a missing .env is normal outside development
		if envErr := godotenv.Load(); envErr != nil && !errors.Is(envErr, os.ErrNotExist) {
			err = fmt.Errorf("error reading .env: %w", envErr)
			return
		}

		var cfg *AppConfig
		cfg, err = Load(v, cfgFile)
		if err != nil {
			return
		}
		Instance = *cfg
		ConfigFile = v.ConfigFileUsed()
		ConfigLoaded = ConfigFile != ""
	})

	return err
}

// Load reads configuration into a new AppConfig using v.  An empty cfgFile searches
// the standard locations; not finding a file there is not an error.
func Load(v *viper.Viper, cfgFile string) (*AppConfig, error) {
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		addSearchPaths(v)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if readErr := v.ReadInConfig(); readErr != nil {
		// only a searched-for file may be absent
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(readErr, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", readErr)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults sets default values for configuration
func setDefaults(v *viper.Viper) {
	// Core settings
	v.SetDefault("debug", false)
	v.SetDefault("log_format", "human")
	v.SetDefault("log_file", "")

	// ComfyUI defaults match the serverless image layout
	v.SetDefault("comfy.url", "http://127.0.0.1:8188")
	v.SetDefault("comfy.input_dir", "/comfyui/input")
	v.SetDefault("comfy.output_dir", "/comfyui/output")
	v.SetDefault("comfy.ready_attempts", 60)
	v.SetDefault("comfy.ready_interval", 5*time.Second)
	v.SetDefault("comfy.poll_interval", 5*time.Second)
	v.SetDefault("comfy.timeout", 600*time.Second)
	v.SetDefault("comfy.request_timeout", 2*time.Minute)
	v.SetDefault("comfy.websocket", true)
	v.SetDefault("comfy.restart_command", "")

	v.SetDefault("staging.mode", StagingFilesystem)
	v.SetDefault("staging.subfolder", "")
	v.SetDefault("staging.max_pixels", 4096*4096)

	v.SetDefault("server.address", ":8080")
}

// addSearchPaths adds config search paths
func addSearchPaths(v *viper.Viper) {
	// Always check current directory first
	v.AddConfigPath(".")

	if home, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, AppName))
	}
	v.AddConfigPath("/etc/" + AppName)
}

// Validate rejects settings the worker cannot run with
func (c *AppConfig) Validate() error {
	switch c.Staging.Mode {
	case StagingFilesystem, StagingUpload:
	default:
		return fmt.Errorf("unsupported staging mode: %s", c.Staging.Mode)
	}
	switch c.LogFormat {
	case "human", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.LogFormat)
	}
	if c.Comfy.URL == "" {
		return errors.New("comfy.url must be set")
	}
	if c.Comfy.ReadyAttempts < 1 {
		return fmt.Errorf("comfy.ready_attempts must be at least 1, got %d", c.Comfy.ReadyAttempts)
	}
	if c.Comfy.PollInterval <= 0 {
		return fmt.Errorf("comfy.poll_interval must be positive, got %v", c.Comfy.PollInterval)
	}
	if c.Comfy.RequestTimeout < 0 {
		return fmt.Errorf("comfy.request_timeout must not be negative, got %v", c.Comfy.RequestTimeout)
	}
	if c.Staging.MaxPixels < 1 {
		return fmt.Errorf("staging.max_pixels must be at least 1, got %d", c.Staging.MaxPixels)
	}
	return nil
}

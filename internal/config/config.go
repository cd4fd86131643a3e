package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"photo-derivatives-go/internal/profile"
	"photo-derivatives-go/internal/state"
)

// DefaultOutputSubdir is used under the source directory when no output
// directory is configured.
const DefaultOutputSubdir = "dist"

// Config represents the main configuration structure
type Config struct {
	SourceDirectory     string           `mapstructure:"source_directory"`
	OutputDirectory     string           `mapstructure:"output_directory"`
	StateFile           string           `mapstructure:"state_file"`
	SupportedExtensions []string         `mapstructure:"supported_extensions"`
	Profiles            []ProfileConfig  `mapstructure:"profiles"`
	Processing          ProcessingConfig `mapstructure:"processing"`
	Logging             LoggingConfig    `mapstructure:"logging"`
	Server              ServerConfig     `mapstructure:"server"`
	Watch               WatchConfig      `mapstructure:"watch"`
}

// ProfileConfig describes one derivative size
type ProfileConfig struct {
	Name         string `mapstructure:"name" json:"name"`
	Directory    string `mapstructure:"directory" json:"directory"`
	MaxDimension int    `mapstructure:"max_dimension" json:"max_dimension"`
	TargetSizeKB int    `mapstructure:"target_size_kb" json:"target_size_kb"`
	StartQuality int    `mapstructure:"start_quality" json:"start_quality"`
	MinQuality   int    `mapstructure:"min_quality" json:"min_quality"`
}

// ProcessingConfig contains batch processing settings
type ProcessingConfig struct {
	Workers     int  `mapstructure:"workers"`
	DryRun      bool `mapstructure:"dry_run"`
	Force       bool `mapstructure:"force"`
	RetryFailed bool `mapstructure:"retry_failed"`
	QualityStep int  `mapstructure:"quality_step"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig contains run API settings
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// WatchConfig contains watch mode settings
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// Override adjusts a loaded configuration before validation. The CLI uses
// it to apply flags.
type Override func(*Config)

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	defaults := profile.Defaults()
	profiles := make([]ProfileConfig, 0, len(defaults))
	for _, p := range defaults {
		profiles = append(profiles, ProfileConfig{
			Name:         p.Name,
			Directory:    p.Directory,
			MaxDimension: p.MaxDimension,
			TargetSizeKB: p.TargetSizeKB,
			StartQuality: p.StartQuality,
			MinQuality:   p.MinQuality,
		})
	}

	return &Config{
		StateFile:           state.DefaultFileName,
		SupportedExtensions: []string{".jpg", ".jpeg"},
		Profiles:            profiles,
		Processing: ProcessingConfig{
			Workers:     4,
			RetryFailed: true,
			QualityStep: profile.DefaultQualityStep,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			FilePath:   "photo-derivatives.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// LoadConfig loads configuration from file and environment variables,
// applies overrides and validates the result. An empty configPath searches
// the usual locations; a missing file there is not an error.
func LoadConfig(configPath string, overrides ...Override) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.photo-derivatives")
		v.AddConfigPath("/etc/photo-derivatives")
	}

	v.SetEnvPrefix("PHOTO_DERIVATIVES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if len(config.Profiles) == 0 {
		config.Profiles = DefaultConfig().Profiles
	}

	for _, o := range overrides {
		o(config)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// setDefaults registers every scalar default with viper so environment
// variables can override keys that are absent from the file. Profiles are
// filled in after unmarshaling because list defaults would be merged
// element-wise with the file's list.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("source_directory", d.SourceDirectory)
	v.SetDefault("output_directory", d.OutputDirectory)
	v.SetDefault("state_file", d.StateFile)
	v.SetDefault("supported_extensions", d.SupportedExtensions)
	v.SetDefault("processing.workers", d.Processing.Workers)
	v.SetDefault("processing.dry_run", d.Processing.DryRun)
	v.SetDefault("processing.force", d.Processing.Force)
	v.SetDefault("processing.retry_failed", d.Processing.RetryFailed)
	v.SetDefault("processing.quality_step", d.Processing.QualityStep)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file_path", d.Logging.FilePath)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	if c.SourceDirectory == "" {
		return fmt.Errorf("source_directory is required")
	}
	c.SourceDirectory = expandPath(c.SourceDirectory)
	if !isValidPath(c.SourceDirectory) {
		return fmt.Errorf("source_directory does not exist or is not accessible: %s", c.SourceDirectory)
	}

	if c.OutputDirectory == "" {
		c.OutputDirectory = filepath.Join(c.SourceDirectory, DefaultOutputSubdir)
	}
	c.OutputDirectory = expandPath(c.OutputDirectory)

	if c.StateFile == "" {
		c.StateFile = state.DefaultFileName
	}

	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)
	if len(c.SupportedExtensions) == 0 {
		return fmt.Errorf("supported_extensions must not be empty")
	}

	if _, err := c.BuildProfiles(); err != nil {
		return err
	}

	if c.Processing.Workers <= 0 {
		c.Processing.Workers = 4
	}
	if c.Processing.QualityStep <= 0 {
		c.Processing.QualityStep = profile.DefaultQualityStep
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}

	return nil
}

// BuildProfiles converts the configured profiles into validated
// profile.Profile values.
func (c *Config) BuildProfiles() ([]profile.Profile, error) {
	profiles := make([]profile.Profile, 0, len(c.Profiles))
	for _, pc := range c.Profiles {
		profiles = append(profiles, profile.Profile{
			Name:         pc.Name,
			Directory:    pc.Directory,
			MaxDimension: pc.MaxDimension,
			TargetSizeKB: pc.TargetSizeKB,
			StartQuality: pc.StartQuality,
			MinQuality:   pc.MinQuality,
		})
	}
	if err := profile.ValidateSet(profiles); err != nil {
		return nil, fmt.Errorf("invalid profiles: %w", err)
	}
	return profiles, nil
}

// StatePath returns the location of the state file. A relative state_file is
// resolved against the output directory.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.StateFile) {
		return c.StateFile
	}
	return filepath.Join(c.OutputDirectory, c.StateFile)
}

// Helper functions

func expandPath(path string) string {
	expanded := os.ExpandEnv(path)
	if strings.HasPrefix(expanded, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			expanded = filepath.Join(home, expanded[1:])
		}
	}
	return expanded
}

func isValidPath(path string) bool {
	if path == "" {
		return false
	}
	stat, err := os.Stat(path)
	return err == nil && stat.IsDir()
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		normalized = append(normalized, ext)
	}
	return normalized
}

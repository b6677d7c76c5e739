// =============================================================================
// Consumption Refinery - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing all configuration files.
// It handles both the main application configuration and the source profiles
// that describe how each family of input tables is read and refined.
//
// CONFIGURATION FILES:
//   1. Main Config (config.yaml): Global application settings
//   2. Source Profiles (profiles/*.yaml): Per-source reading and refinement rules
//
// LOADING ORDER:
//   1. YAML file
//   2. Defaults for every unset option
//   3. REFINERY_* environment overrides (main config only)
//   4. Struct validation
//
// =============================================================================

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "REFINERY"

// DefaultMaxNoDataRun is the no-data run length tolerated when a profile
// does not set one.
const DefaultMaxNoDataRun = 3

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
// This is loaded from the main config.yaml file.
type MainConfig struct {
	// =========================================================================
	// DIRECTORY SETTINGS
	// =========================================================================

	// InputDir is the directory scanned for .csv and .xlsx tables.
	// Default: "./input"
	InputDir string `yaml:"input_dir" validate:"required"`

	// OutputDir is the directory where refined tables are written.
	// Default: "./output"
	OutputDir string `yaml:"output_dir" validate:"required"`

	// InputArchiveDir receives input files after a successful run.
	// Default: "./input_archive"
	InputArchiveDir string `yaml:"input_archive_dir"`

	// OutputArchiveDir receives a copy of every refined table.
	// Default: "./output_archive"
	OutputArchiveDir string `yaml:"output_archive_dir"`

	// ProfilesDir is the directory containing source profiles.
	// Each YAML file in this directory is one profile.
	// Default: "./profiles"
	ProfilesDir string `yaml:"profiles_dir" validate:"required"`

	// =========================================================================
	// LOGGING SETTINGS
	// =========================================================================

	// LogFile is an optional file that receives a copy of the log.
	// Empty disables file logging.
	LogFile string `yaml:"log_file"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "info"
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// LogFormat selects the encoder: "console" or "json".
	// Default: "console"
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`

	// MetricsFile, when set, receives run metrics in the Prometheus text
	// format after each run (node_exporter textfile collector).
	MetricsFile string `yaml:"metrics_file"`

	// =========================================================================
	// OUTPUT SETTINGS
	// =========================================================================

	// OutputNameFormat defines the base name of output tables, without the
	// extension.
	// Placeholders:
	//   {uuid}      - A random UUID
	//   {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
	//   {profile}   - Profile code
	//   {source}    - Input file name without extension
	// Default: "{profile}_{source}_refined"
	OutputNameFormat string `yaml:"output_name_format" validate:"required"`

	// OutputFormat is "xlsx", "csv" or "xml".
	// Default: "xlsx"
	OutputFormat string `yaml:"output_format" validate:"oneof=xlsx csv xml"`

	// =========================================================================
	// PROCESSING SETTINGS
	// =========================================================================

	// MaxConcurrency is the maximum number of files processed concurrently.
	// Default: 4
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1"`

	// ContinueOnError keeps processing other files when one fails.
	// Default: true
	ContinueOnError *bool `yaml:"continue_on_error"`

	// ArchiveOnSuccess moves inputs and copies outputs to the archive
	// directories after a successful run.
	// Default: true
	ArchiveOnSuccess *bool `yaml:"archive_on_success"`
}

// KeepGoing reports whether a failed file should not stop the run.
func (c *MainConfig) KeepGoing() bool {
	return c.ContinueOnError == nil || *c.ContinueOnError
}

// Archive reports whether successful runs are archived.
func (c *MainConfig) Archive() bool {
	return c.ArchiveOnSuccess == nil || *c.ArchiveOnSuccess
}

// envOverrides are the runtime knobs that may be set from the environment,
// e.g. REFINERY_LOG_LEVEL=debug.
type envOverrides struct {
	InputDir        string `envconfig:"INPUT_DIR"`
	OutputDir       string `envconfig:"OUTPUT_DIR"`
	ProfilesDir     string `envconfig:"PROFILES_DIR"`
	LogFile         string `envconfig:"LOG_FILE"`
	LogLevel        string `envconfig:"LOG_LEVEL"`
	LogFormat       string `envconfig:"LOG_FORMAT"`
	MetricsFile     string `envconfig:"METRICS_FILE"`
	OutputFormat    string `envconfig:"OUTPUT_FORMAT"`
	MaxConcurrency  int    `envconfig:"MAX_CONCURRENCY"`
	ContinueOnError *bool  `envconfig:"CONTINUE_ON_ERROR"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// LoadMainConfig loads the main configuration from a YAML file.
//
// PARAMETERS:
//   - configPath: The path to the main configuration file.
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if the file cannot be read, parsed or validated.
func LoadMainConfig(configPath string) (*MainConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config MainConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyMainConfigDefaults(&config)

	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}

	if err := validateStruct(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyMainConfigDefaults sets default values for any unset configuration options.
func applyMainConfigDefaults(config *MainConfig) {
	if config.InputDir == "" {
		config.InputDir = "./input"
	}
	if config.OutputDir == "" {
		config.OutputDir = "./output"
	}
	if config.InputArchiveDir == "" {
		config.InputArchiveDir = "./input_archive"
	}
	if config.OutputArchiveDir == "" {
		config.OutputArchiveDir = "./output_archive"
	}
	if config.ProfilesDir == "" {
		config.ProfilesDir = "./profiles"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.LogFormat == "" {
		config.LogFormat = "console"
	}
	if config.OutputNameFormat == "" {
		config.OutputNameFormat = "{profile}_{source}_refined"
	}
	config.OutputFormat = strings.ToLower(config.OutputFormat)
	if config.OutputFormat == "" {
		config.OutputFormat = "xlsx"
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 4
	}
}

// applyEnvOverrides replaces file values with any REFINERY_* variables set.
func applyEnvOverrides(config *MainConfig) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to load config from env: %w", err)
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&config.InputDir, env.InputDir)
	override(&config.OutputDir, env.OutputDir)
	override(&config.ProfilesDir, env.ProfilesDir)
	override(&config.LogFile, env.LogFile)
	override(&config.LogLevel, strings.ToLower(env.LogLevel))
	override(&config.LogFormat, strings.ToLower(env.LogFormat))
	override(&config.MetricsFile, env.MetricsFile)
	override(&config.OutputFormat, strings.ToLower(env.OutputFormat))
	if env.MaxConcurrency != 0 {
		config.MaxConcurrency = env.MaxConcurrency
	}
	if env.ContinueOnError != nil {
		config.ContinueOnError = env.ContinueOnError
	}
	return nil
}

// EnsureDirectories creates the working directories if they do not exist.
func (c *MainConfig) EnsureDirectories() error {
	dirs := []string{
		c.InputDir,
		c.OutputDir,
		c.InputArchiveDir,
		c.OutputArchiveDir,
		c.ProfilesDir,
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LoadProfiles loads all source profiles from a directory.
//
// PARAMETERS:
//   - profilesDir: The directory containing profile files (*.yaml, *.yml).
//
// RETURNS:
//   - A map of profiles keyed by profile code.
//   - An error if any file cannot be parsed or validated, or if two files
//     declare the same code.
func LoadProfiles(profilesDir string) (map[string]*SourceProfile, error) {
	profiles := make(map[string]*SourceProfile)

	files, err := ProfileFiles(profilesDir)
	if err != nil {
		return nil, err
	}

	for _, file := range files {
		profile, err := LoadProfile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", file, err)
		}
		if other, ok := profiles[profile.ProfileCode]; ok {
			return nil, fmt.Errorf("profile code %q is declared by both %s and %s",
				profile.ProfileCode, other.SourceFile, file)
		}
		profiles[profile.ProfileCode] = profile
	}

	return profiles, nil
}

// ProfileFiles lists the profile files in a directory, sorted by path.
func ProfileFiles(profilesDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(profilesDir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list profile files: %w", err)
	}
	ymlFiles, err := filepath.Glob(filepath.Join(profilesDir, "*.yml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list profile files: %w", err)
	}
	files = append(files, ymlFiles...)
	sort.Strings(files)
	return files, nil
}

// LoadProfile loads and validates a single profile file. A profile without a
// code is keyed by its file name.
func LoadProfile(filePath string) (*SourceProfile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var profile SourceProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse file: %w", err)
	}
	profile.SourceFile = filePath
	if profile.ProfileCode == "" {
		profile.ProfileCode = strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	}

	applyProfileDefaults(&profile)

	if err := validateStruct(&profile); err != nil {
		return nil, err
	}
	if _, err := profile.PipelineConfig(); err != nil {
		return nil, err
	}

	return &profile, nil
}

// MatchProfile returns the profile whose file patterns match the file name,
// or nil. Profiles are tried in code order and patterns are case-insensitive.
func MatchProfile(filePath string, profiles map[string]*SourceProfile) *SourceProfile {
	fileName := strings.ToLower(filepath.Base(filePath))

	codes := make([]string, 0, len(profiles))
	for code := range profiles {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		for _, pattern := range profiles[code].FileMatchingPatterns {
			matched, err := filepath.Match(strings.ToLower(pattern), fileName)
			if err != nil {
				continue
			}
			if matched {
				return profiles[code]
			}
		}
	}
	return nil
}

// =============================================================================
// STRUCT VALIDATION
// =============================================================================

var structValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report YAML keys rather than Go field names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("timezone", isTimezone)
	_ = v.RegisterValidation("delimiter", isDelimiter)
	return v
}

// validateStruct runs the tag rules and flattens the failures into one error.
func validateStruct(s interface{}) error {
	err := structValidator.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, formatFieldError(fe))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}

func formatFieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", field, fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "timezone":
		return fmt.Sprintf("%s: unknown time zone %v", field, fe.Value())
	case "delimiter":
		return fmt.Sprintf("%s must be a single character or \"auto\", got %q", field, fe.Value())
	}
	return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
}

func isTimezone(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return true
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

func isDelimiter(fl validator.FieldLevel) bool {
	d := fl.Field().String()
	switch d {
	case "", "auto", `\t`, "tab":
		return true
	}
	return utf8.RuneCountInString(d) == 1
}

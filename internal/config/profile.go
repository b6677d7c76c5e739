package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/consumption-refinery/internal/normalizer"
	"github.com/ginjaninja78/consumption-refinery/internal/pipeline"
	"github.com/ginjaninja78/consumption-refinery/internal/schema"
	"github.com/ginjaninja78/consumption-refinery/internal/types"
	"github.com/ginjaninja78/consumption-refinery/internal/validation"
)

// =============================================================================
// SOURCE PROFILE STRUCTURE
// =============================================================================

// SourceProfile holds the configuration for one family of input tables.
// Each profile says which files it applies to, how to read them and how the
// refinement pipeline is configured for them.
type SourceProfile struct {
	// =========================================================================
	// PROFILE IDENTIFICATION
	// =========================================================================

	// ProfileName is the human-readable name used in logs.
	ProfileName string `yaml:"profile_name"`

	// ProfileCode is a short code used as the profile key and in output
	// file names. Defaults to the profile file name.
	ProfileCode string `yaml:"profile_code" validate:"required"`

	// SourceFile is the file the profile was loaded from.
	SourceFile string `yaml:"-"`

	// =========================================================================
	// FILE MATCHING RULES
	// =========================================================================

	// FileMatchingPatterns is a list of glob patterns matched against input
	// file names, case-insensitively.
	// Examples:
	//   - "site_*_meters.csv"
	//   - "*water*.xlsx"
	FileMatchingPatterns []string `yaml:"file_matching_patterns" validate:"required,min=1"`

	// =========================================================================
	// READING
	// =========================================================================

	// CSVSettings contains settings for parsing CSV inputs.
	CSVSettings CSVSettings `yaml:"csv_settings"`

	// SheetName selects the worksheet of XLSX inputs. Empty means the
	// workbook must have exactly one sheet.
	SheetName string `yaml:"sheet_name"`

	// =========================================================================
	// REFINEMENT
	// =========================================================================

	Mapping       MappingSettings          `yaml:"mapping"`
	Normalization NormalizationSettings    `yaml:"normalization"`
	RewriteRules  []normalizer.RewriteRule `yaml:"rewrite_rules" validate:"dive"`
	Aggregation   AggregationSettings      `yaml:"aggregation"`
	Validation    ValidationSettings       `yaml:"validation"`

	// OnRowError is "skip" or "abort".
	// Default: "skip"
	OnRowError string `yaml:"on_row_error" validate:"oneof=skip abort"`

	// Workers bounds the per-entity fan-out inside one table.
	// Default: 1
	Workers int `yaml:"workers" validate:"min=1"`
}

// CSVSettings contains settings for parsing CSV files.
type CSVSettings struct {
	// Delimiter is the field separator, or "auto" to sniff it from the
	// first lines. "\t" and "tab" mean a tab.
	// Default: "auto"
	Delimiter string `yaml:"delimiter" validate:"delimiter"`

	// HeaderRow is the 1-based row holding the column names. 0 detects it
	// by scoring the leading rows against the mapping.
	// Default: 0
	HeaderRow int `yaml:"header_row" validate:"min=0"`

	// Encoding is "auto", "utf-8", "windows-1252" or "iso-8859-1". "auto"
	// reads UTF-8 and falls back to Windows-1252 for invalid input.
	// Default: "auto"
	Encoding string `yaml:"encoding" validate:"oneof=auto utf-8 windows-1252 iso-8859-1"`
}

// MappingSettings configures the schema mapper.
type MappingSettings struct {
	// Synonyms replaces the default synonym list of each named field.
	// Keys are canonical field names.
	Synonyms map[string][]string `yaml:"synonyms"`

	// Positions pins fields to 0-based column positions for headerless
	// or positional layouts.
	Positions map[string]int `yaml:"positions"`

	// IgnoreColumns are headers that are never mapped and never reported.
	IgnoreColumns []string `yaml:"ignore_columns"`

	// Threshold is the minimum fuzzy similarity, in (0, 1].
	// Default: 0.85
	Threshold float64 `yaml:"threshold" validate:"min=0,max=1"`
}

// NormalizationSettings configures the value normalizer.
type NormalizationSettings struct {
	// DateFormats are Go time layouts tried in order. Empty uses the
	// built-in list.
	DateFormats []string `yaml:"date_formats"`

	// Timezone interprets zone-less timestamps, e.g. "Europe/Berlin".
	// Default: UTC
	Timezone string `yaml:"timezone" validate:"timezone"`

	// AcceptExcelSerial allows numeric Excel serial dates.
	AcceptExcelSerial bool `yaml:"accept_excel_serial"`

	// Locale is a named number format: en, de, fr or ch.
	// Default: "en"
	Locale string `yaml:"locale"`

	// ThousandsSeparator and DecimalSeparator override the named locale.
	ThousandsSeparator *string `yaml:"thousands_separator"`
	DecimalSeparator   string  `yaml:"decimal_separator"`

	// Units replaces the built-in unit table. Keys are source spellings.
	Units map[string]normalizer.UnitSpec `yaml:"units"`
}

// AggregationSettings configures the aggregator.
type AggregationSettings struct {
	// Grain is "day", "week" or "month".
	// Default: "day"
	Grain string `yaml:"grain" validate:"oneof=day week month"`

	// Timezone aligns bucket boundaries. Default: the normalization timezone.
	Timezone string `yaml:"timezone" validate:"timezone"`
}

// ValidationSettings configures the built-in rules.
type ValidationSettings struct {
	// MaxNoDataRun is the longest tolerated run of consecutive no-data
	// buckets. A negative value disables the gap rule.
	// Default: 3
	MaxNoDataRun *int `yaml:"max_no_data_run"`

	// MinCoverage is the coverage fraction below which a data bucket is
	// flagged, e.g. "0.8". Empty or "0" disables the rule.
	MinCoverage string `yaml:"min_coverage"`
}

// applyProfileDefaults sets default values for profile configuration.
func applyProfileDefaults(profile *SourceProfile) {
	if profile.ProfileName == "" {
		profile.ProfileName = profile.ProfileCode
	}

	csv := &profile.CSVSettings
	if csv.Delimiter == "" {
		csv.Delimiter = "auto"
	}
	csv.Encoding = strings.ToLower(csv.Encoding)
	if csv.Encoding == "" {
		csv.Encoding = "auto"
	}

	if profile.Normalization.Locale == "" {
		profile.Normalization.Locale = "en"
	}

	profile.Aggregation.Grain = strings.ToLower(profile.Aggregation.Grain)
	if profile.Aggregation.Grain == "" {
		profile.Aggregation.Grain = string(types.GrainDay)
	}

	if profile.Validation.MaxNoDataRun == nil {
		n := DefaultMaxNoDataRun
		profile.Validation.MaxNoDataRun = &n
	}

	profile.OnRowError = strings.ToLower(profile.OnRowError)
	if profile.OnRowError == "" {
		profile.OnRowError = string(pipeline.SkipRow)
	}
	if profile.Workers == 0 {
		profile.Workers = 1
	}
}

// =============================================================================
// PIPELINE CONFIGURATION
// =============================================================================

// PipelineConfig builds the immutable refinement configuration described by
// the profile.
//
// RETURNS:
//   - The pipeline configuration.
//   - An error naming the first setting that cannot be resolved.
func (p *SourceProfile) PipelineConfig() (pipeline.Config, error) {
	var cfg pipeline.Config

	mapping, err := p.Mapping.schemaMapping()
	if err != nil {
		return cfg, err
	}

	norm, err := p.Normalization.normalizerConfig()
	if err != nil {
		return cfg, err
	}
	if _, err := normalizer.NewRewriter(p.RewriteRules); err != nil {
		return cfg, fmt.Errorf("rewrite_rules: %w", err)
	}
	norm.Rewrites = p.RewriteRules

	grain, err := types.ParseGrain(p.Aggregation.Grain)
	if err != nil {
		return cfg, err
	}
	var bucketLoc *time.Location
	if p.Aggregation.Timezone != "" {
		if bucketLoc, err = time.LoadLocation(p.Aggregation.Timezone); err != nil {
			return cfg, fmt.Errorf("aggregation.timezone: %w", err)
		}
	}

	opts := validation.Options{MaxNoDataRun: DefaultMaxNoDataRun}
	if p.Validation.MaxNoDataRun != nil {
		opts.MaxNoDataRun = *p.Validation.MaxNoDataRun
	}
	if s := strings.TrimSpace(p.Validation.MinCoverage); s != "" {
		if opts.MinCoverage, err = decimal.NewFromString(s); err != nil {
			return cfg, fmt.Errorf("validation.min_coverage: invalid number %q", s)
		}
		if opts.MinCoverage.IsNegative() || opts.MinCoverage.GreaterThan(decimal.NewFromInt(1)) {
			return cfg, fmt.Errorf("validation.min_coverage must be between 0 and 1, got %s", s)
		}
	}

	policy, err := pipeline.ParseRowErrorPolicy(p.OnRowError)
	if err != nil {
		return cfg, err
	}

	cfg = pipeline.Config{
		Mapping:       mapping,
		Normalization: norm,
		Grain:         grain,
		Location:      bucketLoc,
		Validation:    opts,
		OnRowError:    policy,
		Workers:       p.Workers,
	}
	return cfg, nil
}

func (m MappingSettings) schemaMapping() (schema.Mapping, error) {
	out := schema.Mapping{
		IgnoreColumns: m.IgnoreColumns,
		Threshold:     m.Threshold,
	}

	if len(m.Synonyms) > 0 {
		out.Synonyms = make(map[types.CanonicalField][]string, len(m.Synonyms))
		for name, list := range m.Synonyms {
			f, err := types.ParseCanonicalField(name)
			if err != nil {
				return out, fmt.Errorf("mapping.synonyms: %w", err)
			}
			out.Synonyms[f] = list
		}
	}

	if len(m.Positions) > 0 {
		out.Positions = make(map[types.CanonicalField]int, len(m.Positions))
		for name, pos := range m.Positions {
			f, err := types.ParseCanonicalField(name)
			if err != nil {
				return out, fmt.Errorf("mapping.positions: %w", err)
			}
			out.Positions[f] = pos
		}
	}

	if _, err := schema.NewMapper(out); err != nil {
		return out, fmt.Errorf("mapping: %w", err)
	}
	return out, nil
}

func (n NormalizationSettings) normalizerConfig() (normalizer.Config, error) {
	cfg := normalizer.Config{
		DateFormats:       n.DateFormats,
		AcceptExcelSerial: n.AcceptExcelSerial,
	}

	if n.Timezone != "" {
		loc, err := time.LoadLocation(n.Timezone)
		if err != nil {
			return cfg, fmt.Errorf("normalization.timezone: %w", err)
		}
		cfg.Location = loc
	}

	locale, err := normalizer.LocaleByName(n.Locale)
	if err != nil {
		return cfg, fmt.Errorf("normalization.locale: %w", err)
	}
	if n.ThousandsSeparator != nil {
		locale.Thousands = *n.ThousandsSeparator
	}
	if n.DecimalSeparator != "" {
		locale.Decimal = n.DecimalSeparator
	}
	if err := locale.Validate(); err != nil {
		return cfg, fmt.Errorf("normalization: %w", err)
	}
	cfg.Locale = locale

	units, err := normalizer.NewUnitTable(n.Units)
	if err != nil {
		return cfg, fmt.Errorf("normalization.units: %w", err)
	}
	cfg.Units = units
	return cfg, nil
}

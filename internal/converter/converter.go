// =============================================================================
// Consumption Refinery - Converter Module
// =============================================================================
//
// This module refines a single input file end to end. It orchestrates the
// readers, the refinement pipeline, the table writer and archival.
//
// CONVERSION PIPELINE:
//   1. Build the pipeline configuration from the source profile
//   2. Read the input table (CSV or XLSX)
//   3. Refine the rows
//   4. Stop on fatal issues unless they are explicitly allowed
//   5. Write the refined table
//   6. Archive the processed files
//
// CONCURRENCY:
//   A Converter owns nothing shared, so several can run at once on
//   different files.
//
// =============================================================================

package converter

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ginjaninja78/consumption-refinery/internal/config"
	"github.com/ginjaninja78/consumption-refinery/internal/csvparser"
	"github.com/ginjaninja78/consumption-refinery/internal/pipeline"
	"github.com/ginjaninja78/consumption-refinery/internal/schema"
	"github.com/ginjaninja78/consumption-refinery/internal/tablewriter"
	"github.com/ginjaninja78/consumption-refinery/internal/types"
	"github.com/ginjaninja78/consumption-refinery/internal/validation"
	"github.com/ginjaninja78/consumption-refinery/internal/xlsxparser"
	"github.com/ginjaninja78/consumption-refinery/pkg/utils"
)

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of processing a single file.
type Result struct {
	// FilePath is the path to the input file that was processed.
	FilePath string

	// Profile is the code of the profile used.
	Profile string

	// OutputFile is the path to the refined table.
	// This is empty if processing failed or was a dry run.
	OutputFile string

	// ArchivePath is where the input was archived, if it was.
	ArchivePath string

	// Success indicates whether the processing was successful.
	Success bool

	// Error contains the error if processing failed.
	Error error

	// Issues are all issues raised for the file, including skipped rows.
	Issues []types.ValidationIssue

	// Stats contains processing statistics.
	Stats ProcessingStats
}

// ProcessingStats contains statistics about the processing.
type ProcessingStats struct {
	pipeline.Stats

	// ProcessingTime is the time taken to process the file.
	ProcessingTime time.Duration
}

// FatalIssuesError stops a file whose refined table has fatal issues.
type FatalIssuesError struct {
	Count int
}

func (e *FatalIssuesError) Error() string {
	return fmt.Sprintf("refined table has %d fatal issue(s); output not written", e.Count)
}

// Options adjust a run.
type Options struct {
	// DryRun refines and validates without writing or archiving.
	DryRun bool

	// AllowFatal writes the table even when it has fatal issues.
	AllowFatal bool
}

// =============================================================================
// CONVERTER STRUCTURE
// =============================================================================

// Converter refines a single input file.
type Converter struct {
	path       string
	profile    *config.SourceProfile
	mainConfig *config.MainConfig
	files      *utils.FileManager
	opts       Options
	logger     *zap.Logger
}

// New creates a new Converter instance.
//
// PARAMETERS:
//   - path: The input file (.csv or .xlsx).
//   - profile: The matching source profile.
//   - mainConfig: The main application configuration.
//   - logger: The run logger; nil discards.
func New(path string, profile *config.SourceProfile, mainConfig *config.MainConfig, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	files := utils.NewFileManager(mainConfig.InputDir, mainConfig.OutputDir,
		mainConfig.InputArchiveDir, mainConfig.OutputArchiveDir)
	files.ArchiveOnSuccess = mainConfig.Archive()

	return &Converter{
		path:       path,
		profile:    profile,
		mainConfig: mainConfig,
		files:      files,
		logger: logger.With(
			zap.String("file", filepath.Base(path)),
			zap.String("profile", profile.ProfileCode)),
	}
}

// WithOptions sets the run options.
func (c *Converter) WithOptions(opts Options) *Converter {
	c.opts = opts
	return c
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the conversion pipeline for the file. Cancelling ctx stops
// refinement between entities.
func (c *Converter) Run(ctx context.Context) Result {
	startTime := time.Now()
	result := Result{
		FilePath: c.path,
		Profile:  c.profile.ProfileCode,
	}
	defer func() { result.Stats.ProcessingTime = time.Since(startTime) }()

	c.logger.Info("processing file")

	// =========================================================================
	// STEP 1: PIPELINE CONFIGURATION
	// =========================================================================

	cfg, err := c.profile.PipelineConfig()
	if err != nil {
		result.Error = fmt.Errorf("invalid profile %s: %w", c.profile.ProfileCode, err)
		return result
	}

	// =========================================================================
	// STEP 2: READ INPUT TABLE
	// =========================================================================

	table, err := c.readTable(&cfg)
	if err != nil {
		result.Error = fmt.Errorf("failed to read input: %w", err)
		return result
	}
	c.logger.Debug("table read",
		zap.Int("header_row", table.HeaderRow),
		zap.Strings("headers", table.Headers),
		zap.Int("rows", table.RowCount()))

	// =========================================================================
	// STEP 3: REFINE
	// =========================================================================

	refined, err := pipeline.Refine(ctx, table.RawRows(), cfg, c.logger)
	if err != nil {
		result.Error = fmt.Errorf("refinement failed: %w", err)
		return result
	}
	result.Issues = refined.Issues
	result.Stats.Stats = refined.Stats

	for _, is := range refined.Issues {
		c.logIssue(is)
	}

	// =========================================================================
	// STEP 4: FATAL ISSUES
	// =========================================================================

	report := validation.Summarize(refined.Issues)
	c.logger.Info("validation complete", zap.Stringer("issues", report))
	if !report.Exportable() && !c.opts.AllowFatal {
		result.Error = &FatalIssuesError{Count: report.Fatal}
		return result
	}

	if c.opts.DryRun {
		c.logger.Info("dry run complete", zap.Int("buckets", len(refined.Records)))
		result.Success = true
		return result
	}

	// =========================================================================
	// STEP 5: WRITE OUTPUT
	// =========================================================================

	format, err := tablewriter.ParseFormat(c.mainConfig.OutputFormat)
	if err != nil {
		result.Error = err
		return result
	}
	name := utils.GenerateOutputFileName(c.mainConfig.OutputNameFormat, map[string]string{
		"profile": c.profile.ProfileCode,
		"source":  utils.SourceName(c.path),
	})
	outputPath, err := tablewriter.New(c.mainConfig.OutputDir).Save(refined.Records, refined.Issues, name, format)
	if err != nil {
		result.Error = fmt.Errorf("failed to write output: %w", err)
		return result
	}
	result.OutputFile = outputPath
	c.logger.Info("wrote output", zap.String("output", outputPath))

	// =========================================================================
	// STEP 6: ARCHIVE FILES
	// =========================================================================

	archived, err := c.archiveFiles(outputPath)
	result.ArchivePath = archived
	if err != nil {
		// Archival problems do not fail the file.
		c.logger.Warn("failed to archive files",
			zap.String("input_archive", archived), zap.Error(err))
	}

	result.Success = true
	return result
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// readTable reads the input with the reader for its extension. XLSX date
// cells arrive as serial numbers, so serials are accepted for XLSX input.
func (c *Converter) readTable(cfg *pipeline.Config) (*csvparser.Table, error) {
	mapper, err := schema.NewMapper(cfg.Mapping)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(c.path)) {
	case ".csv":
		return csvparser.Parse(c.path, c.profile.CSVSettings, mapper)
	case ".xlsx":
		cfg.Normalization.AcceptExcelSerial = true
		return xlsxparser.Parse(c.path, c.profile.SheetName, c.profile.CSVSettings.HeaderRow, mapper)
	}
	return nil, fmt.Errorf("unsupported input file type %q", filepath.Ext(c.path))
}

func (c *Converter) logIssue(is types.ValidationIssue) {
	fields := []zap.Field{
		zap.String("rule", is.Rule),
		zap.String("severity", string(is.Severity)),
		zap.Stringer("ref", is.Ref),
	}
	switch is.Severity {
	case types.SeverityFatal, types.SeverityError:
		c.logger.Error(is.Message, fields...)
	case types.SeverityWarning:
		c.logger.Warn(is.Message, fields...)
	default:
		c.logger.Debug(is.Message, fields...)
	}
}

// archiveFiles moves the input to the input archive and copies the output to
// the output archive. It returns the archived input path.
func (c *Converter) archiveFiles(outputPath string) (string, error) {
	if !c.files.ArchiveOnSuccess {
		return "", nil
	}

	archived, err := c.files.ArchiveInputFile(c.path)
	if err != nil {
		return "", fmt.Errorf("failed to archive input file: %w", err)
	}
	if _, err := c.files.ArchiveOutputFile(outputPath); err != nil {
		return archived, fmt.Errorf("failed to archive output file: %w", err)
	}
	return archived, nil
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

// ErrorType names the kind of failure for summaries: "schema", "row",
// "fatal_issues", "cancelled" or "processing".
func ErrorType(err error) string {
	var fatal *FatalIssuesError
	switch {
	case err == nil:
		return ""
	case types.IsSchemaError(err):
		return "schema"
	case types.IsRowError(err):
		return "row"
	case errors.As(err, &fatal):
		return "fatal_issues"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "processing"
}

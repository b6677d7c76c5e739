// =============================================================================
// Consumption Refinery - Process Command
// =============================================================================
//
// This file defines the 'process' command, the main command of the refinery.
//
// COMMAND USAGE:
//   refinery process [flags]
//
// FLAGS:
//   --dry-run     : Refine and validate without writing or archiving
//   --single      : Process only a single file (specify with --file)
//   --file        : Path to a specific file to process (used with --single)
//   --profile     : Process only files for a specific profile
//   --allow-fatal : Write refined tables even when they have fatal issues
//
// PROCESSING PIPELINE:
//   1. Load configuration and profiles
//   2. Discover input files
//   3. Match each file to a profile
//   4. Refine files concurrently, bounded by max_concurrency
//   5. Write the issue log, the processing summary and run metrics
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/consumption-refinery/internal/config"
	"github.com/ginjaninja78/consumption-refinery/internal/converter"
	"github.com/ginjaninja78/consumption-refinery/internal/metrics"
	"github.com/ginjaninja78/consumption-refinery/internal/types"
	"github.com/ginjaninja78/consumption-refinery/internal/validation"
	"github.com/ginjaninja78/consumption-refinery/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	dryRun      bool
	singleFile  bool
	filePath    string
	profileCode string
	allowFatal  bool
)

// =============================================================================
// PROCESS COMMAND DEFINITION
// =============================================================================

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Refine consumption exports into period tables",
	Long: `The process command scans the input directory for CSV and XLSX files,
matches each to a source profile and refines it into a period table.

Files are processed concurrently. Unless continue_on_error is false, a
failure in one file does not stop the others.

On success:
  - The refined table is placed in the output directory
  - The input is moved to the input archive

On error:
  - The input remains in the input directory
  - The failure is recorded in the processing summary

Every run except a dry run writes an issue log and a processing summary to
the output directory. With metrics_file set, run metrics are written there.`,

	RunE: func(cmd *cobra.Command, args []string) error {
		return runProcess(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Refine and validate without writing output or archiving")
	processCmd.Flags().BoolVar(&singleFile, "single", false,
		"Process only a single file (use with --file)")
	processCmd.Flags().StringVar(&filePath, "file", "",
		"Path to a specific file to process (used with --single)")
	processCmd.Flags().StringVar(&profileCode, "profile", "",
		"Process only files for a specific profile code")
	processCmd.Flags().BoolVar(&allowFatal, "allow-fatal", false,
		"Write refined tables even when they have fatal issues")
}

// job is one input file and the profile it matched.
type job struct {
	path    string
	profile *config.SourceProfile
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

func runProcess(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()

	startTime := time.Now()

	// =========================================================================
	// STEP 1: LOAD CONFIGURATION
	// =========================================================================

	rt, err := loadSession()
	if err != nil {
		return err
	}
	defer rt.close()
	log := rt.logger

	fmt.Println("=== Consumption Refinery ===")

	if err := rt.config.EnsureDirectories(); err != nil {
		return err
	}

	profiles, err := config.LoadProfiles(rt.config.ProfilesDir)
	if err != nil {
		return fmt.Errorf("failed to load profiles: %w", err)
	}
	if profileCode != "" {
		p, ok := profiles[profileCode]
		if !ok {
			return fmt.Errorf("unknown profile %q", profileCode)
		}
		profiles = map[string]*config.SourceProfile{profileCode: p}
	}
	log.Info("configuration loaded", zap.Int("profiles", len(profiles)))
	fmt.Printf("Loaded %d profile(s)\n", len(profiles))

	// =========================================================================
	// STEP 2: DISCOVER INPUT FILES
	// =========================================================================

	files := utils.NewFileManager(rt.config.InputDir, rt.config.OutputDir,
		rt.config.InputArchiveDir, rt.config.OutputArchiveDir)

	var inputFiles []string
	if singleFile {
		if filePath == "" {
			return fmt.Errorf("--single requires --file")
		}
		if _, err := os.Stat(filePath); err != nil {
			return fmt.Errorf("cannot read input file: %w", err)
		}
		if !utils.IsInputFile(filePath) {
			return fmt.Errorf("%s is not a .csv or .xlsx file", filePath)
		}
		inputFiles = []string{filePath}
	} else {
		inputFiles, err = files.DiscoverInputFiles()
		if err != nil {
			return fmt.Errorf("failed to discover input files: %w", err)
		}
	}

	if len(inputFiles) == 0 {
		fmt.Println("No input files found in the input directory.")
		return nil
	}
	fmt.Printf("Found %d file(s) to process\n", len(inputFiles))

	// =========================================================================
	// STEP 3: MATCH PROFILES
	// =========================================================================

	summary := utils.ProcessingSummary{
		RunID:      rt.runID,
		StartTime:  startTime,
		TotalFiles: len(inputFiles),
		Issues:     make(map[types.Severity]int),
	}

	var jobs []job
	for _, path := range inputFiles {
		profile := config.MatchProfile(path, profiles)
		if profile == nil {
			log.Warn("no matching profile", zap.String("file", filepath.Base(path)))
			summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
				InputFile:    path,
				ErrorMessage: "no matching profile",
				ErrorType:    "profile",
			})
			continue
		}
		jobs = append(jobs, job{path: path, profile: profile})
	}

	// =========================================================================
	// STEP 4: PROCESS FILES CONCURRENTLY
	// =========================================================================

	fmt.Println("Processing files...")
	results := processJobs(ctx, rt, jobs)

	// =========================================================================
	// STEP 5: COLLECT RESULTS AND WRITE REPORTS
	// =========================================================================

	var issueEntries []utils.IssueLogEntry
	for _, result := range results {
		name := filepath.Base(result.FilePath)
		for _, is := range result.Issues {
			issueEntries = append(issueEntries, utils.IssueLogEntry{FileName: name, Issue: is})
			summary.Issues[is.Severity]++
		}
		summary.TotalRows += result.Stats.RowsRead
		summary.SkippedRows += result.Stats.RowsSkipped
		summary.TotalBuckets += result.Stats.Buckets
		summary.NoDataBuckets += result.Stats.NoDataBuckets

		if result.Success {
			summary.ProcessedFiles = append(summary.ProcessedFiles, utils.ProcessedFileInfo{
				InputFile:   result.FilePath,
				OutputFile:  result.OutputFile,
				ArchivePath: result.ArchivePath,
				Profile:     result.Profile,
				Rows:        result.Stats.RowsRead,
				Buckets:     result.Stats.Buckets,
				Issues:      len(result.Issues),
				ProcessTime: result.Stats.ProcessingTime,
			})
			target := result.OutputFile
			if target == "" {
				target = "(dry run)"
			}
			fmt.Printf("  ✓ %s -> %s\n", name, target)
			if dryRun {
				for _, is := range result.Issues {
					fmt.Printf("      %s\n", validation.FormatIssue(is))
				}
			}
			continue
		}

		summary.FailedFilesList = append(summary.FailedFilesList, utils.FailedFileInfo{
			InputFile:    result.FilePath,
			ErrorMessage: result.Error.Error(),
			ErrorType:    converter.ErrorType(result.Error),
		})
		fmt.Printf("  ✗ %s: %v\n", name, result.Error)
	}

	summary.SuccessfulFiles = len(summary.ProcessedFiles)
	summary.FailedFiles = len(summary.FailedFilesList)
	summary.EndTime = time.Now()
	sort.Slice(summary.FailedFilesList, func(i, j int) bool {
		return summary.FailedFilesList[i].InputFile < summary.FailedFilesList[j].InputFile
	})

	if rt.config.MetricsFile != "" {
		if err := writeMetrics(ctx, rt.config.MetricsFile, results, summary.FailedFilesList); err != nil {
			log.Error("failed to write metrics", zap.Error(err))
		}
	}

	if !dryRun {
		if path, err := utils.WriteIssueLog(issueEntries, rt.config.OutputDir); err != nil {
			log.Error("failed to write issue log", zap.Error(err))
		} else if path != "" {
			log.Info("issue log written", zap.String("path", path))
		}
		if path, err := utils.WriteSummaryLog(summary, rt.config.OutputDir); err != nil {
			log.Error("failed to write summary", zap.Error(err))
		} else {
			log.Info("summary written", zap.String("path", path))
		}
	}

	fmt.Println("\n=== Processing Complete ===")
	fmt.Printf("Total files:     %d\n", summary.TotalFiles)
	fmt.Printf("Successful:      %d\n", summary.SuccessfulFiles)
	fmt.Printf("Errors:          %d\n", summary.FailedFiles)
	fmt.Printf("Issues:          %d\n", len(issueEntries))
	fmt.Printf("Time elapsed:    %s\n", summary.EndTime.Sub(startTime).Round(time.Millisecond))

	if summary.FailedFiles > 0 {
		return fmt.Errorf("%d of %d file(s) failed", summary.FailedFiles, summary.TotalFiles)
	}
	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// processJobs refines every job with at most max_concurrency files in flight.
// When continue_on_error is off the first failure cancels the files not yet
// started. Results keep the order of jobs.
func processJobs(ctx context.Context, rt *session, jobs []job) []converter.Result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := converter.Options{DryRun: dryRun, AllowFatal: allowFatal}
	keepGoing := rt.config.KeepGoing()

	results := make([]converter.Result, len(jobs))
	var g errgroup.Group
	g.SetLimit(rt.config.MaxConcurrency)

	for i, j := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = converter.Result{FilePath: j.path, Profile: j.profile.ProfileCode, Error: err}
				return nil
			}
			results[i] = converter.New(j.path, j.profile, rt.config, rt.logger).WithOptions(opts).Run(ctx)
			if !results[i].Success && !keepGoing {
				rt.logger.Warn("stopping after failure", zap.String("file", filepath.Base(j.path)))
				cancel()
			}
			return nil
		})
	}
	g.Wait()
	return results
}

// writeMetrics records every file outcome and writes the metrics textfile.
// Files without a profile are counted under an empty profile.
func writeMetrics(ctx context.Context, path string, results []converter.Result, unmatched []utils.FailedFileInfo) error {
	rec, err := metrics.New(Version)
	if err != nil {
		return err
	}
	defer rec.Shutdown(context.Background())

	for _, r := range results {
		rec.RecordFile(ctx, metrics.FileOutcome{
			Profile:       r.Profile,
			Success:       r.Success,
			ErrorType:     converter.ErrorType(r.Error),
			Rows:          r.Stats.RowsRead,
			SkippedRows:   r.Stats.RowsSkipped,
			Buckets:       r.Stats.Buckets,
			NoDataBuckets: r.Stats.NoDataBuckets,
			Issues:        r.Stats.IssuesBySeverity,
			Duration:      r.Stats.ProcessingTime,
		})
	}
	for _, f := range unmatched {
		if f.ErrorType == "profile" {
			rec.RecordFile(ctx, metrics.FileOutcome{ErrorType: f.ErrorType})
		}
	}
	return rec.WriteTextfile(path)
}

// =============================================================================
// Consumption Refinery - File Manager Utility
// =============================================================================
//
// This module provides file management utilities for batch refinement:
//   - Input discovery (.csv and .xlsx tables)
//   - File archival (moving processed inputs, copying outputs)
//   - Output naming from a placeholder format
//   - Issue log and processing summary generation
//
// ARCHIVAL STRATEGY:
//   - Input files are moved to input_archive after successful processing
//   - Output files are copied to output_archive for long-term storage
//   - Failed files remain in their original location
//   - An archived file never replaces an earlier archive of the same name
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

// InputExtensions are the table formats picked up from the input directory.
var InputExtensions = []string{".csv", ".xlsx"}

// now is replaced in tests.
var now = time.Now

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the refinery.
type FileManager struct {
	// InputDir is the directory where input tables are placed.
	InputDir string

	// OutputDir is the directory where refined tables are placed.
	OutputDir string

	// InputArchiveDir is the directory for archived input files.
	InputArchiveDir string

	// OutputArchiveDir is the directory for archived output files.
	OutputArchiveDir string

	// UseTimestampSubdirs creates date-based subdirectories in archives.
	// Example: input_archive/2024/01/15/meters.csv
	UseTimestampSubdirs bool

	// ArchiveOnSuccess determines whether to archive files after successful processing.
	ArchiveOnSuccess bool
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(inputDir, outputDir, inputArchiveDir, outputArchiveDir string) *FileManager {
	return &FileManager{
		InputDir:         inputDir,
		OutputDir:        outputDir,
		InputArchiveDir:  inputArchiveDir,
		OutputArchiveDir: outputArchiveDir,
		ArchiveOnSuccess: true,
	}
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverInputFiles lists the input tables in the input directory, sorted by
// name. Hidden files and spreadsheet lock files ("~$...") are skipped.
//
// RETURNS:
//   - A slice of file paths.
//   - An error if the directory cannot be read.
func (fm *FileManager) DiscoverInputFiles() ([]string, error) {
	entries, err := os.ReadDir(fm.InputDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan input directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			continue
		}
		if IsInputFile(name) {
			files = append(files, filepath.Join(fm.InputDir, name))
		}
	}
	sort.Strings(files)
	return files, nil
}

// IsInputFile reports whether the file has a supported table extension.
func IsInputFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range InputExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves an input file to the archive directory.
//
// RETURNS:
//   - The path to the archived file.
//   - An error if archival fails.
func (fm *FileManager) ArchiveInputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess {
		return filePath, nil
	}

	archivePath, err := fm.prepareArchivePath(fm.InputArchiveDir, filePath)
	if err != nil {
		return "", err
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// If rename fails (e.g., cross-device), try copy and delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", fmt.Errorf("failed to copy file to archive: %w", err)
		}
		if err := os.Remove(filePath); err != nil {
			return "", fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return archivePath, nil
}

// ArchiveOutputFile copies an output file to the archive directory. The
// output stays in place.
func (fm *FileManager) ArchiveOutputFile(filePath string) (string, error) {
	if !fm.ArchiveOnSuccess {
		return filePath, nil
	}

	archivePath, err := fm.prepareArchivePath(fm.OutputArchiveDir, filePath)
	if err != nil {
		return "", err
	}

	if err := copyFile(filePath, archivePath); err != nil {
		return "", fmt.Errorf("failed to copy file to archive: %w", err)
	}

	return archivePath, nil
}

// prepareArchivePath creates the archive directory and returns a path in it
// that does not exist yet.
func (fm *FileManager) prepareArchivePath(archiveDir, filePath string) (string, error) {
	dir := archiveDir
	if fm.UseTimestampSubdirs {
		t := now()
		dir = filepath.Join(archiveDir,
			fmt.Sprintf("%d", t.Year()),
			fmt.Sprintf("%02d", t.Month()),
			fmt.Sprintf("%02d", t.Day()))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := filepath.Base(filePath)
	path := filepath.Join(dir, name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path, nil
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	stamp := now().Format("20060102_150405")
	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%s_%d%s", stem, stamp, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// GenerateOutputFileName builds an output base name, without extension.
//
// PARAMETERS:
//   - format: The format string for the file name.
//             Placeholders:
//               {uuid}      - A random UUID
//               {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//               {date}      - Current date (YYYYMMDD)
//               {profile}   - Profile code
//               {source}    - Input file name without extension
//   - params: A map of placeholder values, keyed without braces.
//
// RETURNS:
//   - The generated base name. Path separators and ".." coming from
//     parameter values are replaced with "_".
//
// EXAMPLE:
//   format: "{profile}_{source}_{timestamp}"
//   params: {"profile": "meters", "source": "site_north"}
//   output: "meters_site_north_20240115_143022"
func GenerateOutputFileName(format string, params map[string]string) string {
	t := now()

	pairs := []string{
		"{uuid}", uuid.New().String(),
		"{timestamp}", t.Format("20060102_150405"),
		"{date}", t.Format("20060102"),
	}
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		pairs = append(pairs, "{"+key+"}", safeNamePart(params[key]))
	}

	// A single pass, so values are never re-expanded.
	return strings.NewReplacer(pairs...).Replace(format)
}

// SourceName is the input file name without directory and extension.
func SourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func safeNamePart(s string) string {
	s = strings.NewReplacer("/", "_", `\`, "_").Replace(s)
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "_")
	}
	return s
}

// =============================================================================
// ISSUE LOG GENERATION
// =============================================================================

// IssueLogEntry is one validation issue raised while refining a file.
type IssueLogEntry struct {
	FileName string
	Issue    types.ValidationIssue
}

// WriteIssueLog writes issue entries to a text log in outputDir.
//
// RETURNS:
//   - The path to the issue log, or "" when there is nothing to write.
//   - An error if writing fails.
func WriteIssueLog(entries []IssueLogEntry, outputDir string) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	t := now()
	logPath := filepath.Join(outputDir, fmt.Sprintf("issue_log_%s.txt", t.Format("20060102_150405")))

	file, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("failed to create issue log: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	counts := make(map[types.Severity]int)
	for _, e := range entries {
		counts[e.Issue.Severity]++
	}
	fmt.Fprintf(writer, "Consumption Refinery - Issue Log\n"+
		"Generated: %s\n"+
		"Total Issues: %d (fatal %d, error %d, warning %d, info %d)\n"+
		"================================================================================\n\n",
		t.Format("2006-01-02 15:04:05"), len(entries),
		counts[types.SeverityFatal], counts[types.SeverityError],
		counts[types.SeverityWarning], counts[types.SeverityInfo])

	for i, entry := range entries {
		is := entry.Issue
		fmt.Fprintf(writer, "Issue #%d\n"+
			"  File:      %s\n"+
			"  Severity:  %s\n"+
			"  Rule:      %s\n"+
			"  Location:  %s\n"+
			"  Message:   %s\n\n",
			i+1, entry.FileName, is.Severity, is.Rule, is.Ref, is.Message)
	}

	writer.WriteString("================================================================================\n" +
		"End of Issue Log\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush issue log: %w", err)
	}
	return logPath, nil
}

// =============================================================================
// PROCESSING SUMMARY
// =============================================================================

// ProcessingSummary contains summary information about a processing run.
type ProcessingSummary struct {
	RunID           string
	StartTime       time.Time
	EndTime         time.Time
	TotalFiles      int
	SuccessfulFiles int
	FailedFiles     int
	TotalRows       int
	SkippedRows     int
	TotalBuckets    int
	NoDataBuckets   int
	Issues          map[types.Severity]int
	ProcessedFiles  []ProcessedFileInfo
	FailedFilesList []FailedFileInfo
}

// ProcessedFileInfo contains information about a successfully processed file.
type ProcessedFileInfo struct {
	InputFile   string
	OutputFile  string
	ArchivePath string
	Profile     string
	Rows        int
	Buckets     int
	Issues      int
	ProcessTime time.Duration
}

// FailedFileInfo contains information about a failed file.
type FailedFileInfo struct {
	InputFile    string
	ErrorMessage string
	ErrorType    string
}

// WriteSummaryLog writes a processing summary to a text file in outputDir.
func WriteSummaryLog(summary ProcessingSummary, outputDir string) (string, error) {
	summaryPath := filepath.Join(outputDir,
		fmt.Sprintf("processing_summary_%s.txt", now().Format("20060102_150405")))

	file, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)

	duration := summary.EndTime.Sub(summary.StartTime)
	fmt.Fprintf(writer, "Consumption Refinery - Processing Summary\n"+
		"================================================================================\n\n"+
		"Run Information:\n"+
		"  Run ID:         %s\n"+
		"  Start Time:     %s\n"+
		"  End Time:       %s\n"+
		"  Duration:       %s\n\n"+
		"Statistics:\n"+
		"  Total Files:        %d\n"+
		"  Successful:         %d\n"+
		"  Failed:             %d\n"+
		"  Total Rows:         %d\n"+
		"  Skipped Rows:       %d\n"+
		"  Buckets:            %d\n"+
		"  No-data Buckets:    %d\n"+
		"  Issues:             fatal %d, error %d, warning %d, info %d\n\n",
		summary.RunID,
		summary.StartTime.Format("2006-01-02 15:04:05"),
		summary.EndTime.Format("2006-01-02 15:04:05"),
		duration.String(),
		summary.TotalFiles,
		summary.SuccessfulFiles,
		summary.FailedFiles,
		summary.TotalRows,
		summary.SkippedRows,
		summary.TotalBuckets,
		summary.NoDataBuckets,
		summary.Issues[types.SeverityFatal],
		summary.Issues[types.SeverityError],
		summary.Issues[types.SeverityWarning],
		summary.Issues[types.SeverityInfo])

	if len(summary.ProcessedFiles) > 0 {
		writer.WriteString("Successful Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, pf := range summary.ProcessedFiles {
			fmt.Fprintf(writer, "  Input:        %s\n", pf.InputFile)
			fmt.Fprintf(writer, "  Profile:      %s\n", pf.Profile)
			fmt.Fprintf(writer, "  Output:       %s\n", pf.OutputFile)
			fmt.Fprintf(writer, "  Rows:         %d\n", pf.Rows)
			fmt.Fprintf(writer, "  Buckets:      %d\n", pf.Buckets)
			fmt.Fprintf(writer, "  Issues:       %d\n", pf.Issues)
			fmt.Fprintf(writer, "  Process Time: %s\n\n", pf.ProcessTime.String())
		}
	}

	if len(summary.FailedFilesList) > 0 {
		writer.WriteString("Failed Files:\n")
		writer.WriteString("--------------------------------------------------------------------------------\n")
		for _, ff := range summary.FailedFilesList {
			fmt.Fprintf(writer, "  File:  %s\n", ff.InputFile)
			if ff.ErrorType != "" {
				fmt.Fprintf(writer, "  Type:  %s\n", ff.ErrorType)
			}
			fmt.Fprintf(writer, "  Error: %s\n\n", ff.ErrorMessage)
		}
	}

	writer.WriteString("================================================================================\n" +
		"End of Summary\n")

	if err := writer.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush summary file: %w", err)
	}
	return summaryPath, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

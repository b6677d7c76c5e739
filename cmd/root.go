// =============================================================================
// Consumption Refinery - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. All other commands
// are attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (refinery)
//   ├── processCmd (refinery process)
//   ├── validateCmd (refinery validate)
//   └── versionCmd (refinery version)
//
// CONFIGURATION:
//   The root command owns the global flags (--config, --verbose). Commands
//   call loadSession to read the main configuration and build the logger.
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/consumption-refinery/internal/config"
	"github.com/ginjaninja78/consumption-refinery/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the main configuration file.
var cfgFile string

// verbose forces debug logging.
var verbose bool

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "refinery",
	Short: "Consumption Refinery - Turn raw consumption exports into clean period tables",
	Long: `Consumption Refinery reads consumption exports (CSV or XLSX) from utility
and metering systems and refines them into one gap-free table per file.

Each file passes through five stages:
  - Schema mapping of arbitrary headers onto the canonical fields
  - Normalization of dates, numbers and units
  - Reconciliation of overlapping, duplicate and corrected periods
  - Aggregation into day, week or month buckets
  - Validation of the refined table

Example Usage:
  refinery process                    # Refine all files in the input directory
  refinery process --config ./my.yaml # Use a custom configuration file
  refinery validate                   # Validate configuration without processing`,

	SilenceUsage: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the root command. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yaml",
		"Path to the main configuration file",
	)

	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// =============================================================================
// SESSION SETUP
// =============================================================================

// session is what every command needs after startup.
type session struct {
	config *config.MainConfig
	logger *zap.Logger
	runID  string
	close  func()
}

// loadSession loads the main configuration and builds the run logger.
// The caller must call close when done.
func loadSession() (*session, error) {
	mainConfig, err := config.LoadMainConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load main config: %w", err)
	}

	logCfg := logging.DefaultConfig()
	if mainConfig.LogLevel != "" {
		logCfg.Level = mainConfig.LogLevel
	}
	if mainConfig.LogFormat != "" {
		logCfg.Format = mainConfig.LogFormat
	}
	logCfg.File = mainConfig.LogFile
	if verbose {
		logCfg.Level = "debug"
	}
	logger, closeLog, err := logging.New(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	logger, runID := logging.WithRunID(logger)

	return &session{
		config: mainConfig,
		logger: logger,
		runID:  runID,
		close:  closeLog,
	}, nil
}

// =============================================================================
// Consumption Refinery - Version Command
// =============================================================================
//
// COMMAND USAGE:
//   refinery version
//
// OUTPUT:
//   Consumption Refinery 0.1.0
//   Build Date: 2024-01-01
//   Go Version: go1.24.0 (linux/amd64)
//   Grains:     day, week, month
//
// Version and BuildDate are set at build time:
//   go build -ldflags "-X 'github.com/ginjaninja78/consumption-refinery/cmd.Version=0.2.0'"
//
// =============================================================================

package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/consumption-refinery/internal/types"
)

var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the application version",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Consumption Refinery %s\n", Version)
		fmt.Fprintf(out, "Build Date: %s\n", BuildDate)
		fmt.Fprintf(out, "Go Version: %s (%s/%s)\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "Grains:     %s, %s, %s\n", types.GrainDay, types.GrainWeek, types.GrainMonth)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

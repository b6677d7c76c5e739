// =============================================================================
// Consumption Refinery - Main Entry Point
// =============================================================================
//
// USAGE:
//   refinery process       - Refine all files in the input directory
//   refinery validate      - Validate configuration and profiles
//   refinery version       - Display the application version
//
// ARCHITECTURE:
//   - cmd/           : CLI command definitions (Cobra)
//   - internal/      : Refinement stages, readers, writer, configuration
//   - pkg/           : File management and run reports
//   - profiles/      : Source profiles (YAML)
//
// =============================================================================

package main

import (
	// Profiles name IANA zones; embed the database for hosts without one.
	_ "time/tzdata"

	"github.com/ginjaninja78/consumption-refinery/cmd"
)

func main() {
	cmd.Execute()
}

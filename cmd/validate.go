// =============================================================================
// Consumption Refinery - Validate Command
// =============================================================================
//
// This file defines the 'validate' command. It loads the main configuration
// and every source profile, reporting each invalid profile, without touching
// any input file.
//
// COMMAND USAGE:
//   refinery validate
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/consumption-refinery/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and all source profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate()
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate() error {
	rt, err := loadSession()
	if err != nil {
		return err
	}
	defer rt.close()

	fmt.Printf("Main configuration OK (%s)\n", cfgFile)

	files, err := config.ProfileFiles(rt.config.ProfilesDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Printf("No profiles found in %s\n", rt.config.ProfilesDir)
		return nil
	}

	seen := make(map[string]string)
	var failed int
	for _, file := range files {
		name := filepath.Base(file)
		p, err := config.LoadProfile(file)
		if err == nil {
			if other, dup := seen[p.ProfileCode]; dup {
				err = fmt.Errorf("profile code %q is already declared by %s", p.ProfileCode, other)
			} else {
				seen[p.ProfileCode] = name
			}
		}
		if err != nil {
			failed++
			rt.logger.Error("invalid profile", zap.String("file", name), zap.Error(err))
			fmt.Printf("  ✗ %s: %v\n", name, err)
			continue
		}
		fmt.Printf("  ✓ %s (%s)\n", name, p.ProfileCode)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d profile(s) invalid", failed, len(files))
	}
	return nil
}

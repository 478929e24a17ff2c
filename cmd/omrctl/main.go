// Command omrctl is the operator tool for the OMR service: schema migrations,
// answer-key extraction and import, and offline grading of a single sheet.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emandor/omr_service/internal/config"
	"github.com/emandor/omr_service/internal/img"
	"github.com/emandor/omr_service/internal/telemetry"
	"github.com/emandor/omr_service/internal/vision"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:           "omrctl",
	Short:         "Operate the OMR sheet service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			telemetry.Init(telemetry.Config{Level: "debug"})
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log to stdout")
	rootCmd.AddCommand(migrateCmd, keyCmd, gradeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newReader builds a vision reader from the environment, without a cache.
func newReader(ctx context.Context, cfg *config.Config) (*vision.Reader, error) {
	chain, err := vision.BuildChain(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return vision.NewReader(chain,
		vision.WithTimeout(cfg.VisionTimeout),
		vision.WithPrep(img.PrepOptions{
			MaxW:      cfg.VisionImgMaxW,
			Quality:   cfg.VisionImgQuality,
			Grayscale: cfg.VisionImgGrayscale,
		}),
	), nil
}

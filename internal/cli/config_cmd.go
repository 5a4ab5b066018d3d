package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"gocv.io/x/gocv"

	"scrollstitch/internal/tasks"
)

const version = "v0.4.0"

func newConfigCmd(root *Root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or validate configuration",
	}

	var asJSON bool
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(root.cfg)
			}
			root.configShow(cmd.OutOrStdout())
			return nil
		},
	}
	showCmd.Flags().BoolVar(&asJSON, "json", false, "print the full configuration as JSON")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := root.cfg.Validate(); err != nil {
				return err
			}
			root.log.Info("configuration validation", "status", "valid")
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
			return nil
		},
	}

	cmd.AddCommand(showCmd, validateCmd)
	return cmd
}

func (r *Root) configShow(w io.Writer) {
	cfgPath := os.Getenv("SCROLLSTITCH_CONFIG")
	if cfgPath == "" {
		cfgPath = "(default) ~/.config/scrollstitch/config.json"
	}
	fmt.Fprintf(w, "Current configuration:\n")
	fmt.Fprintf(w, "Config file: %s\n", cfgPath)
	fmt.Fprintf(w, "\nPaths:\n")
	fmt.Fprintf(w, "  Database: %s\n", r.cfg.Paths.DatabasePath)
	fmt.Fprintf(w, "  Default output: %s\n", r.cfg.Paths.DefaultOutput)
	fmt.Fprintf(w, "  Sessions: %s\n", r.cfg.Paths.SessionDir)
	fmt.Fprintf(w, "\nMatcher:\n")
	fmt.Fprintf(w, "  Default mode: %s\n", r.cfg.Matcher.DefaultMode)
	fmt.Fprintf(w, "  Reorder: %t\n", r.cfg.Matcher.Reorder)
	fmt.Fprintf(w, "\nVideo:\n")
	fmt.Fprintf(w, "  Decoder: %s\n", r.cfg.Video.Decoder)
	fmt.Fprintf(w, "  Target FPS: %g\n", r.cfg.Video.TargetFPS)
	fmt.Fprintf(w, "  Overlap window: %.2f-%.2f\n", r.cfg.Video.MinOverlap, r.cfg.Video.MaxOverlap)
	fmt.Fprintf(w, "  Time budget: %s\n", r.cfg.Video.TimeBudget.Duration)
	fmt.Fprintf(w, "\nOutput:\n")
	fmt.Fprintf(w, "  Format: %s (quality %d)\n", r.cfg.Compose.OutputFormat, r.cfg.Compose.Quality)
	fmt.Fprintf(w, "  Preview scale: %g\n", r.cfg.Compose.PreviewScale)
	fmt.Fprintf(w, "\nParallel jobs: %d\n", r.cfg.Processing.ParallelJobs)
	fmt.Fprintf(w, "Log level: %s (%s)\n", r.cfg.Logging.Level, r.cfg.Logging.Format)
}

func newToolsCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "Show video decoder availability",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			for _, st := range tasks.DecoderStatus(root.cfg.Video) {
				if !st.Available {
					fmt.Fprintf(out, "  %-8s missing (%v)\n", st.Name, st.Error)
					continue
				}
				fmt.Fprintf(out, "  %-8s %s %s\n", st.Name, st.Version, st.Path)
			}
			fmt.Fprintf(out, "Configured decoder: %s\n", root.cfg.Video.Decoder)
		},
	}
}

func (r *Root) printVersion(w io.Writer) {
	fmt.Fprintf(w, "scrollstitch %s\n", version)
	fmt.Fprintf(w, "Built with Go %s\n", runtime.Version())
	fmt.Fprintf(w, "OpenCV %s\n", gocv.OpenCVVersion())
}

package cli

import (
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"scrollstitch/internal/config"
	"scrollstitch/internal/pipeline"
	"scrollstitch/internal/tasks"
)

// NewRootCmd creates the root Cobra command
func NewRootCmd(cfg *config.Config, log *slog.Logger, store planStore, pipe pipelineClient, adj adjuster) *cobra.Command {
	return newRootCmd(NewRoot(pipe, cfg, log, store, adj))
}

func newRootCmd(root *Root) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "scrollstitch",
		Short: "Stitch scrolling screenshots and screen recordings into one tall image",
		Long: `scrollstitch joins overlapping screenshots of a scrolled page, or the keyframes of a
screen recording, into a single image. Stitch plans are stored so they can be
adjusted and re-rendered later.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newStitchCmd(root))
	rootCmd.AddCommand(newVideoCmd(root))
	rootCmd.AddCommand(newRenderCmd(root))
	rootCmd.AddCommand(newAdjustCmd(root))
	rootCmd.AddCommand(newJobsCmd(root))
	rootCmd.AddCommand(newPlansCmd(root))
	rootCmd.AddCommand(newServeCmd(root))
	rootCmd.AddCommand(newWatchCmd(root))
	rootCmd.AddCommand(newToolsCmd(root))
	rootCmd.AddCommand(newConfigCmd(root))
	rootCmd.AddCommand(newVersionCmd(root))

	return rootCmd
}

func newStitchCmd(root *Root) *cobra.Command {
	var (
		output    string
		mode      string
		noReorder bool
	)

	cmd := &cobra.Command{
		Use:   "stitch <input>...",
		Short: "Stitch screenshots into one image",
		Long: `Stitch two or more screenshots. Inputs may be image files, directories of images
or az://container/prefix locations. Unless --no-reorder is given the images are
put into the order that maximises their overlap.

Examples:
  scrollstitch stitch ~/Pictures/chat/ --mode list
  scrollstitch stitch shot-1.png shot-2.png shot-3.png --no-reorder -o page.png`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pipeline.Request{
				Type:   pipeline.JobScreenshots,
				Inputs: args,
				Output: output,
				Mode:   mode,
			}
			if noReorder {
				reorder := false
				req.Reorder = &reorder
			}
			return root.runRequest(cmd, req)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "matcher profile (generic|list|video)")
	cmd.Flags().BoolVar(&noReorder, "no-reorder", false, "keep the given input order")

	return cmd
}

func newVideoCmd(root *Root) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "video <recording>",
		Short: "Stitch the keyframes of a screen recording",
		Long: `Sample a scrolling screen recording, keep the frames that advance the page and
stitch them into one image.

Examples:
  scrollstitch video scroll.mp4 -o scroll.png`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runRequest(cmd, pipeline.Request{
				Type:   pipeline.JobVideo,
				Input:  args[0],
				Output: output,
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default from config)")
	return cmd
}

func newRenderCmd(root *Root) *cobra.Command {
	var (
		output string
		full   bool
	)

	cmd := &cobra.Command{
		Use:   "render <plan-id>",
		Short: "Render a stored plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.runRequest(cmd, pipeline.Request{
				Type:   pipeline.JobRender,
				Input:  args[0],
				Output: output,
				Full:   full,
			})
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "output file or directory (default from config)")
	cmd.Flags().BoolVar(&full, "full", false, "render at full resolution instead of preview scale")
	return cmd
}

func newAdjustCmd(root *Root) *cobra.Command {
	var (
		top     int
		bottom  int
		offsets []string
		render  bool
	)

	cmd := &cobra.Command{
		Use:   "adjust <plan-id>",
		Short: "Correct the crop or image offsets of a stored plan",
		Long: `Apply manual corrections to a stored plan. --offset moves image INDEX (and every
image after it) by DELTA rows; it may be repeated.

Examples:
  scrollstitch adjust 6f1c2a9e-8d0b-4c1e-9a57-3f2b1d7e4c10 --top 64 --bottom 120
  scrollstitch adjust 6f1c2a9e-8d0b-4c1e-9a57-3f2b1d7e4c10 --offset 2:-14 --render`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deltas, err := parseOffsets(offsets)
			if err != nil {
				return err
			}
			state, err := root.adjuster.AdjustPlan(cmd.Context(), tasks.AdjustRequest{
				PlanID:  args[0],
				Top:     top,
				Bottom:  bottom,
				Offsets: deltas,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan:   %s\n", state.ID)
			fmt.Fprintf(out, "Crop:   top %d, bottom %d\n", state.TopCrop, state.BottomCrop)
			fmt.Fprintf(out, "Size:   %dx%d\n", state.CanvasWidth(), state.CanvasHeight())
			if !render {
				return nil
			}
			return root.runRequest(cmd, pipeline.Request{Type: pipeline.JobRender, Input: state.ID, Full: true})
		},
	}

	cmd.Flags().IntVar(&top, "top", 0, "rows to crop from the top of the canvas")
	cmd.Flags().IntVar(&bottom, "bottom", 0, "rows to crop from the bottom of the canvas")
	cmd.Flags().StringArrayVar(&offsets, "offset", nil, "INDEX:DELTA row correction for one image")
	cmd.Flags().BoolVar(&render, "render", false, "render the adjusted plan at full resolution")
	return cmd
}

func newJobsCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := root.store.RecentJobs(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSTATUS\tCREATED\tINPUT")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", j.ID, j.JobType, j.Status, humanize.Time(j.CreatedAt), j.InputPath)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of jobs to show")
	return cmd
}

func newPlansCmd(root *Root) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List stored plans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, err := root.store.ListPlans(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMODE\tIMAGES\tSIZE\tUPDATED")
			for _, p := range plans {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%dx%d\t%s\n", p.ID, p.State.Mode, p.State.Len(),
					p.State.CanvasWidth(), p.State.CanvasHeight(), humanize.Time(p.UpdatedAt))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of plans to show")
	return cmd
}

func newServeCmd(root *Root) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and gRPC APIs",
		Long: `Start an HTTP server for job submission, job events and plan editing, plus the
gRPC service. With --watch, screenshots dropped into the given directories are
stitched automatically once no new file has arrived for the settle delay.

Examples:
  scrollstitch serve --addr :8080
  scrollstitch serve --grpc "" --watch ~/Pictures/Screenshots`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root.log.Info("starting server",
				"addr", opts.HTTPAddr,
				"grpc", opts.GRPCAddr,
				"watch_paths", opts.Watch,
			)
			return root.serveFn(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().StringVar(&opts.HTTPAddr, "addr", root.cfg.Server.HTTPAddr, "HTTP address (host:port)")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc", root.cfg.Server.GRPCAddr, "gRPC address, empty to disable")
	cmd.Flags().StringSliceVar(&opts.Watch, "watch", root.cfg.Watch.Directories, "inbox directories to stitch automatically")
	return cmd
}

func newWatchCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]...",
		Short: "Stitch screenshots as they land in inbox directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			dirs := args
			if len(dirs) == 0 {
				dirs = root.cfg.Watch.Directories
			}
			if len(dirs) == 0 {
				return fmt.Errorf("no directories to watch")
			}
			return root.watch(cmd, dirs)
		},
	}
}

func newVersionCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			root.printVersion(cmd.OutOrStdout())
		},
	}
}

func (r *Root) runRequest(cmd *cobra.Command, req pipeline.Request) error {
	job, err := req.Job()
	if err != nil {
		return err
	}
	res, err := r.enqueueAndWait(cmd.Context(), job)
	if err != nil {
		return err
	}
	printResult(cmd.OutOrStdout(), res)
	return nil
}

// watch runs the inbox watcher and reports results until the command context ends.
func (r *Root) watch(cmd *cobra.Command, dirs []string) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()

	w, err := r.startInbox(dirs)
	if err != nil {
		return err
	}
	defer w.Stop()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case res, ok := <-resCh:
			if !ok {
				return nil
			}
			if res.Error != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s failed: %v\n", res.Job.ID, res.Error)
				continue
			}
			printResult(cmd.OutOrStdout(), res)
		}
	}
}

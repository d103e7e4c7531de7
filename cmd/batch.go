package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/store"
	"github.com/andresmejia3/portrait/internal/utils"
	"github.com/andresmejia3/portrait/internal/worker"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var batchOpts Options

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Detect faces across a folder of images with parallel workers",
	Long: "Scans a folder (recursively) and checks that each image holds exactly one face.\n" +
		"Images with zero or several faces are counted as invalid. Use --collect to store accepted faces.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		// Unset flags fall back to the configuration file
		if !cmd.Flags().Changed("engines") {
			batchOpts.Workers = Cfg.Batch.Workers
		}
		if !cmd.Flags().Changed("retries") {
			batchOpts.Retries = Cfg.Batch.MaxConflictRetries
		}
		if !cmd.Flags().Changed("rps") {
			batchOpts.RPS = Cfg.Batch.RequestsPerSecond
		}
		return runBatch(cmd.Context(), batchOpts)
	},
}

func init() {
	batchCmd.Flags().StringVarP(&batchOpts.InputPath, "input", "i", "", "Folder (or single image) to scan")
	batchCmd.Flags().IntVarP(&batchOpts.Workers, "engines", "e", 4, "Number of concurrent detect calls")
	batchCmd.Flags().IntVar(&batchOpts.Retries, "retries", 3, "Re-queue limit for concurrent-operation conflicts")
	batchCmd.Flags().Float64Var(&batchOpts.RPS, "rps", 0, "Maximum detect requests per second (0 = unlimited)")
	batchCmd.Flags().BoolVarP(&batchOpts.Collect, "collect", "c", false, "Store accepted faces in PostgreSQL")

	batchCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(batchCmd)
}

func validateBatchFlags(opts *Options) error {
	if opts.InputPath == "" {
		return fmt.Errorf("--input is required")
	}
	if _, err := os.Stat(opts.InputPath); err != nil {
		return fmt.Errorf("input path error: %w", err)
	}
	if opts.Workers < 1 {
		return fmt.Errorf("--engines must be at least 1")
	}
	if opts.Retries < 0 {
		return fmt.Errorf("--retries cannot be negative")
	}
	if opts.RPS < 0 {
		return fmt.Errorf("--rps cannot be negative")
	}
	return nil
}

// runBatch lists the images, runs the worker pool, and reports a summary.
func runBatch(ctx context.Context, opts Options) error {
	if err := validateBatchFlags(&opts); err != nil {
		utils.ShowError("Invalid flags", err)
		return err
	}

	detector, err := newDetector(Cfg)
	if err != nil {
		utils.ShowError("Face service unavailable", err)
		return err
	}
	detect, err := detectOptions(Cfg)
	if err != nil {
		utils.ShowError("Invalid face attributes in config", err)
		return err
	}

	b := worker.NewBatch(detector, imageprep.New(Cfg.Image), worker.BatchConfig{
		Workers:            opts.Workers,
		MaxConflictRetries: opts.Retries,
		RequestsPerSecond:  opts.RPS,
		Detect:             detect,
		Extensions:         Cfg.Batch.Extensions,
		EnlargeFactor:      Cfg.Batch.EnlargeFactor,
	}, Log)

	paths, err := b.List(opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to list images", err)
		return err
	}
	if len(paths) == 0 {
		fmt.Println("No images found.")
		return nil
	}

	if opts.Collect {
		if err := connectDB(ctx); err != nil {
			utils.ShowError("Database unavailable", err)
			return err
		}
	}

	fmt.Fprintf(os.Stderr, "📂 Found %d images in %s\n", len(paths), opts.InputPath)
	fmt.Fprintf(os.Stderr, "⚙️  Running %d concurrent detect workers...\n", opts.Workers)

	bar := progressbar.NewOptions(len(paths),
		progressbar.OptionSetDescription("🔍 Portrait Batch"),
		progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
		progressbar.OptionShowCount(),
	)

	runID := uuid.New()
	started := time.Now()
	var failures []worker.Outcome
	collected := 0

	sum, runErr := b.Run(ctx, paths, func(o worker.Outcome) {
		bar.Add(1)
		switch o.Status {
		case worker.StatusFailed:
			failures = append(failures, o)
		case worker.StatusAccepted:
			if opts.Collect {
				if err := collectFace(ctx, runID, o); err != nil {
					Log.Warn("Failed to collect face", "path", o.Path, "error", err)
					return
				}
				collected++
			}
		}
	})
	bar.Finish()

	fmt.Fprintf(os.Stderr, "\n🏁 Batch Complete in %s.\n", time.Since(started).Round(time.Millisecond))
	fmt.Printf("✅ Accepted: %d\n❌ Invalid:  %d\n⚠️  Failed:   %d\n🔁 Retries:  %d\n",
		sum.Accepted, sum.Invalid, sum.Failed, sum.Retries)

	if len(failures) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "\nFAILED\tATTEMPTS\tERROR")
		fmt.Fprintln(w, "------\t--------\t-----")
		for _, f := range failures {
			fmt.Fprintf(w, "%s\t%d\t%v\n", f.Path, f.Attempts, f.Err)
		}
		w.Flush()
	}

	if opts.Collect {
		fmt.Printf("🗄️  Collected %d faces (run %s)\n", collected, runID.String()[:8])
		// Background so an interrupted run is still recorded
		err := DB.RecordRun(context.Background(), store.BatchRun{
			ID:         runID,
			Root:       opts.InputPath,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Total:      sum.Total,
			Accepted:   sum.Accepted,
			Invalid:    sum.Invalid,
			Failed:     sum.Failed,
			Retries:    sum.Retries,
		})
		if err != nil {
			utils.ShowError("Failed to record batch run", err)
			return err
		}
	}

	if runErr != nil {
		fmt.Fprintln(os.Stderr, "⚠️  Batch interrupted before all images were processed.")
		return runErr
	}
	return nil
}

// collectFace registers the image and stores its accepted face.
func collectFace(ctx context.Context, runID uuid.UUID, o worker.Outcome) error {
	imageID, err := utils.GenerateImageID(o.Path)
	if err != nil {
		return err
	}
	if err := DB.EnsureImage(ctx, imageID, o.Path, o.Width, o.Height); err != nil {
		return err
	}
	_, err = DB.InsertFace(ctx, runID, imageID, *o.Face, o.Target)
	return err
}

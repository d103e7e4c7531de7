package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/portrait/internal/composite"
	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/pipeline"
	"github.com/andresmejia3/portrait/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var processOpts Options

var processCmd = &cobra.Command{
	Use:   "process <image|url|s3://bucket/key>",
	Short: "Crop the main face and remove the background",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		processOpts.InputPath = args[0]
		return runProcess(cmd.Context(), processOpts)
	},
}

func init() {
	processCmd.Flags().StringVarP(&processOpts.OutputPath, "output", "o", "portrait.png", "Output path or s3://bucket/key")
	processCmd.Flags().StringVarP(&processOpts.MaskPath, "mask", "m", "", "Also write the alpha mask as a grayscale PNG")
	processCmd.Flags().StringVar(&processOpts.Matting, "matting", "", "Matting backend: remote or local (default from config)")
	processCmd.Flags().StringVarP(&processOpts.Background, "background", "b", "", "Flatten onto a solid color, e.g. #ffffff")
	rootCmd.AddCommand(processCmd)
}

func isJPEG(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jpg" || ext == ".jpeg"
}

func validateProcessFlags(opts *Options) error {
	if opts.InputPath == "" {
		return fmt.Errorf("an input image is required")
	}
	if opts.OutputPath == "" {
		return fmt.Errorf("--output cannot be empty")
	}
	switch opts.Matting {
	case "", "remote", "local":
	default:
		return fmt.Errorf("--matting must be 'remote' or 'local', got %q", opts.Matting)
	}
	if opts.Background != "" {
		if _, err := utils.ParseHexColor(opts.Background); err != nil {
			return fmt.Errorf("--background: %w", err)
		}
	} else if isJPEG(opts.OutputPath) {
		return fmt.Errorf("JPEG output cannot hold transparency; use a .png path or pass --background")
	}
	return nil
}

func runProcess(ctx context.Context, opts Options) error {
	if err := validateProcessFlags(&opts); err != nil {
		utils.ShowError("Invalid flags", err)
		return err
	}

	loader := newLoader(Cfg)
	data, err := loader.Load(ctx, opts.InputPath)
	if err != nil {
		utils.ShowError("Failed to read input image", err)
		return err
	}

	p, cleanup, err := newPipeline(Cfg, opts.Matting)
	if err != nil {
		utils.ShowError("Failed to set up pipeline", err)
		return err
	}
	defer cleanup()

	fmt.Fprintf(os.Stderr, "🔍 Processing %s (%s matting)...\n", opts.InputPath, Cfg.Matting.Backend)
	res, err := p.Run(ctx, pipeline.Request{ID: uuid.NewString(), Image: data})
	if err != nil {
		utils.ShowError("Pipeline failed", err)
		return err
	}

	switch res.Outcome {
	case pipeline.OutcomeNoFace:
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	case pipeline.OutcomeNoCrop:
		fmt.Println("❌ The detected face does not leave a usable crop region.")
		return nil
	case pipeline.OutcomeRejected:
		fmt.Printf("🚫 Face rejected: %s\n", strings.Join(res.Reasons, "; "))
		return nil
	case pipeline.OutcomeNoPortrait:
		fmt.Printf("❌ Background removal failed: %v\n", res.MattingErr)
		return nil
	}

	if len(res.Faces) > 1 {
		fmt.Fprintf(os.Stderr, "⚠️  Multiple faces detected (%d). Using the first one.\n", len(res.Faces))
	}

	out, contentType, err := encodePortrait(res, opts)
	if err != nil {
		utils.ShowError("Failed to encode portrait", err)
		return err
	}
	if err := loader.Save(ctx, opts.OutputPath, out, contentType); err != nil {
		utils.ShowError("Failed to write portrait", err)
		return err
	}

	if opts.MaskPath != "" {
		mask, err := imageprep.EncodePNG(res.Mask)
		if err != nil {
			utils.ShowError("Failed to encode mask", err)
			return err
		}
		if err := loader.Save(ctx, opts.MaskPath, mask, "image/png"); err != nil {
			utils.ShowError("Failed to write mask", err)
			return err
		}
	}

	b := res.Portrait.Bounds()
	fmt.Printf("✅ Portrait saved to %s (%dx%d)\n", opts.OutputPath, b.Dx(), b.Dy())
	return nil
}

// encodePortrait writes PNG with alpha, or flattens onto the background color.
func encodePortrait(res *pipeline.Result, opts Options) ([]byte, string, error) {
	if opts.Background == "" {
		data, err := imageprep.EncodePNG(res.Portrait)
		return data, "image/png", err
	}

	bg, err := utils.ParseHexColor(opts.Background)
	if err != nil {
		return nil, "", err
	}
	flat := composite.Flatten(res.Portrait, bg)
	if isJPEG(opts.OutputPath) {
		data, err := imageprep.EncodeJPEG(flat, Cfg.Image.JPEGQuality)
		return data, "image/jpeg", err
	}
	data, err := imageprep.EncodePNG(flat)
	return data, "image/png", err
}

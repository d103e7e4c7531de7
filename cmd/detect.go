package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/andresmejia3/portrait/internal/utils"
	"github.com/spf13/cobra"
)

var detectCmd = &cobra.Command{
	Use:   "detect <image|url|s3://bucket/key>",
	Short: "Detect faces and print their attributes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runDetect(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func runDetect(ctx context.Context, ref string) error {
	data, err := newLoader(Cfg).Load(ctx, ref)
	if err != nil {
		utils.ShowError("Failed to read input image", err)
		return err
	}

	prepared, err := imageprep.New(Cfg.Image).Prepare(data)
	if err != nil {
		utils.ShowError("Failed to decode image", err)
		return err
	}

	detector, err := newDetector(Cfg)
	if err != nil {
		utils.ShowError("Face service unavailable", err)
		return err
	}
	opts, err := detectOptions(Cfg)
	if err != nil {
		utils.ShowError("Invalid face attributes in config", err)
		return err
	}

	fmt.Fprintln(os.Stderr, "🔍 Analyzing faces...")
	faces, err := detector.Detect(ctx, prepared.Encoded, opts)
	if err != nil {
		utils.ShowError("Face detection failed", err)
		return err
	}

	if len(faces) == 0 {
		fmt.Println("❌ No faces detected in the provided image.")
		return nil
	}

	b := prepared.Image.Bounds()
	fmt.Printf("✅ %d face(s) in %dx%d image\n", len(faces), b.Dx(), b.Dy())
	printFaces(os.Stdout, faces)
	return nil
}

func printFaces(out io.Writer, faces []types.DetectedFace) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tBOX (L,T,W,H)\tYAW/PITCH/ROLL\tBLUR\tMASK\tQUALITY")
	fmt.Fprintln(w, "-\t-------------\t--------------\t----\t----\t-------")

	for i, f := range faces {
		pose, blur, mask, quality := "-", "-", "-", "-"
		if a := f.Attributes; a != nil {
			if a.HeadPose != nil {
				pose = fmt.Sprintf("%.1f/%.1f/%.1f", a.HeadPose.Yaw, a.HeadPose.Pitch, a.HeadPose.Roll)
			}
			if a.Blur != nil {
				blur = string(a.Blur.Level)
			}
			if a.Mask != nil {
				mask = a.Mask.Type
				if a.Mask.NoseAndMouthCovered {
					mask += " (covered)"
				}
			}
			if a.QualityForRecognition != "" {
				quality = string(a.QualityForRecognition)
			}
		}
		fmt.Fprintf(w, "%d\t%d,%d,%d,%d\t%s\t%s\t%s\t%s\n",
			i+1, f.Box.Left, f.Box.Top, f.Box.Width, f.Box.Height, pose, blur, mask, quality)
	}
	w.Flush()
}

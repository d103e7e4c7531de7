package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/utils"
	"github.com/andresmejia3/portrait/internal/web"
	"github.com/spf13/cobra"
)

var serveOpts Options

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the portrait pipeline over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		if !cmd.Flags().Changed("host") {
			serveOpts.Host = Cfg.Web.Host
		}
		if !cmd.Flags().Changed("port") {
			serveOpts.Port = Cfg.Web.Port
		}
		return runServe(cmd.Context(), serveOpts)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveOpts.Host, "host", "0.0.0.0", "Listen address")
	serveCmd.Flags().IntVarP(&serveOpts.Port, "port", "p", 8080, "Listen port")
	serveCmd.Flags().StringVar(&serveOpts.Matting, "matting", "", "Matting backend: remote or local (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func validateServeFlags(opts *Options) error {
	if opts.Port < 1 || opts.Port > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535, got %d", opts.Port)
	}
	switch opts.Matting {
	case "", "remote", "local":
	default:
		return fmt.Errorf("--matting must be 'remote' or 'local', got %q", opts.Matting)
	}
	return nil
}

func runServe(ctx context.Context, opts Options) error {
	if err := validateServeFlags(&opts); err != nil {
		utils.ShowError("Invalid flags", err)
		return err
	}

	p, cleanup, err := newPipeline(Cfg, opts.Matting)
	if err != nil {
		utils.ShowError("Failed to set up pipeline", err)
		return err
	}
	defer cleanup()

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

	webCfg := Cfg.Web
	webCfg.Host, webCfg.Port = opts.Host, opts.Port
	server := web.NewServer(webCfg, web.Dependencies{
		Pipeline: p,
		Detector: detector,
		Preparer: imageprep.New(Cfg.Image),
		Detect:   detect,
		Backend:  Cfg.Matting.Backend,
	}, Log)

	fmt.Fprintf(os.Stderr, "🌐 Listening on http://%s:%d (%s matting). Press Ctrl+C to stop.\n", opts.Host, opts.Port, Cfg.Matting.Backend)
	if err := server.Run(ctx); err != nil {
		utils.ShowError("Web server failed", err)
		return err
	}
	fmt.Fprintln(os.Stderr, "👋 Server stopped.")
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks ranges and the credentials required by the selected
// matting backend. All problems are reported at once.
func (c *Config) Validate() error {
	var problems []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		problems = append(problems, fmt.Sprintf("invalid log.level: %s (must be: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		problems = append(problems, fmt.Sprintf("invalid log.format: %s (must be: console or json)", c.Log.Format))
	}

	if c.Image.MaxDimension <= 0 {
		problems = append(problems, fmt.Sprintf("image.max_dimension must be > 0, got: %d", c.Image.MaxDimension))
	}
	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		problems = append(problems, fmt.Sprintf("image.jpeg_quality must be between 1 and 100, got: %d", c.Image.JPEGQuality))
	}

	m := c.Crop.Margins
	if m.Top < 0 || m.Bottom < 0 || m.Left < 0 || m.Right < 0 {
		problems = append(problems, fmt.Sprintf("crop.margins must be >= 0, got: %+v", m))
	}

	if c.Face.Timeout < 0 {
		problems = append(problems, fmt.Sprintf("face.timeout must be >= 0, got: %v", c.Face.Timeout))
	}

	switch c.Matting.Backend {
	case "remote":
		if c.Matting.Remote.Timeout < 0 {
			problems = append(problems, fmt.Sprintf("matting.remote.timeout must be >= 0, got: %v", c.Matting.Remote.Timeout))
		}
	case "local":
		if c.Matting.Local.Workers < 0 {
			problems = append(problems, fmt.Sprintf("matting.local.workers must be >= 0, got: %d", c.Matting.Local.Workers))
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid matting.backend: %s (must be: remote or local)", c.Matting.Backend))
	}

	if c.Batch.Workers < 1 {
		problems = append(problems, fmt.Sprintf("batch.workers must be >= 1, got: %d", c.Batch.Workers))
	}
	if c.Batch.MaxConflictRetries < 0 {
		problems = append(problems, fmt.Sprintf("batch.max_conflict_retries must be >= 0, got: %d", c.Batch.MaxConflictRetries))
	}
	if c.Batch.RequestsPerSecond < 0 {
		problems = append(problems, fmt.Sprintf("batch.requests_per_second must be >= 0, got: %.2f", c.Batch.RequestsPerSecond))
	}
	if c.Batch.EnlargeFactor < 1 {
		problems = append(problems, fmt.Sprintf("batch.enlarge_factor must be >= 1, got: %.2f", c.Batch.EnlargeFactor))
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		problems = append(problems, fmt.Sprintf("web.port must be between 0 and 65535, got: %d", c.Web.Port))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// RequireFace reports missing face service credentials.
func (c *Config) RequireFace() error {
	if c.Face.Endpoint == "" || c.Face.APIKey == "" {
		return errors.New("face service not configured: set FACE_ENDPOINT_URL and FACE_API_KEY")
	}
	return nil
}

// RequireMatting reports missing settings for the selected matting backend.
func (c *Config) RequireMatting() error {
	switch c.Matting.Backend {
	case "local":
		if c.Matting.Local.ModelPath == "" {
			return errors.New("local matting not configured: set PORTRAIT_MODEL_PATH")
		}
	default:
		if c.Matting.Remote.Endpoint == "" || c.Matting.Remote.APIKey == "" {
			return errors.New("remote matting not configured: set BACKGROUND_ENDPOINT_URL and BACKGROUND_API_KEY")
		}
	}
	return nil
}

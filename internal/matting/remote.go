package matting

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/disintegration/imaging"
)

const remoteService = "matting"

// RemoteConfig contains configuration for the background removal service
type RemoteConfig struct {
	Endpoint    string
	APIKey      string
	APIVersion  string
	Mode        string
	JPEGQuality int
	Timeout     time.Duration
}

// Remote delegates matting to the image analysis segment endpoint.
type Remote struct {
	cfg        RemoteConfig
	httpClient *http.Client
	logger     *logger.Logger
}

// NewRemote creates a remote matting provider
func NewRemote(cfg RemoteConfig, log *logger.Logger) *Remote {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-02-01-preview"
	}
	if cfg.Mode == "" {
		cfg.Mode = "foregroundMatting"
	}
	if cfg.JPEGQuality == 0 {
		cfg.JPEGQuality = 95
	}
	if log == nil {
		log = logger.NewNop()
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")

	return &Remote{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     log,
	}
}

// Matte uploads crop as JPEG and decodes the returned matte. Any non-2xx
// answer is a *types.ServiceError; callers treat it as "no portrait".
func (r *Remote) Matte(ctx context.Context, crop image.Image) (*image.Gray, error) {
	body, err := imageprep.EncodeJPEG(crop, r.cfg.JPEGQuality)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("api-version", r.cfg.APIVersion)
	q.Set("mode", r.cfg.Mode)
	endpoint := fmt.Sprintf("%s/computervision/imageanalysis:segment?%s", r.cfg.Endpoint, q.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", r.cfg.APIKey)

	start := time.Now()
	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &types.TransientError{Service: remoteService, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.TransientError{Service: remoteService, StatusCode: resp.StatusCode, Err: err}
	}

	r.logger.Debug("Matting call",
		"status", resp.StatusCode,
		"bytes", len(body),
		"latency", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &types.ServiceError{
			Service:    remoteService,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(data)),
		}
	}

	matte, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &types.DecodeError{Err: fmt.Errorf("matting response: %w", err)}
	}
	return toGray(matte), nil
}

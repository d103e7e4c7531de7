package face

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	serviceName   = "face"
	telemetryName = "sample=portrait-processing"
)

// Client calls the remote face detection service.
type Client struct {
	endpoint   string
	apiKey     string
	apiVersion string
	httpClient *http.Client
	logger     *logger.Logger
}

// ClientConfig contains configuration for the face client
type ClientConfig struct {
	Endpoint   string
	APIKey     string
	Timeout    time.Duration
	APIVersion string
}

// NewClient creates a new face detection client
func NewClient(config ClientConfig, log *logger.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.APIVersion == "" {
		config.APIVersion = "v1.0"
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Client{
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		apiKey:     config.APIKey,
		apiVersion: config.APIVersion,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log,
	}
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Detect uploads image and returns the faces found, in service order. An
// empty slice is a valid answer. The call is never retried here.
func (c *Client) Detect(ctx context.Context, image []byte, opts DetectOptions) ([]types.DetectedFace, error) {
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/face/%s/detect?%s", c.endpoint, c.apiVersion, opts.query())
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
	httpReq.Header.Set("X-MS-AZSDK-Telemetry", telemetryName)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &types.TransientError{Service: serviceName, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.TransientError{Service: serviceName, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("Face detect call",
		"status", resp.StatusCode,
		"bytes", len(image),
		"latency", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classify(resp.StatusCode, body)
	}

	var faces []types.DetectedFace
	if err := json.Unmarshal(body, &faces); err != nil {
		return nil, fmt.Errorf("failed to decode detect response: %w", err)
	}
	if faces == nil {
		faces = []types.DetectedFace{}
	}
	return faces, nil
}

// classify maps a failure status and body to a transient or permanent error.
func classify(status int, body []byte) error {
	var env errorEnvelope
	code, msg := "", strings.TrimSpace(string(body))
	if json.Unmarshal(body, &env) == nil && (env.Error.Code != "" || env.Error.Message != "") {
		code, msg = env.Error.Code, env.Error.Message
	}

	if isTransientStatus(status) || code == types.CodeConcurrentOperationConflict {
		return &types.TransientError{Service: serviceName, StatusCode: status, Code: code, Message: msg}
	}
	return &types.ServiceError{Service: serviceName, StatusCode: status, Code: code, Message: msg}
}

func isTransientStatus(status int) bool {
	return status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500
}

package face

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detectResponse = `[
  {
    "faceRectangle": {"left": 100, "top": 120, "width": 50, "height": 60},
    "faceLandmarks": {"pupilLeft": {"x": 110.5, "y": 140.1}},
    "faceAttributes": {
      "headPose": {"yaw": -3.2, "pitch": 1.5, "roll": 0.4},
      "blur": {"blurLevel": "low", "value": 0.12},
      "mask": {"type": "noMask", "noseAndMouthCovered": false},
      "qualityForRecognition": "high"
    }
  },
  {"faceRectangle": {"left": 400, "top": 50, "width": 20, "height": 20}}
]`

func TestDetect(t *testing.T) {
	var gotQuery, gotKey, gotType, gotTelemetry string
	var gotBody []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/face/v1.0/detect", r.URL.Path)
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("Ocp-Apim-Subscription-Key")
		gotType = r.Header.Get("Content-Type")
		gotTelemetry = r.Header.Get("X-MS-AZSDK-Telemetry")
		gotBody, _ = io.ReadAll(r.Body)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(detectResponse))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL + "/", APIKey: "secret"}, logger.NewNop())
	faces, err := client.Detect(context.Background(), []byte{0xFF, 0xD8}, DefaultDetectOptions())
	require.NoError(t, err)
	require.Len(t, faces, 2)

	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "application/octet-stream", gotType)
	assert.Equal(t, "sample=portrait-processing", gotTelemetry)
	assert.Equal(t, []byte{0xFF, 0xD8}, gotBody)
	assert.Contains(t, gotQuery, "detectionModel=detection_03")
	assert.Contains(t, gotQuery, "recognitionModel=recognition_04")
	assert.Contains(t, gotQuery, "returnFaceId=false")
	assert.Contains(t, gotQuery, "returnFaceLandmarks=true")
	assert.Contains(t, gotQuery, "returnFaceAttributes=blur%2CheadPose%2Cmask%2CqualityForRecognition")

	first := faces[0]
	assert.Equal(t, types.FaceBox{Left: 100, Top: 120, Width: 50, Height: 60}, first.Box)
	require.NotNil(t, first.Attributes)
	assert.Equal(t, types.QualityHigh, first.Attributes.QualityForRecognition)
	assert.Equal(t, types.BlurLow, first.Attributes.Blur.Level)
	assert.InDelta(t, -3.2, first.Attributes.HeadPose.Yaw, 1e-9)
	assert.False(t, first.Attributes.Mask.NoseAndMouthCovered)
	assert.InDelta(t, 110.5, first.Landmarks["pupilLeft"].X, 1e-9)

	assert.Nil(t, faces[1].Attributes, "attributes not returned stay absent")
}

func TestDetectEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	faces, err := NewClient(ClientConfig{Endpoint: server.URL}, nil).Detect(context.Background(), []byte("x"), DefaultDetectOptions())
	require.NoError(t, err)
	assert.NotNil(t, faces)
	assert.Empty(t, faces)
}

func TestDetectErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		transient  bool
		conflict   bool
		wantCode   string
		wantStatus int
	}{
		{
			name:       "bad request is permanent",
			status:     http.StatusBadRequest,
			body:       `{"error":{"code":"InvalidImage","message":"Decoding error"}}`,
			wantCode:   "InvalidImage",
			wantStatus: 400,
		},
		{
			name:       "unauthorized is permanent",
			status:     http.StatusUnauthorized,
			body:       `{"error":{"code":"401","message":"Access denied"}}`,
			wantCode:   "401",
			wantStatus: 401,
		},
		{
			name:       "throttled is transient",
			status:     http.StatusTooManyRequests,
			body:       `{"error":{"code":"429","message":"Rate limit"}}`,
			transient:  true,
			wantCode:   "429",
			wantStatus: 429,
		},
		{
			name:       "server error is transient",
			status:     http.StatusServiceUnavailable,
			body:       `upstream down`,
			transient:  true,
			wantStatus: 503,
		},
		{
			name:       "conflict code is transient",
			status:     http.StatusConflict,
			body:       `{"error":{"code":"ConcurrentOperationConflict","message":"busy"}}`,
			transient:  true,
			conflict:   true,
			wantCode:   types.CodeConcurrentOperationConflict,
			wantStatus: 409,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewClient(ClientConfig{Endpoint: server.URL}, nil).Detect(context.Background(), []byte("x"), DefaultDetectOptions())
			require.Error(t, err)
			assert.Equal(t, tt.conflict, types.IsConflict(err))

			if tt.transient {
				var te *types.TransientError
				require.True(t, errors.As(err, &te), "want TransientError, got %T", err)
				assert.Equal(t, tt.wantCode, te.Code)
				assert.Equal(t, tt.wantStatus, te.StatusCode)
				return
			}
			var se *types.ServiceError
			require.True(t, errors.As(err, &se), "want ServiceError, got %T", err)
			assert.Equal(t, tt.wantCode, se.Code)
			assert.Equal(t, tt.wantStatus, se.StatusCode)
		})
	}
}

func TestDetectTransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(ClientConfig{Endpoint: server.URL, Timeout: 20 * time.Millisecond}, nil)
	_, err := client.Detect(context.Background(), []byte("x"), DefaultDetectOptions())

	var te *types.TransientError
	assert.True(t, errors.As(err, &te), "got %v", err)
}

func TestDetectRejectsUnknownAttribute(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer server.Close()

	opts := DefaultDetectOptions()
	opts.Attributes = append(opts.Attributes, "emotion")
	_, err := NewClient(ClientConfig{Endpoint: server.URL}, nil).Detect(context.Background(), []byte("x"), opts)
	assert.Error(t, err)
	assert.Zero(t, calls, "no request sent for invalid options")
}

func TestParseAttributes(t *testing.T) {
	kinds, err := ParseAttributes([]string{"blur", " mask "})
	require.NoError(t, err)
	assert.Equal(t, []AttributeKind{AttributeBlur, AttributeMask}, kinds)

	_, err = ParseAttributes([]string{"smile"})
	assert.Error(t, err)
}

func TestNormalizeFillsModels(t *testing.T) {
	o, err := DetectOptions{}.normalize()
	require.NoError(t, err)
	assert.Equal(t, DefaultDetectionModel, o.DetectionModel)
	assert.Equal(t, DefaultRecognitionModel, o.RecognitionModel)
}

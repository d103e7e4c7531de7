package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/types"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration. Defaults come from Default(),
// an optional YAML file overrides them, and environment variables win last.
type Config struct {
	Log      logger.Config  `yaml:"log"`
	Image    ImageConfig    `yaml:"image"`
	Face     FaceConfig     `yaml:"face"`
	Crop     CropConfig     `yaml:"crop"`
	Matting  MattingConfig  `yaml:"matting"`
	Batch    BatchConfig    `yaml:"batch"`
	Web      WebConfig      `yaml:"web"`
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
}

// ImageConfig controls input normalization.
type ImageConfig struct {
	MaxDimension int `yaml:"max_dimension"`
	JPEGQuality  int `yaml:"jpeg_quality"`
}

// FaceConfig configures the face detection service.
type FaceConfig struct {
	Endpoint         string        `yaml:"endpoint"`
	APIKey           string        `yaml:"api_key"`
	APIVersion       string        `yaml:"api_version"`
	Timeout          time.Duration `yaml:"timeout"`
	DetectionModel   string        `yaml:"detection_model"`
	RecognitionModel string        `yaml:"recognition_model"`
	Attributes       []string      `yaml:"attributes"`
	ReturnLandmarks  bool          `yaml:"return_landmarks"`
	ReturnFaceID     bool          `yaml:"return_face_id"`
}

// CropConfig holds margins and the optional quality gate.
type CropConfig struct {
	Margins types.Margins `yaml:"margins"`
	Gate    GateConfig    `yaml:"gate"`
}

// GateConfig mirrors crop.Gate. Zero values disable each check.
type GateConfig struct {
	MinQuality        string  `yaml:"min_quality"`
	MaxBlur           string  `yaml:"max_blur"`
	MaxYaw            float64 `yaml:"max_yaw"`
	MaxPitch          float64 `yaml:"max_pitch"`
	MaxRoll           float64 `yaml:"max_roll"`
	RejectCoveredFace bool    `yaml:"reject_covered_face"`
}

// MattingConfig selects and configures the background-removal backend.
type MattingConfig struct {
	Backend string       `yaml:"backend"` // "remote" or "local"
	Remote  RemoteConfig `yaml:"remote"`
	Local   LocalConfig  `yaml:"local"`
}

type RemoteConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	APIVersion string        `yaml:"api_version"`
	Mode       string        `yaml:"mode"`
	Timeout    time.Duration `yaml:"timeout"`
}

type LocalConfig struct {
	ModelPath     string `yaml:"model_path"`
	SharedLibrary string `yaml:"shared_library"`
	InputName     string `yaml:"input_name"`
	OutputName    string `yaml:"output_name"`
	Workers       int    `yaml:"workers"`
}

// BatchConfig configures the folder scan driver.
type BatchConfig struct {
	Workers            int      `yaml:"workers"`
	MaxConflictRetries int      `yaml:"max_conflict_retries"`
	RequestsPerSecond  float64  `yaml:"requests_per_second"`
	Extensions         []string `yaml:"extensions"`
	EnlargeFactor      float64  `yaml:"enlarge_factor"`
}

type WebConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// SourceConfig controls image acquisition and export. S3Endpoint points the
// S3 client at a compatible store such as MinIO.
type SourceConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Region     string        `yaml:"region"`
	S3Endpoint string        `yaml:"s3_endpoint"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log: logger.Config{Level: "info", Format: "console", Output: "stderr"},
		Image: ImageConfig{
			MaxDimension: 1920,
			JPEGQuality:  95,
		},
		Face: FaceConfig{
			APIVersion:       "v1.0",
			Timeout:          30 * time.Second,
			DetectionModel:   "detection_03",
			RecognitionModel: "recognition_04",
			Attributes:       []string{"blur", "headPose", "mask", "qualityForRecognition"},
			ReturnLandmarks:  true,
		},
		Crop: CropConfig{
			Margins: types.Margins{Top: 0.75, Bottom: 0.75, Left: 1.5, Right: 1.5},
		},
		Matting: MattingConfig{
			Backend: "remote",
			Remote: RemoteConfig{
				APIVersion: "2023-02-01-preview",
				Mode:       "foregroundMatting",
				Timeout:    30 * time.Second,
			},
			Local: LocalConfig{
				InputName: "input_image",
			},
		},
		Batch: BatchConfig{
			Workers:            4,
			MaxConflictRetries: 3,
			Extensions:         []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"},
			EnlargeFactor:      1.2,
		},
		Web: WebConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 20 << 20,
			ReadTimeout:  30 * time.Second,
		},
		Source: SourceConfig{
			Timeout: 30 * time.Second,
		},
	}
}

// Load starts from Default, applies the YAML file at path (if non-empty)
// and then the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read configuration file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse configuration: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	return &cfg, nil
}

// ApplyEnv overlays values from the environment. getenv is injectable for tests.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	set(&c.Face.APIKey, "FACE_API_KEY")
	set(&c.Face.Endpoint, "FACE_ENDPOINT_URL")
	set(&c.Matting.Remote.APIKey, "BACKGROUND_API_KEY")
	set(&c.Matting.Remote.Endpoint, "BACKGROUND_ENDPOINT_URL")
	set(&c.Matting.Local.ModelPath, "PORTRAIT_MODEL_PATH")
	set(&c.Matting.Local.SharedLibrary, "ONNXRUNTIME_SHARED_LIBRARY")
	set(&c.Matting.Backend, "PORTRAIT_MATTING")
	set(&c.Source.Region, "AWS_REGION")
	set(&c.Source.S3Endpoint, "AWS_S3_ENDPOINT")
	set(&c.Log.Level, "PORTRAIT_LOG_LEVEL")

	if v := getenv("PORTRAIT_BATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Batch.Workers = n
		}
	}

	if c.Database.URL == "" {
		c.Database.URL = DatabaseURL(getenv)
	}
}

// DatabaseURL builds a connection string from POSTGRES_* variables, falling
// back to a local default when POSTGRES_HOST is unset.
func DatabaseURL(getenv func(string) string) string {
	host := getenv("POSTGRES_HOST")
	if host == "" {
		return "postgres://localhost:5432/portrait"
	}
	port := getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s",
		getenv("POSTGRES_USER"), getenv("POSTGRES_PASSWORD"), host, port, getenv("POSTGRES_DB"))
}

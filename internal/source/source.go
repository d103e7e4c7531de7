package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/portrait/internal/types"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const maxDownloadBytes = 64 << 20

// Config configures remote access. Credentials are read from the
// environment when the first s3:// reference is used.
type Config struct {
	Timeout    time.Duration
	Region     string
	S3Endpoint string
}

// Loader reads image bytes from local paths, http(s) URLs and s3://bucket/key
// references, and writes results back to local paths or S3.
type Loader struct {
	cfg        Config
	httpClient *http.Client

	once    sync.Once
	sess    *session.Session
	sessErr error
}

func New(cfg Config) *Loader {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Loader{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Load fetches the bytes behind ref.
func (l *Loader) Load(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return l.loadHTTP(ctx, ref)
	case strings.HasPrefix(ref, "s3://"):
		bucket, key, err := ParseS3(ref)
		if err != nil {
			return nil, err
		}
		return l.loadS3(ctx, bucket, key)
	default:
		return os.ReadFile(ref)
	}
}

// Save writes data to ref, which may be a local path or an s3:// reference.
func (l *Loader) Save(ctx context.Context, ref string, data []byte, contentType string) error {
	if !strings.HasPrefix(ref, "s3://") {
		return os.WriteFile(ref, data, 0644)
	}
	bucket, key, err := ParseS3(ref)
	if err != nil {
		return err
	}
	sess, err := l.session()
	if err != nil {
		return err
	}
	_, err = s3manager.NewUploader(sess).UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", ref, err)
	}
	return nil
}

// ParseS3 splits s3://bucket/key.
func ParseS3(ref string) (bucket, key string, err error) {
	rest := strings.TrimPrefix(ref, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid s3 reference %q (want s3://bucket/key)", ref)
	}
	return bucket, key, nil
}

func (l *Loader) loadHTTP(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, &types.TransientError{Service: "source", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &types.ServiceError{Service: "source", StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, &types.TransientError{Service: "source", StatusCode: resp.StatusCode, Err: err}
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("image at %s exceeds %d bytes", ref, maxDownloadBytes)
	}
	return data, nil
}

func (l *Loader) loadS3(ctx context.Context, bucket, key string) ([]byte, error) {
	sess, err := l.session()
	if err != nil {
		return nil, err
	}
	buf := aws.NewWriteAtBuffer([]byte{})
	_, err = s3manager.NewDownloader(sess).DownloadWithContext(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 download s3://%s/%s: %w", bucket, key, err)
	}
	return buf.Bytes(), nil
}

// session is created on first use so local-only runs never need AWS settings.
func (l *Loader) session() (*session.Session, error) {
	l.once.Do(func() {
		region := l.cfg.Region
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		if region == "" {
			l.sessErr = errors.New("s3: AWS_REGION is not set")
			return
		}

		awsCfg := &aws.Config{Region: aws.String(region)}
		if id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"); id != "" && secret != "" {
			awsCfg.Credentials = credentials.NewStaticCredentials(id, secret, "")
		}
		if l.cfg.S3Endpoint != "" {
			awsCfg.Endpoint = aws.String(l.cfg.S3Endpoint)
			awsCfg.S3ForcePathStyle = aws.Bool(true)
		}

		l.sess, l.sessErr = session.NewSession(awsCfg)
	})
	return l.sess, l.sessErr
}

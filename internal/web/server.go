package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/andresmejia3/portrait/internal/config"
	"github.com/andresmejia3/portrait/internal/face"
	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/pipeline"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/andresmejia3/portrait/internal/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-ID"

// Processor runs the full portrait pipeline for one request.
type Processor interface {
	Run(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Dependencies are the collaborators the handlers call into.
type Dependencies struct {
	Pipeline Processor
	Detector pipeline.Detector
	Preparer imageprep.Preparer
	Detect   face.DetectOptions
	Backend  string // matting backend name reported by /health
}

// Server exposes the pipeline over HTTP.
type Server struct {
	config     config.WebConfig
	deps       Dependencies
	logger     *logger.Logger
	router     *gin.Engine
	httpServer *http.Server
}

// NewServer creates the router and registers routes. Call Run to listen.
func NewServer(cfg config.WebConfig, deps Dependencies, log *logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestID())
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	s := &Server{
		config: cfg,
		deps:   deps,
		logger: log,
		router: router,
	}
	s.setupRoutes()
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Stopping web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api/v1")
	{
		api.POST("/portraits", s.handlePortrait)
		api.POST("/detect", s.handleDetect)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "matting": s.deps.Backend})
}

func (s *Server) handlePortrait(c *gin.Context) {
	id := c.GetString("request_id")
	data, ok := s.readImage(c)
	if !ok {
		return
	}

	res, err := s.deps.Pipeline.Run(c.Request.Context(), pipeline.Request{ID: id, Image: data})
	if err != nil {
		s.fail(c, err)
		return
	}

	if res.Outcome != pipeline.OutcomeComposited {
		body := gin.H{
			"request_id": id,
			"outcome":    res.Outcome,
			"faces":      len(res.Faces),
		}
		if len(res.Reasons) > 0 {
			body["reasons"] = res.Reasons
		}
		if res.MattingErr != nil {
			body["error"] = res.MattingErr.Error()
		}
		c.JSON(http.StatusUnprocessableEntity, body)
		return
	}

	png, err := imageprep.EncodePNG(res.Portrait)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("X-Crop-Region", fmt.Sprintf("%d,%d,%d,%d", res.Region.Left, res.Region.Top, res.Region.Right, res.Region.Bottom))
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) handleDetect(c *gin.Context) {
	id := c.GetString("request_id")
	data, ok := s.readImage(c)
	if !ok {
		return
	}

	prepared, err := s.deps.Preparer.Prepare(data)
	if err != nil {
		s.fail(c, err)
		return
	}
	faces, err := s.deps.Detector.Detect(c.Request.Context(), prepared.Encoded, s.deps.Detect)
	if err != nil {
		s.fail(c, err)
		return
	}

	bounds := prepared.Image.Bounds()
	c.JSON(http.StatusOK, gin.H{
		"request_id": id,
		"image_id":   utils.ContentID(data),
		"width":      bounds.Dx(),
		"height":     bounds.Dy(),
		"faces":      faces,
	})
}

// readImage accepts a raw body or a multipart form with an "image" field.
func (s *Server) readImage(c *gin.Context) ([]byte, bool) {
	if s.config.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxBodyBytes)
	}

	var data []byte
	var err error
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "multipart/form-data" {
		data, err = readFormFile(c, "image")
	} else {
		data, err = io.ReadAll(c.Request.Body)
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.abort(c, http.StatusRequestEntityTooLarge, "image exceeds the upload limit")
		return nil, false
	case err != nil:
		s.abort(c, http.StatusBadRequest, err.Error())
		return nil, false
	case len(data) == 0:
		s.abort(c, http.StatusBadRequest, "empty image")
		return nil, false
	}
	return data, true
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing form field %q: %w", field, err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// fail maps a pipeline error to a status code.
func (s *Server) fail(c *gin.Context, err error) {
	var se *types.ServiceError
	var te *types.TransientError

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrDecode):
		status = http.StatusBadRequest
	case errors.As(err, &te), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	case errors.As(err, &se):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		s.logger.Warn("Request failed", "request_id", c.GetString("request_id"), "status", status, "error", err)
	}
	s.abort(c, status, err.Error())
}

func (s *Server) abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.GetString("request_id"),
		"error":      msg,
	})
}

// requestID reuses a client-supplied X-Request-ID or generates one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// ginLogger creates a Gin middleware that uses our logger
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		log.Debug("HTTP request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

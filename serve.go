package main

/*
WHAT'S GOING ON HERE?

A small HTTP server that exposes a trained checkpoint for inference:

  POST /v1/predict   multipart form, field "image" -> prediction JSON
  GET  /v1/model     input shape, classes, parameter count, run id
  GET  /healthz      liveness probe

The server owns no training machinery. It loads one network at startup
and serves it read-only; Forward with train=false mutates nothing, so
concurrent requests are safe without locking.

Shutdown is graceful: SIGINT or SIGTERM stops the listener, in-flight
requests get ten seconds to finish, then the process exits.
*/

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
)

// maxUploadBytes caps the size of an uploaded image.
const maxUploadBytes = 10 << 20

// ModelInfo is the response body of GET /v1/model.
type ModelInfo struct {
	RunID      string   `json:"run_id,omitempty"`
	InputShape []int    `json:"input_shape"`
	Classes    []string `json:"classes"`
	Parameters int      `json:"parameters"`
}

// InferenceServer serves one trained network over HTTP.
type InferenceServer struct {
	net  *Network
	http *http.Server
}

// NewInferenceServer wires the routes and the HTTP server around a
// loaded network.
func NewInferenceServer(net *Network, addr string) *InferenceServer {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &InferenceServer{net: net}
	router.GET("/healthz", s.handleHealth)
	router.GET("/v1/model", s.handleModel)
	router.POST("/v1/predict", s.handlePredict)

	s.http = &http.Server{
		Addr:           addr,
		Handler:        router,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return s
}

// Handler exposes the route tree, mainly for tests.
func (s *InferenceServer) Handler() http.Handler { return s.http.Handler }

func (s *InferenceServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *InferenceServer) handleModel(c *gin.Context) {
	c.JSON(http.StatusOK, ModelInfo{
		RunID:      s.net.RunID,
		InputShape: s.net.InputShape(),
		Classes:    s.net.ClassNames,
		Parameters: s.net.NumParams(),
	})
}

func (s *InferenceServer) handlePredict(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "couldn't parse multipart form"})
		return
	}
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image field is required"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "couldn't read image"})
		return
	}
	if len(data) > maxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image too large"})
		return
	}

	img, err := decodeImage(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported image format"})
		return
	}

	pred, err := s.net.ClassifyImage(img)
	if err != nil {
		zlog.Errorw("prediction failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "prediction failed"})
		return
	}

	zlog.Infow("prediction served",
		"class", pred.Class,
		"confidence", pred.Confidence,
		"bytes", len(data))
	c.JSON(http.StatusOK, pred)
}

// Run serves until ctx is canceled, then drains in-flight requests.
func (s *InferenceServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		zlog.Infow("server listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zlog.Infow("shutting down server")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutCtx)
}

// RunServer serves net on addr until SIGINT or SIGTERM.
func RunServer(net *Network, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewInferenceServer(net, addr).Run(ctx)
}

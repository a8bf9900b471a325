package dnsserver

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"net/http"
	"time"
)

// UploadRequest is the body of POST /upload
type UploadRequest struct {
	MessageID string         `json:"message_id" binding:"required"`
	Chunks    map[int]string `json:"chunks" binding:"required"`
	Manifest  string         `json:"manifest" binding:"required"`
}

// UploadResponse is returned for an accepted upload
type UploadResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Chunks    int    `json:"chunks"`
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	Domain  string       `json:"domain"`
	Storage StorageStats `json:"storage"`
}

// MessageStatus is returned by GET /messages/:id
type MessageStatus struct {
	MessageID   string           `json:"message_id"`
	Status      string           `json:"status"`
	TotalChunks int              `json:"total_chunks"`
	CreatedAt   time.Time        `json:"created_at"`
	Consumers   []ConsumerRecord `json:"consumers"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Router builds the HTTP API
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.POST("/upload", s.handleUpload)
	r.GET("/status", s.handleStatus)
	r.GET("/messages/:id", s.handleMessage)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	return r
}

func (s *Server) handleUpload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	err := s.queue.PublishMessage(req.MessageID, req.Chunks, req.Manifest)
	switch {
	case errors.Is(err, ErrInvalidMessage):
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, ErrMessageExists):
		c.JSON(http.StatusConflict, errorResponse{Error: err.Error()})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "storage failure"})
		return
	}

	s.logger.Info().
		Str("msg_id", req.MessageID).
		Int("chunks", len(req.Chunks)).
		Msg("message uploaded")

	c.JSON(http.StatusCreated, UploadResponse{
		Status:    "stored",
		MessageID: req.MessageID,
		Chunks:    len(req.Chunks),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	stats := s.queue.Storage().GetStats()
	if s.metrics != nil {
		s.metrics.Observe(stats)
	}
	c.JSON(http.StatusOK, StatusResponse{Domain: s.domain, Storage: stats})
}

func (s *Server) handleMessage(c *gin.Context) {
	id := c.Param("id")

	msg, err := s.queue.Storage().GetMessage(id)
	if errors.Is(err, ErrMessageNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "storage failure"})
		return
	}

	status, err := s.queue.GetMessageStatus(id)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "storage failure"})
		return
	}

	c.JSON(http.StatusOK, MessageStatus{
		MessageID:   msg.ID,
		Status:      status,
		TotalChunks: msg.TotalChunks,
		CreatedAt:   msg.CreatedAt,
		Consumers:   msg.Consumers,
	})
}

// requestLogger logs one line per request
func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		event := logger.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = logger.Error()
		}

		event = event.
			Int("status", c.Writer.Status()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.ByType(gin.ErrorTypePrivate).String())
		}
		event.Msg("http request")
	}
}

// ListenAndServeHTTP serves the API on addr until ctx is cancelled
func (s *Server) ListenAndServeHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

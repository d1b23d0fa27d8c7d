package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/diz-unimr/adt-to-fhir/internal/db"
	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/diz-unimr/adt-to-fhir/internal/nats"
	"github.com/diz-unimr/adt-to-fhir/internal/pipeline"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go/jetstream"
)

// AuditStore is the dead letter and counter store behind the API.
type AuditStore interface {
	Stats(ctx context.Context) (db.Stats, error)
	Rejections(ctx context.Context) ([]db.Rejection, error)
	Rejection(ctx context.Context, id string) (db.Rejection, error)
	DeleteRejection(ctx context.Context, id string) error
	Retried(ctx context.Context)
}

type Options struct {
	Port        int
	Audit       AuditStore
	Workers     func() []pipeline.WorkerStatus
	Requeue     hl7.PublishFunc
	Transformer pipeline.Transformer
	// JetStream is optional; it adds stream and consumer details.
	JetStream jetstream.JetStream
	Streams   []string
}

type Server struct {
	echo *echo.Echo
	opts Options
}

func NewServer(opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("8M"))

	s := &Server{echo: e, opts: opts}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.opts.Port)
	slog.Info("Web server starting", "port", s.opts.Port)

	go func() {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("Web server error", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/stats", s.handleStats)
	api.GET("/workers", s.handleWorkers)
	api.GET("/rejections", s.handleGetRejections)
	api.GET("/rejections/:id", s.handleGetRejection)
	api.DELETE("/rejections/:id", s.handleDeleteRejection)
	api.POST("/rejections/:id/retry", s.handleRetryRejection)
	api.POST("/transform", s.handleTransform)
	api.GET("/streams", s.handleGetStreams)
	api.GET("/consumers", s.handleGetConsumers)
}

func (s *Server) workers() []pipeline.WorkerStatus {
	if s.opts.Workers == nil {
		return []pipeline.WorkerStatus{}
	}
	return s.opts.Workers()
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	components := make(map[string]string)
	overallStatus := "healthy"

	if s.opts.JetStream != nil {
		if _, err := s.opts.JetStream.AccountInfo(ctx); err != nil {
			components["nats"] = "unhealthy: " + err.Error()
			overallStatus = "degraded"
		} else {
			components["nats"] = "healthy"
		}
	}

	if s.opts.Audit != nil {
		if _, err := s.opts.Audit.Stats(ctx); err != nil {
			components["audit_store"] = "unhealthy: " + err.Error()
			overallStatus = "degraded"
		} else {
			components["audit_store"] = "healthy"
		}
	}

	workers := s.workers()
	running := 0
	for _, w := range workers {
		if w.State != pipeline.Stopped.String() {
			running++
		}
	}
	components["pipeline"] = fmt.Sprintf("%d/%d workers running", running, len(workers))
	if len(workers) > 0 && running == 0 {
		overallStatus = "unhealthy"
	}

	health := map[string]interface{}{
		"status":     overallStatus,
		"timestamp":  time.Now(),
		"components": components,
	}

	statusCode := http.StatusOK
	if overallStatus == "unhealthy" {
		statusCode = http.StatusServiceUnavailable
	}
	return c.JSON(statusCode, health)
}

func (s *Server) handleStats(c echo.Context) error {
	if s.opts.Audit == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "audit store not configured")
	}
	stats, err := s.opts.Audit.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "stats unavailable: "+err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleWorkers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.workers())
}

func (s *Server) handleGetRejections(c echo.Context) error {
	if s.opts.Audit == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "audit store not configured")
	}

	kind := c.QueryParam("kind")
	limit := 100
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	all, err := s.opts.Audit.Rejections(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "rejections unavailable: "+err.Error())
	}

	rejections := []db.Rejection{}
	for _, r := range all {
		if kind != "" && r.Kind != kind {
			continue
		}
		rejections = append(rejections, r)
		if len(rejections) == limit {
			break
		}
	}
	return c.JSON(http.StatusOK, rejections)
}

func (s *Server) findRejection(c echo.Context) (db.Rejection, error) {
	if s.opts.Audit == nil {
		return db.Rejection{}, echo.NewHTTPError(http.StatusServiceUnavailable, "audit store not configured")
	}
	rej, err := s.opts.Audit.Rejection(c.Request().Context(), c.Param("id"))
	if errors.Is(err, nats.ErrRejectionNotFound) {
		return db.Rejection{}, echo.NewHTTPError(http.StatusNotFound, "rejection not found")
	}
	if err != nil {
		return db.Rejection{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return rej, nil
}

func (s *Server) handleGetRejection(c echo.Context) error {
	rej, err := s.findRejection(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rej)
}

func (s *Server) handleDeleteRejection(c echo.Context) error {
	rej, err := s.findRejection(c)
	if err != nil {
		return err
	}
	if err := s.opts.Audit.DeleteRejection(c.Request().Context(), rej.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRetryRejection(c echo.Context) error {
	ctx := c.Request().Context()
	rej, err := s.findRejection(c)
	if err != nil {
		return err
	}
	if s.opts.Requeue == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "input topic not configured")
	}

	if err := s.opts.Requeue(ctx, rej.Key, rej.RawMessage); err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, "requeue failed: "+err.Error())
	}
	if err := s.opts.Audit.DeleteRejection(ctx, rej.ID); err != nil {
		slog.Error("Rejection delete failed after requeue", "id", rej.ID, "error", err)
	}
	s.opts.Audit.Retried(ctx)

	slog.Info("Rejection requeued", "id", rej.ID, "controlID", rej.MessageControlID)

	return c.JSON(http.StatusOK, map[string]string{
		"status": "requeued",
		"id":     rej.ID,
	})
}

// handleTransform maps a raw HL7 message in the request body and returns
// the bundle without publishing it.
func (s *Server) handleTransform(c echo.Context) error {
	if s.opts.Transformer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "mapper not configured")
	}
	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}

	msg, err := hl7.Parse(raw)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	bundle, err := s.opts.Transformer.Transform(msg)
	if err != nil {
		if pipeline.IsRejectable(err) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, "application/fhir+json", bundle)
}

func (s *Server) handleGetStreams(c echo.Context) error {
	ctx := c.Request().Context()
	streams := []db.StreamInfo{}
	if s.opts.JetStream == nil {
		return c.JSON(http.StatusOK, streams)
	}

	for _, streamName := range s.opts.Streams {
		stream, err := s.opts.JetStream.Stream(ctx, streamName)
		if err != nil {
			continue
		}
		info, err := stream.Info(ctx)
		if err != nil {
			continue
		}
		streams = append(streams, db.StreamInfo{
			Name:          info.Config.Name,
			Messages:      info.State.Msgs,
			Bytes:         info.State.Bytes,
			FirstSequence: info.State.FirstSeq,
			LastSequence:  info.State.LastSeq,
		})
	}
	return c.JSON(http.StatusOK, streams)
}

func (s *Server) handleGetConsumers(c echo.Context) error {
	ctx := c.Request().Context()
	consumers := []db.ConsumerInfo{}
	if s.opts.JetStream == nil {
		return c.JSON(http.StatusOK, consumers)
	}

	for _, streamName := range s.opts.Streams {
		stream, err := s.opts.JetStream.Stream(ctx, streamName)
		if err != nil {
			continue
		}
		names := stream.ConsumerNames(ctx)
		for name := range names.Name() {
			consumer, err := stream.Consumer(ctx, name)
			if err != nil {
				continue
			}
			info, err := consumer.Info(ctx)
			if err != nil {
				continue
			}
			consumers = append(consumers, db.ConsumerInfo{
				Stream:          streamName,
				Name:            info.Name,
				Pending:         info.NumPending,
				Delivered:       info.Delivered.Consumer,
				AckPending:      uint64(info.NumAckPending),
				RedeliveryCount: uint64(info.NumRedelivered),
			})
		}
	}
	return c.JSON(http.StatusOK, consumers)
}

// Package server exposes the admin HTTP surface: label generation and
// retrieval, batch status, and the carrier async callback.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"

	"github.com/storelink/dpdbridge/internal/label"
	"github.com/storelink/dpdbridge/internal/shipment"
	"github.com/storelink/dpdbridge/internal/store"
	"github.com/storelink/dpdbridge/internal/telemetry"
	"github.com/storelink/dpdbridge/pkg/dpdconnect"
)

// Generator runs one label generation invocation.
type Generator interface {
	Generate(ctx context.Context, req label.Request) (*label.Result, error)
}

// LabelReader serves and deletes archived labels.
type LabelReader interface {
	Get(ctx context.Context, orderID int, retour bool) (*store.LabelRecord, error)
	Delete(ctx context.Context, orderIDs []int) error
}

// BatchReader serves batch status and applies callback results.
type BatchReader interface {
	GetBatch(ctx context.Context, batchID string) (*store.BatchView, error)
	UpdateJobStatus(ctx context.Context, carrierJobID, status, message string) error
}

// TrackingCleaner clears tracking numbers when labels are deleted.
type TrackingCleaner interface {
	ClearTrackingNumbers(ctx context.Context, orderIDs []int) error
}

// Server is the admin HTTP server.
type Server struct {
	port      int
	generator Generator
	labels    LabelReader
	batches   BatchReader
	orders    TrackingCleaner
	logger    *otelzap.Logger
	metrics   *telemetry.Metrics
}

// Config holds server configuration.
type Config struct {
	Port int
}

// New creates a new server instance.
func New(cfg Config, generator Generator, labels LabelReader, batches BatchReader, orders TrackingCleaner, logger *otelzap.Logger, metrics *telemetry.Metrics) *Server {
	return &Server{
		port:      cfg.Port,
		generator: generator,
		labels:    labels,
		batches:   batches,
		orders:    orders,
		logger:    logger,
		metrics:   metrics,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Post("/labels", s.handleGenerateLabels)
	r.Get("/labels/{orderID}", s.handleGetLabel)
	r.Delete("/labels", s.handleDeleteLabels)
	r.Get("/batches/{batchID}", s.handleGetBatch)
	r.Post("/callback", s.handleCallback)

	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type generateRequest struct {
	OrderIDs    []int `json:"orderIds"`
	ParcelCount int   `json:"parcelCount"`
	Return      bool  `json:"return"`
}

type errorResponse struct {
	Errors []label.Message `json:"errors"`
}

func (s *Server) handleGenerateLabels(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.OrderIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "orderIds must not be empty")
		return
	}

	result, err := s.generator.Generate(r.Context(), label.Request{
		OrderIDs:    req.OrderIDs,
		ParcelCount: req.ParcelCount,
		IsReturn:    req.Return,
	})
	if err != nil {
		if errors.Is(err, shipment.ErrMultiParcelNotAllowed) {
			s.writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Ctx(r.Context()).Error("Label generation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "label generation failed")
		return
	}

	s.metrics.RequestDuration.WithLabelValues("generate_labels").Observe(time.Since(start).Seconds())

	if !result.Errors.Empty() {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Errors: result.Errors.Errors})
		return
	}

	if result.BatchID != "" {
		s.metrics.RecordBatch()
		w.Header().Set("Location", "/batches/"+result.BatchID)
		writeJSON(w, http.StatusSeeOther, map[string]string{"batchId": result.BatchID})
		return
	}

	direction := "outbound"
	if req.Return {
		direction = "return"
	}
	for range result.Labels {
		s.metrics.RecordLabel(direction, "carrier")
	}

	artifact, err := label.BuildArtifact(result)
	if err != nil {
		s.logger.Ctx(r.Context()).Error("Artifact assembly failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "artifact assembly failed")
		return
	}
	if artifact == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "no labels produced"})
		return
	}

	streamArtifact(w, artifact)
}

func (s *Server) handleGetLabel(w http.ResponseWriter, r *http.Request) {
	orderID, err := strconv.Atoi(chi.URLParam(r, "orderID"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "order id must be numeric")
		return
	}
	retour := r.URL.Query().Get("return") == "true"

	rec, err := s.labels.Get(r.Context(), orderID, retour)
	if errors.Is(err, store.ErrLabelNotFound) {
		s.writeError(w, http.StatusNotFound, "no label on file")
		return
	}
	if err != nil {
		s.logger.Ctx(r.Context()).Error("Label lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "label lookup failed")
		return
	}

	direction := "outbound"
	if retour {
		direction = "return"
	}
	s.metrics.RecordLabel(direction, "archive")

	streamArtifact(w, &label.Artifact{
		ContentType: "application/pdf",
		Filename:    fmt.Sprintf("%s.pdf", rec.MPSID),
		Data:        rec.Label,
	})
}

type deleteRequest struct {
	OrderIDs []int `json:"orderIds"`
}

func (s *Server) handleDeleteLabels(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if len(req.OrderIDs) == 0 {
		s.writeError(w, http.StatusBadRequest, "orderIds must not be empty")
		return
	}

	if err := s.labels.Delete(r.Context(), req.OrderIDs); err != nil {
		s.logger.Ctx(r.Context()).Error("Label delete failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "label delete failed")
		return
	}
	if err := s.orders.ClearTrackingNumbers(r.Context(), req.OrderIDs); err != nil {
		s.logger.Ctx(r.Context()).Error("Clearing tracking numbers failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "clearing tracking numbers failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type batchResponse struct {
	BatchID  string        `json:"batchId"`
	Status   string        `json:"status"`
	Expected int           `json:"expected"`
	Jobs     []jobResponse `json:"jobs"`
}

type jobResponse struct {
	JobID   string `json:"jobId"`
	OrderID int    `json:"orderId"`
	Return  bool   `json:"return"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")

	view, err := s.batches.GetBatch(r.Context(), batchID)
	if errors.Is(err, store.ErrBatchNotFound) {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		s.logger.Ctx(r.Context()).Error("Batch lookup failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "batch lookup failed")
		return
	}

	resp := batchResponse{
		BatchID:  view.Batch.ID,
		Status:   view.Status,
		Expected: view.Batch.Expected,
	}
	for _, job := range view.Jobs {
		resp.Jobs = append(resp.Jobs, jobResponse{
			JobID:   job.CarrierJobID,
			OrderID: job.OrderID,
			Return:  job.Retour,
			Status:  job.Status,
			Message: job.Message,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var states []dpdconnect.JobState
	if err := json.NewDecoder(r.Body).Decode(&states); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	for _, state := range states {
		status := store.JobFailed
		if state.Status == "success" {
			status = store.JobSuccess
		}

		err := s.batches.UpdateJobStatus(r.Context(), state.JobID, status, state.Message)
		if errors.Is(err, store.ErrJobNotFound) {
			s.logger.Ctx(r.Context()).Warn("Callback for unknown job",
				zap.String("job_id", state.JobID),
			)
			continue
		}
		if err != nil {
			s.logger.Ctx(r.Context()).Error("Job status update failed",
				zap.String("job_id", state.JobID),
				zap.Error(err),
			)
			s.writeError(w, http.StatusInternalServerError, "job status update failed")
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Errors: []label.Message{{Text: message}}})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func streamArtifact(w http.ResponseWriter, artifact *label.Artifact) {
	w.Header().Set("Content-Type", artifact.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", artifact.Filename))
	w.WriteHeader(http.StatusOK)
	w.Write(artifact.Data)
}

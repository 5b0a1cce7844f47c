package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/osvaldoandrade/mpsflow/internal/engine"
	"github.com/osvaldoandrade/mpsflow/internal/metrics"
	"github.com/osvaldoandrade/mpsflow/internal/providers"
	"github.com/osvaldoandrade/mpsflow/internal/repository"
	"github.com/osvaldoandrade/mpsflow/internal/tracing"
	"github.com/osvaldoandrade/mpsflow/pkg/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidPath      = errors.New("invalid file path")
	ErrInvalidTimeLimit = errors.New("time_limit must be positive")
	ErrBatchTooLarge    = errors.New("batch_size exceeds the server limit")
	ErrHistoryDisabled  = errors.New("solve history is disabled")
)

// ModelNotFoundError reports a resolved model path with no file behind it.
type ModelNotFoundError struct {
	Path string
}

func (e *ModelNotFoundError) Error() string { return "model file not found: " + e.Path }

type SolveService interface {
	Solve(ctx context.Context, req domain.SolveRequest) (*SolveOutcome, error)
	Get(ctx context.Context, id string) (*domain.SolveRecord, error)
}

// SolveOutcome is the reshaped response plus the id under which the solve
// was recorded.
type SolveOutcome struct {
	ID       string
	Response domain.SolveResponse
}

type SolveServiceConfig struct {
	BaseDir      string
	Method       engine.Method
	MaxBatchSize int
	// RequestID extracts the request id from ctx for the history record.
	RequestID func(ctx context.Context) string
}

type solveService struct {
	engine   engine.Engine
	history  repository.SolveRepository
	uploader providers.Uploader
	cfg      SolveServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewSolveService wires the solve pipeline. history and uploader are
// optional.
func NewSolveService(eng engine.Engine, history repository.SolveRepository, uploader providers.Uploader, cfg SolveServiceConfig, logger *slog.Logger, now func() time.Time) SolveService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	if cfg.Method == "" {
		cfg.Method = engine.MethodPDLP
	}
	return &solveService{engine: eng, history: history, uploader: uploader, cfg: cfg, logger: logger, now: now}
}

// ResolveModelPath joins fileName onto baseDir and rejects absolute names
// and any result outside baseDir.
func ResolveModelPath(baseDir, fileName string) (string, error) {
	if filepath.IsAbs(fileName) || strings.HasPrefix(fileName, "/") {
		return "", ErrInvalidPath
	}
	base := filepath.Clean(baseDir)
	p := filepath.Clean(filepath.Join(base, fileName))
	rel, err := filepath.Rel(base, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidPath
	}
	return p, nil
}

func (s *solveService) Solve(ctx context.Context, req domain.SolveRequest) (*SolveOutcome, error) {
	if req.TimeLimit <= 0 || math.IsNaN(req.TimeLimit) || math.IsInf(req.TimeLimit, 0) {
		metrics.SolveRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, ErrInvalidTimeLimit
	}
	if req.BatchSize <= 0 {
		req.BatchSize = 1
	}
	if s.cfg.MaxBatchSize > 0 && req.BatchSize > s.cfg.MaxBatchSize {
		metrics.SolveRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w (%d > %d)", ErrBatchTooLarge, req.BatchSize, s.cfg.MaxBatchSize)
	}

	modelPath, err := ResolveModelPath(s.cfg.BaseDir, req.FileName)
	if err != nil {
		metrics.SolveRequestsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if st, err := os.Stat(modelPath); err != nil || st.IsDir() {
		metrics.SolveRequestsTotal.WithLabelValues("not_found").Inc()
		return nil, &ModelNotFoundError{Path: modelPath}
	}

	ctx, span := tracing.Tracer("solve").Start(ctx, "mpsflow.solve",
		trace.WithAttributes(
			attribute.String("mpsflow.file_name", req.FileName),
			attribute.Int("mpsflow.batch_size", req.BatchSize),
			attribute.Float64("mpsflow.time_limit", req.TimeLimit),
		),
	)
	defer span.End()

	s.logger.Info("reading model", "path", modelPath, "batchSize", req.BatchSize)
	models := make([]*engine.Model, 0, req.BatchSize)
	for i := 0; i < req.BatchSize; i++ {
		m, err := s.engine.Load(ctx, modelPath)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "load")
			metrics.SolveRequestsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("load model: %w", err)
		}
		models = append(models, m)
	}

	batch, err := s.engine.BatchSolve(ctx, models, engine.Settings{TimeLimit: req.TimeLimit, Method: s.cfg.Method})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "solve")
		metrics.SolveRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("batch solve: %w", err)
	}
	if len(batch.Results) == 0 {
		metrics.SolveRequestsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("batch solve: %w", engine.ErrEmptyBatch)
	}

	first := batch.Results[0]
	resp := BuildResponse(first)
	kind := string(first.Kind())
	span.SetAttributes(attribute.String("mpsflow.status", resp.Status), attribute.String("mpsflow.kind", kind))
	metrics.SolveRequestsTotal.WithLabelValues("solved").Inc()
	metrics.SolveStatusTotal.WithLabelValues(kind, resp.Status).Inc()
	metrics.SolveDurationSeconds.WithLabelValues(kind).Observe(batch.Elapsed.Seconds())
	metrics.SolveBatchSize.Observe(float64(req.BatchSize))
	s.logger.Info("solver finished", "status", resp.Status, "kind", kind, "elapsed", batch.Elapsed.String())

	id := uuid.NewString()
	s.record(ctx, id, req, resp, batch.Elapsed)
	return &SolveOutcome{ID: id, Response: resp}, nil
}

// record stores the artifact and the history entry. Failures are logged;
// the caller already has its answer.
func (s *solveService) record(ctx context.Context, id string, req domain.SolveRequest, resp domain.SolveResponse, elapsed time.Duration) {
	rec := domain.SolveRecord{
		ID:             id,
		FileName:       req.FileName,
		BatchSize:      req.BatchSize,
		TimeLimit:      req.TimeLimit,
		Status:         resp.Status,
		ObjectiveValue: resp.ObjectiveValue,
		SolveSeconds:   elapsed.Seconds(),
		TraceParent:    tracing.TraceParent(ctx),
		CreatedAt:      s.now().UTC(),
	}
	if s.cfg.RequestID != nil {
		rec.RequestID = s.cfg.RequestID(ctx)
	}

	if s.uploader != nil {
		body, err := json.Marshal(resp)
		if err == nil {
			rec.ArtifactURL, err = s.uploader.UploadBytes(ctx, path.Join("solves", id, "response.json"), "application/json", body)
		}
		if err != nil {
			metrics.ArtifactUploadsTotal.WithLabelValues("error").Inc()
			s.logger.Warn("artifact upload failed", "solveId", id, "err", err)
		} else {
			metrics.ArtifactUploadsTotal.WithLabelValues("ok").Inc()
		}
	}
	if s.history != nil {
		if err := s.history.Save(ctx, rec); err != nil {
			s.logger.Warn("history save failed", "solveId", id, "err", err)
		}
	}
}

func (s *solveService) Get(ctx context.Context, id string) (*domain.SolveRecord, error) {
	if s.history == nil {
		return nil, ErrHistoryDisabled
	}
	return s.history.Get(ctx, id)
}

// BuildResponse promotes status and objective value and places every other
// present field in details.
func BuildResponse(r engine.Result) domain.SolveResponse {
	resp := domain.SolveResponse{Status: r.Status(), Details: map[string]any{}}
	if v, ok := r.ObjectiveValue(); ok && !math.IsNaN(v) && !math.IsInf(v, 0) {
		resp.ObjectiveValue = &v
	}
	for _, f := range r.Fields() {
		if f.Value == nil {
			continue
		}
		resp.Details[f.Name] = detailValue(f.Value)
	}
	return resp
}

// detailValue keeps JSON primitives and converts everything else to its
// string form.
func detailValue(v any) any {
	switch x := v.(type) {
	case string, bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x
	case float32:
		return detailValue(float64(x))
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Sprint(x)
		}
		return x
	}
	return fmt.Sprint(v)
}

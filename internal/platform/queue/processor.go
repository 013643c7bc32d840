package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
)

// Analyzer runs classification for an ANALYZING diagnosis.
type Analyzer interface {
	Analyze(ctx context.Context, diagnosisID uuid.UUID) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	analyzer Analyzer
	logger   zerolog.Logger
}

func NewProcessor(analyzer Analyzer, logger zerolog.Logger) *Processor {
	return &Processor{analyzer: analyzer, logger: logger}
}

func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeAnalyze, p.handleAnalyze)
	return mux
}

// handleAnalyze retries only infrastructure failures. A failed analysis is
// already recorded on the diagnosis as ERROR.
func (p *Processor) handleAnalyze(ctx context.Context, task *asynq.Task) error {
	var payload AnalyzePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := uuid.Parse(payload.DiagnosisID)
	if err != nil {
		return fmt.Errorf("invalid diagnosis id %q: %w", payload.DiagnosisID, asynq.SkipRetry)
	}

	log := p.logger.With().Str("diagnosis_id", id.String()).Logger()
	err = p.analyzer.Analyze(ctx, id)
	var inference *apierr.InferenceError
	switch {
	case err == nil:
		log.Info().Msg("analysis finished")
		return nil
	case errors.As(err, &inference):
		log.Warn().Err(err).Msg("analysis failed")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	case errors.Is(err, db.ErrNotFound):
		log.Warn().Msg("diagnosis no longer exists")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	default:
		log.Error().Err(err).Msg("analysis interrupted, will retry")
		return err
	}
}

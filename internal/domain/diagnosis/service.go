package diagnosis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pyneumonia/pyneumonia/internal/domain/order"
	"github.com/pyneumonia/pyneumonia/internal/domain/xray"
	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/blobstore"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/internal/platform/inference"
)

const auditTable = "diagnoses"

// ImageStore is the part of the x-ray repository the engine uses.
type ImageStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*xray.Image, error)
	SetAnalyzed(ctx context.Context, id uuid.UUID, analyzed bool) error
}

// OrderStore is the part of the order repository the engine uses.
type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
	SaveStatus(ctx context.Context, o *order.Order) error
}

type BlobOpener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, *blobstore.Object, error)
}

// Dispatcher hands an ANALYZING diagnosis to the background worker.
type Dispatcher interface {
	EnqueueAnalysis(ctx context.Context, diagnosisID uuid.UUID) error
}

// Service is the diagnosis workflow engine. Every transition takes the acting
// user explicitly and is authorized here, not only at the route.
type Service struct {
	repo       Repository
	images     ImageStore
	orders     OrderStore
	blobs      BlobOpener
	classifier inference.Classifier
	tx         db.TxRunner
	audit      *audit.Recorder
	logger     zerolog.Logger
	dispatcher Dispatcher
	now        func() time.Time
}

func NewService(repo Repository, images ImageStore, orders OrderStore, blobs BlobOpener,
	classifier inference.Classifier, tx db.TxRunner, rec *audit.Recorder, logger zerolog.Logger) *Service {
	if tx == nil {
		tx = db.NoTx{}
	}
	return &Service{
		repo:       repo,
		images:     images,
		orders:     orders,
		blobs:      blobs,
		classifier: classifier,
		tx:         tx,
		audit:      rec,
		logger:     logger,
		now:        time.Now,
	}
}

// SetDispatcher switches Submit to background analysis.
func (s *Service) SetDispatcher(d Dispatcher) {
	s.dispatcher = d
}

func (s *Service) Async() bool { return s.dispatcher != nil }

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Submit creates the ANALYZING diagnosis for an image and, unless a
// dispatcher is set, classifies it before returning.
func (s *Service) Submit(ctx context.Context, actor auth.Actor, xrayID uuid.UUID) (*Diagnosis, error) {
	if err := auth.Authorize(actor, auth.SubmitDiagnosis); err != nil {
		return nil, err
	}
	if xrayID == uuid.Nil {
		return nil, &apierr.MissingReferenceError{Field: "xray_id"}
	}
	img, err := s.images.GetByID(ctx, xrayID)
	if err != nil {
		return nil, fmt.Errorf("x-ray %s: %w", xrayID, err)
	}

	if existing, err := s.repo.GetByXRay(ctx, xrayID); err == nil {
		return nil, &apierr.AlreadyAnalyzedError{DiagnosisID: existing.ID.String()}
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("check existing diagnosis: %w", err)
	}

	d := &Diagnosis{
		XRayID:    img.ID,
		OrderID:   img.OrderID,
		PatientID: img.PatientID,
		Status:    StatusAnalyzing,
		CreatedBy: uuidPtr(actor.UserID),
	}
	if err := s.repo.Create(ctx, d); err != nil {
		if errors.Is(err, ErrDuplicateImage) {
			return nil, s.alreadyAnalyzed(ctx, xrayID)
		}
		return nil, fmt.Errorf("create diagnosis: %w", err)
	}
	s.audit.Record(ctx, auditTable, d.ID, audit.ActionAdd, actor.UserID, map[string]interface{}{
		"xray_id": xrayID.String(),
		"status":  d.Status,
	})

	if s.dispatcher != nil {
		if err := s.dispatcher.EnqueueAnalysis(ctx, d.ID); err != nil {
			return nil, s.fail(ctx, d, actor.UserID, fmt.Errorf("%w: enqueue analysis: %v", inference.ErrUnavailable, err))
		}
		return d.decorate(), nil
	}
	return s.analyze(ctx, d, img, actor.UserID)
}

// alreadyAnalyzed builds the error for a submission that lost the race on
// the unique constraint.
func (s *Service) alreadyAnalyzed(ctx context.Context, xrayID uuid.UUID) error {
	winner, err := s.repo.GetByXRay(ctx, xrayID)
	if err != nil {
		return &apierr.AlreadyAnalyzedError{}
	}
	return &apierr.AlreadyAnalyzedError{DiagnosisID: winner.ID.String()}
}

// Analyze runs classification for a diagnosis left ANALYZING by an
// asynchronous Submit. Diagnoses in any other state are skipped.
func (s *Service) Analyze(ctx context.Context, id uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("diagnosis %s: %w", id, err)
	}
	if d.Status != StatusAnalyzing {
		s.logger.Info().Str("diagnosis_id", id.String()).Str("status", d.Status).Msg("diagnosis no longer analyzing, skipping")
		return nil
	}
	var actorID uuid.UUID
	if d.CreatedBy != nil {
		actorID = *d.CreatedBy
	}
	img, err := s.images.GetByID(ctx, d.XRayID)
	if err != nil {
		return s.fail(ctx, d, actorID, fmt.Errorf("load x-ray: %w", err))
	}
	_, err = s.analyze(ctx, d, img, actorID)
	return err
}

func (s *Service) analyze(ctx context.Context, d *Diagnosis, img *xray.Image, actorID uuid.UUID) (*Diagnosis, error) {
	rc, _, err := s.blobs.Open(ctx, img.ObjectKey)
	if err != nil {
		return nil, s.fail(ctx, d, actorID, fmt.Errorf("image file not found: %w", err))
	}
	res, err := s.classifier.Classify(ctx, img.FileName, rc)
	rc.Close()
	if err != nil {
		return nil, s.fail(ctx, d, actorID, err)
	}

	out, err := Ingest(res)
	if err != nil {
		return nil, s.fail(ctx, d, actorID, err)
	}
	if !out.Known {
		s.logger.Warn().Str("diagnosis_id", d.ID.String()).Str("class", out.Prediction.Class).
			Msg("classifier returned an unrecognized class")
	}

	d.PredictedClass = out.Prediction.Class
	d.ClassID = out.Prediction.ClassID
	d.Confidence = out.Prediction.Confidence
	d.RawResponse = res.Raw
	pt := res.ProcessingTime
	d.ProcessingTime = &pt
	d.SuggestedSeverity = strPtr(out.Interpretation.SuggestedSeverity)
	notes := out.Interpretation.Notes(d.Confidence)
	d.AutoNotes = &notes
	d.ErrorMessage = nil
	d.Status = StatusCompleted

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SaveResult(ctx, d); err != nil {
			return err
		}
		return s.images.SetAnalyzed(ctx, d.XRayID, true)
	})
	if err != nil {
		return nil, fmt.Errorf("save analysis: %w", err)
	}

	s.audit.Record(ctx, auditTable, d.ID, audit.ActionModify, actorID, map[string]interface{}{
		"status":          d.Status,
		"predicted_class": d.PredictedClass,
		"confidence":      d.Confidence,
	})
	return d.decorate(), nil
}

// fail moves d to ERROR and returns the InferenceError describing why. The
// diagnosis is kept and its image stays not analyzed.
func (s *Service) fail(ctx context.Context, d *Diagnosis, actorID uuid.UUID, cause error) error {
	var ve *apierr.ValidationError
	unusable := errors.Is(cause, inference.ErrMalformed) || errors.As(cause, &ve)

	msg := cause.Error()
	if ve != nil {
		msg = "validation error: " + msg
	}
	d.Status = StatusError
	d.ErrorMessage = &msg

	// The failure is recorded even when the caller has gone away.
	ctx = context.WithoutCancel(ctx)
	if err := s.repo.SaveResult(ctx, d); err != nil {
		s.logger.Error().Err(err).Str("diagnosis_id", d.ID.String()).Msg("failed to record analysis error")
	}
	s.logger.Warn().Err(cause).Str("diagnosis_id", d.ID.String()).Msg("analysis failed")
	s.audit.Record(ctx, auditTable, d.ID, audit.ActionModify, actorID, map[string]interface{}{
		"status": d.Status,
		"error":  msg,
	})
	return &apierr.InferenceError{Unusable: unusable, DiagnosisID: d.ID.String(), Err: cause}
}

// load fetches a diagnosis for a review transition.
func (s *Service) load(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("diagnosis %s: %w", id, err)
	}
	if !d.IsCompleted() {
		return nil, &apierr.SequenceError{Message: "diagnosis must be completed before review"}
	}
	return d, nil
}

func checkVersion(d *Diagnosis, version *int) error {
	if version != nil && *version != d.Version {
		return &apierr.ConflictError{Resource: "diagnosis", Expected: *version, Actual: d.Version}
	}
	return nil
}

func (s *Service) saveReview(ctx context.Context, d *Diagnosis, version *int) error {
	expect := 0
	if version != nil {
		expect = *version
	}
	err := s.repo.SaveReview(ctx, d, expect)
	if errors.Is(err, ErrVersionMismatch) {
		return &apierr.ConflictError{Resource: "diagnosis", Expected: expect}
	}
	if err != nil {
		return fmt.Errorf("save review: %w", err)
	}
	return nil
}

// MarkReviewed sets the general review flag. Marking an already reviewed
// diagnosis changes nothing.
func (s *Service) MarkReviewed(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Diagnosis, error) {
	if err := auth.Authorize(actor, auth.MarkReviewed); err != nil {
		return nil, err
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.IsReviewed {
		return d.decorate(), nil
	}
	now := s.now()
	d.IsReviewed = true
	d.ReviewedBy = uuidPtr(actor.UserID)
	d.ReviewedAt = &now
	if err := s.saveReview(ctx, d, nil); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auditTable, d.ID, audit.ActionModify, actor.UserID, map[string]interface{}{
		"transition": "mark_reviewed",
	})
	return d.decorate(), nil
}

type RadiologistReview struct {
	Severity string `json:"severity"`
	Notes    string `json:"notes"`
	Version  *int   `json:"version,omitempty"`
}

// ReviewAsRadiologist records the radiologist's severity and notes,
// replacing an earlier radiologist review.
func (s *Service) ReviewAsRadiologist(ctx context.Context, actor auth.Actor, id uuid.UUID, in RadiologistReview) (*Diagnosis, error) {
	if err := auth.Authorize(actor, auth.ReviewAsRadiologist); err != nil {
		return nil, err
	}
	severity := strings.ToUpper(strings.TrimSpace(in.Severity))
	if severity == "" {
		return nil, apierr.Validation("severity", "is required")
	}
	if !validSeverities[severity] {
		return nil, apierr.Validation("severity", "must be one of MILD, MODERATE, SEVERE")
	}
	notes, err := ValidateNotes("notes", in.Notes)
	if err != nil {
		return nil, err
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkVersion(d, in.Version); err != nil {
		return nil, err
	}

	now := s.now()
	d.RadiologistID = uuidPtr(actor.UserID)
	d.RadiologistReviewedAt = &now
	d.Severity = &severity
	d.RadiologistNotes = strPtr(notes)
	if err := s.saveReview(ctx, d, in.Version); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auditTable, d.ID, audit.ActionModify, actor.UserID, map[string]interface{}{
		"transition": "radiologist_review",
		"severity":   severity,
	})
	return d.decorate(), nil
}

type PhysicianApproval struct {
	Notes   string `json:"notes"`
	Version *int   `json:"version,omitempty"`
}

// ApproveAsPhysician signs off a diagnosis that a radiologist has reviewed.
func (s *Service) ApproveAsPhysician(ctx context.Context, actor auth.Actor, id uuid.UUID, in PhysicianApproval) (*Diagnosis, error) {
	if err := auth.Authorize(actor, auth.ApproveAsPhysician); err != nil {
		return nil, err
	}
	notes, err := ValidateNotes("notes", in.Notes)
	if err != nil {
		return nil, err
	}
	d, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.HasRadiologistReview() {
		return nil, &apierr.SequenceError{Message: "diagnosis must be radiologist-reviewed first"}
	}
	if err := checkVersion(d, in.Version); err != nil {
		return nil, err
	}

	now := s.now()
	d.PhysicianID = uuidPtr(actor.UserID)
	d.ApprovedAt = &now
	d.PhysicianNotes = strPtr(notes)
	if err := s.saveReview(ctx, d, in.Version); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, auditTable, d.ID, audit.ActionModify, actor.UserID, map[string]interface{}{
		"transition": "physician_approval",
	})
	return d.decorate(), nil
}

// Delete removes a diagnosis and rolls back what depended on it: the image
// is marked not analyzed and its order returns to PENDING, in one
// transaction.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	if err := auth.Authorize(actor, auth.DeleteDiagnosis); err != nil {
		return err
	}
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("diagnosis %s: %w", id, err)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.images.SetAnalyzed(ctx, d.XRayID, false); err != nil {
			return fmt.Errorf("reset x-ray: %w", err)
		}
		o, err := s.orders.GetByID(ctx, d.OrderID)
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		o.ApplyStatus(order.StatusPending, s.now())
		if err := s.orders.SaveStatus(ctx, o); err != nil {
			return fmt.Errorf("reset order: %w", err)
		}
		return s.repo.Delete(ctx, d.ID)
	})
	if err != nil {
		return err
	}
	s.audit.Record(ctx, auditTable, d.ID, audit.ActionDelete, actor.UserID, map[string]interface{}{
		"xray_id":  d.XRayID.String(),
		"order_id": d.OrderID.String(),
	})
	return nil
}

// ReportEligible reports whether a report may be written for d, whose
// image belongs to o.
func ReportEligible(d *Diagnosis, o *order.Order) error {
	if !d.IsCompleted() {
		return apierr.Validation("diagnosis_id", fmt.Sprintf("diagnosis is %s, reports need a completed diagnosis", d.Status))
	}
	if o.IsCancelled() {
		return apierr.Validation("diagnosis_id", "the medical order was cancelled")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Diagnosis, error) {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("diagnosis %s: %w", id, err)
	}
	return d.decorate(), nil
}

func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Diagnosis, int, error) {
	items, total, err := s.repo.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, d := range items {
		d.decorate()
	}
	return items, total, nil
}

// PendingReports lists the actor's reviewed diagnoses that still need a
// report.
func (s *Service) PendingReports(ctx context.Context, actor auth.Actor, limit, offset int) ([]*Diagnosis, int, error) {
	items, total, err := s.repo.PendingReports(ctx, actor.UserID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, d := range items {
		d.decorate()
	}
	return items, total, nil
}

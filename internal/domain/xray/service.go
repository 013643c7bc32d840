package xray

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pyneumonia/pyneumonia/internal/domain/order"
	"github.com/pyneumonia/pyneumonia/internal/platform/apierr"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/blobstore"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/internal/platform/imaging"
)

const auditTable = "xray_images"

// OrderLookup is the part of the order repository uploads need.
type OrderLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error)
}

type Config struct {
	MaxUploadBytes int64
	LinkTTL        time.Duration
	// PublicBaseURL prefixes signed content links, e.g. https://api.example.org.
	PublicBaseURL string
}

type Service struct {
	repo   Repository
	orders OrderLookup
	store  blobstore.Store
	signer *blobstore.Signer
	audit  *audit.Recorder
	logger zerolog.Logger
	cfg    Config
	now    func() time.Time
}

func NewService(repo Repository, orders OrderLookup, store blobstore.Store, signer *blobstore.Signer,
	rec *audit.Recorder, logger zerolog.Logger, cfg Config) *Service {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * time.Minute
	}
	return &Service{
		repo:   repo,
		orders: orders,
		store:  store,
		signer: signer,
		audit:  rec,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Upload stores the file and records it against the order. An order holds at
// most one image: a previous image that has not been analyzed is replaced,
// an analyzed one must be deleted first.
func (s *Service) Upload(ctx context.Context, actor auth.Actor, up *Upload) (*Image, error) {
	if up.OrderID == uuid.Nil {
		return nil, &apierr.MissingReferenceError{Field: "order_id"}
	}
	o, err := s.orders.GetByID(ctx, up.OrderID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apierr.Validation("order_id", "order does not exist")
		}
		return nil, fmt.Errorf("load order: %w", err)
	}
	if o.IsCancelled() {
		return nil, apierr.Validation("order_id", "order is cancelled")
	}

	contentType := strings.TrimSpace(up.ContentType)
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = imaging.Sniff(up.Data).ContentType()
	}
	if err := blobstore.ValidateUpload(up.FileName, contentType, int64(len(up.Data)), s.cfg.MaxUploadBytes); err != nil {
		return nil, apierr.Validation("file", err.Error())
	}
	info, err := imaging.Inspect(up.Data)
	if err != nil {
		return nil, apierr.Validation("file", err.Error())
	}

	quality := strings.ToUpper(strings.TrimSpace(up.Quality))
	if quality == "" {
		quality = QualityGood
	}
	if !validQualities[quality] {
		return nil, apierr.Validation("quality", "must be one of EXCELLENT, GOOD, FAIR, POOR")
	}
	view := strings.ToUpper(strings.TrimSpace(up.ViewPosition))
	if view == "" && info.DICOM != nil && info.DICOM.ViewPosition != "" {
		view = strings.ToUpper(info.DICOM.ViewPosition)
	}
	if view == "" {
		view = DefaultViewPosition
	}

	existing, err := s.repo.GetByOrder(ctx, up.OrderID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("load existing image: %w", err)
	}
	if existing != nil && existing.IsAnalyzed {
		return nil, apierr.Validation("order_id", "order already has an analyzed x-ray image")
	}

	key := blobstore.ObjectKey(s.now(), up.FileName)
	obj, err := s.store.Put(ctx, key, bytes.NewReader(up.Data), int64(len(up.Data)), contentType)
	if err != nil {
		return nil, fmt.Errorf("store image: %w", err)
	}

	img := &Image{
		OrderID:      o.ID,
		PatientID:    o.PatientID,
		ObjectKey:    obj.Key,
		FileName:     up.FileName,
		ContentType:  contentType,
		SizeBytes:    obj.Size,
		SHA256:       obj.SHA256,
		Format:       string(info.Format),
		Width:        info.Width,
		Height:       info.Height,
		DICOM:        info.DICOM,
		Description:  up.Description,
		Quality:      quality,
		ViewPosition: view,
	}
	if actor.UserID != uuid.Nil {
		id := actor.UserID
		img.UploadedBy = &id
	}

	action := audit.ActionAdd
	if existing != nil {
		img.ID = existing.ID
		err = s.repo.Replace(ctx, img)
		action = audit.ActionModify
	} else {
		err = s.repo.Create(ctx, img)
	}
	if err != nil {
		s.removeBlob(ctx, obj.Key)
		return nil, fmt.Errorf("save image: %w", err)
	}
	if existing != nil {
		s.removeBlob(ctx, existing.ObjectKey)
	}

	s.audit.Record(ctx, auditTable, img.ID, action, actor.UserID, map[string]interface{}{
		"order_id": img.OrderID.String(),
		"format":   img.Format,
		"size":     img.SizeBytes,
	})
	return img, nil
}

func (s *Service) removeBlob(ctx context.Context, key string) {
	if err := s.store.Delete(ctx, key); err != nil && !errors.Is(err, blobstore.ErrBlobNotFound) {
		s.logger.Warn().Err(err).Str("object_key", key).Msg("failed to remove x-ray blob")
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Image, error) {
	img, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("x-ray %s: %w", id, err)
	}
	return img, nil
}

func (s *Service) List(ctx context.Context, params map[string]string, limit, offset int) ([]*Image, int, error) {
	return s.repo.Search(ctx, params, limit, offset)
}

// Delete removes the record, which cascades to its diagnosis and reports,
// and then the stored file.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	img, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("x-ray %s: %w", id, err)
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete x-ray: %w", err)
	}
	s.removeBlob(ctx, img.ObjectKey)
	s.audit.Record(ctx, auditTable, id, audit.ActionDelete, actor.UserID, map[string]interface{}{
		"order_id": img.OrderID.String(),
	})
	return nil
}

// DownloadLink returns a presigned store URL when the store supports it and
// otherwise an HMAC-signed link to the content endpoint.
func (s *Service) DownloadLink(ctx context.Context, id uuid.UUID) (*Link, error) {
	img, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(s.cfg.LinkTTL)
	u, err := s.store.PresignGet(ctx, img.ObjectKey, s.cfg.LinkTTL)
	if err == nil {
		return &Link{URL: u, ExpiresAt: expiresAt}, nil
	}
	if !errors.Is(err, blobstore.ErrPresignUnsupported) {
		return nil, fmt.Errorf("presign x-ray: %w", err)
	}

	expires, sig := s.signer.SignedQuery(img.ID.String(), s.cfg.LinkTTL)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", sig)
	link := fmt.Sprintf("%s/api/v1/xrays/%s/content?%s", strings.TrimRight(s.cfg.PublicBaseURL, "/"), img.ID, q.Encode())
	return &Link{URL: link, ExpiresAt: expiresAt}, nil
}

// ErrBadSignature is returned for content requests with a missing, forged or
// expired signature.
var ErrBadSignature = errors.New("invalid or expired download signature")

// OpenSigned returns the file behind a signed content link.
func (s *Service) OpenSigned(ctx context.Context, id uuid.UUID, expires, sig string) (io.ReadCloser, *Image, error) {
	if !s.signer.Validate(id.String(), expires, sig) {
		return nil, nil, ErrBadSignature
	}
	img, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, _, err := s.store.Open(ctx, img.ObjectKey)
	if err != nil {
		return nil, nil, fmt.Errorf("open x-ray %s: %w", id, err)
	}
	return rc, img, nil
}

package diagnosis

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pyneumonia/pyneumonia/internal/domain/order"
	"github.com/pyneumonia/pyneumonia/internal/domain/xray"
	"github.com/pyneumonia/pyneumonia/internal/platform/audit"
	"github.com/pyneumonia/pyneumonia/internal/platform/auth"
	"github.com/pyneumonia/pyneumonia/internal/platform/blobstore"
	"github.com/pyneumonia/pyneumonia/internal/platform/db"
	"github.com/pyneumonia/pyneumonia/internal/platform/inference"
)

type mockRepo struct {
	mu        sync.Mutex
	diagnoses map[uuid.UUID]*Diagnosis
}

func newMockRepo() *mockRepo {
	return &mockRepo{diagnoses: make(map[uuid.UUID]*Diagnosis)}
}

func (m *mockRepo) Create(_ context.Context, d *Diagnosis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.diagnoses {
		if existing.XRayID == d.XRayID {
			return ErrDuplicateImage
		}
	}
	d.ID = uuid.New()
	d.Version = 1
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	m.diagnoses[d.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Diagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.diagnoses[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockRepo) GetByXRay(_ context.Context, xrayID uuid.UUID) (*Diagnosis, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.diagnoses {
		if d.XRayID == xrayID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *mockRepo) SaveResult(_ context.Context, d *Diagnosis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.diagnoses[d.ID]
	if !ok {
		return db.ErrNotFound
	}
	stored.PredictedClass = d.PredictedClass
	stored.ClassID = d.ClassID
	stored.Confidence = d.Confidence
	stored.RawResponse = d.RawResponse
	stored.ProcessingTime = d.ProcessingTime
	stored.Status = d.Status
	stored.ErrorMessage = d.ErrorMessage
	stored.SuggestedSeverity = d.SuggestedSeverity
	stored.AutoNotes = d.AutoNotes
	return nil
}

func (m *mockRepo) SaveReview(_ context.Context, d *Diagnosis, expectVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.diagnoses[d.ID]
	if !ok {
		return db.ErrNotFound
	}
	if expectVersion > 0 && stored.Version != expectVersion {
		return ErrVersionMismatch
	}
	stored.IsReviewed, stored.ReviewedBy, stored.ReviewedAt = d.IsReviewed, d.ReviewedBy, d.ReviewedAt
	stored.RadiologistID, stored.RadiologistNotes = d.RadiologistID, d.RadiologistNotes
	stored.RadiologistReviewedAt, stored.Severity = d.RadiologistReviewedAt, d.Severity
	stored.PhysicianID, stored.PhysicianNotes, stored.ApprovedAt = d.PhysicianID, d.PhysicianNotes, d.ApprovedAt
	stored.Version++
	d.Version = stored.Version
	return nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.diagnoses[id]; !ok {
		return db.ErrNotFound
	}
	delete(m.diagnoses, id)
	return nil
}

func (m *mockRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Diagnosis, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Diagnosis
	for _, d := range m.diagnoses {
		if s := params["status"]; s != "" && !strings.EqualFold(d.Status, s) {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) PendingReports(_ context.Context, requestedBy uuid.UUID, limit, offset int) ([]*Diagnosis, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Diagnosis
	for _, d := range m.diagnoses {
		if d.IsReviewed && d.IsCompleted() && d.CreatedBy != nil && *d.CreatedBy == requestedBy {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.diagnoses)
}

type mockImages struct {
	mu     sync.Mutex
	images map[uuid.UUID]*xray.Image
}

func (m *mockImages) GetByID(_ context.Context, id uuid.UUID) (*xray.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *img
	return &cp, nil
}

func (m *mockImages) SetAnalyzed(_ context.Context, id uuid.UUID, analyzed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	img, ok := m.images[id]
	if !ok {
		return db.ErrNotFound
	}
	img.IsAnalyzed = analyzed
	return nil
}

func (m *mockImages) analyzed(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images[id].IsAnalyzed
}

type mockOrders struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*order.Order
}

func (m *mockOrders) GetByID(_ context.Context, id uuid.UUID) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) SaveStatus(_ context.Context, o *order.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; !ok {
		return db.ErrNotFound
	}
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

type stubClassifier struct {
	calls  atomic.Int32
	result *inference.Result
	err    error
}

func (s *stubClassifier) Classify(_ context.Context, _ string, image io.Reader) (*inference.Result, error) {
	s.calls.Add(1)
	if _, err := io.ReadAll(image); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func predictions(preds ...inference.Prediction) *inference.Result {
	raw, _ := json.Marshal(map[string]interface{}{"predictions": preds})
	return &inference.Result{Predictions: preds, ProcessingTime: 0.42, Raw: raw}
}

type stubDispatcher struct {
	ids []uuid.UUID
	err error
}

func (s *stubDispatcher) EnqueueAnalysis(_ context.Context, id uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, id)
	return nil
}

var (
	testAdmin        = auth.Actor{UserID: uuid.New(), Username: "admin", Roles: []auth.Role{auth.RoleAdmin}}
	testPhysician    = auth.Actor{UserID: uuid.New(), Username: "dr.garcia", Roles: []auth.Role{auth.RolePhysician}}
	testRadiologist  = auth.Actor{UserID: uuid.New(), Username: "rx.lopez", Roles: []auth.Role{auth.RoleRadiologist}}
	testReceptionist = auth.Actor{UserID: uuid.New(), Username: "front.desk", Roles: []auth.Role{auth.RoleReceptionist}}
)

type fixture struct {
	svc        *Service
	repo       *mockRepo
	images     *mockImages
	orders     *mockOrders
	blobs      *blobstore.MemoryStore
	classifier *stubClassifier
	sink       *audit.MemorySink
	image      *xray.Image
	order      *order.Order
}

func newFixture() *fixture {
	f := &fixture{
		repo:       newMockRepo(),
		images:     &mockImages{images: make(map[uuid.UUID]*xray.Image)},
		orders:     &mockOrders{orders: make(map[uuid.UUID]*order.Order)},
		blobs:      blobstore.NewMemoryStore(),
		classifier: &stubClassifier{result: predictions(inference.Prediction{Class: ClassPneumoniaViral, ClassID: 2, Confidence: 0.92})},
		sink:       &audit.MemorySink{},
	}
	f.order, f.image = f.addImage()
	f.svc = NewService(f.repo, f.images, f.orders, f.blobs, f.classifier, db.NoTx{},
		audit.NewRecorder(f.sink, zerolog.Nop()), zerolog.Nop())
	return f
}

// addImage registers an order in progress with one stored image.
func (f *fixture) addImage() (*order.Order, *xray.Image) {
	o := &order.Order{ID: uuid.New(), PatientID: uuid.New(), Status: order.StatusInProgress, RequestedBy: &testPhysician.UserID}
	img := &xray.Image{ID: uuid.New(), OrderID: o.ID, PatientID: o.PatientID, FileName: "chest.png",
		ObjectKey: "xrays/2026/06/15/" + uuid.NewString() + ".png"}
	f.orders.orders[o.ID] = o
	f.images.images[img.ID] = img
	f.blobs.Put(context.Background(), img.ObjectKey, strings.NewReader("png-bytes"), 9, "image/png")
	return o, img
}

func intPtr(v int) *int { return &v }

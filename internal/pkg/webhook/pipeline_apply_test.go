package webhook

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/stashpoint/settled/app/models"
	"github.com/stashpoint/settled/internal/pkg/seller"
	"github.com/stashpoint/settled/internal/pkg/settlement"
)

// In-memory repositories mirroring the version-guard and dedup semantics of
// the GORM implementations, so the apply path runs without a database.

type fakeSettlementRepo struct {
	records   map[uint]*models.SettlementRecord
	nextID    uint
	updateErr error
}

func newFakeSettlementRepo() *fakeSettlementRepo {
	return &fakeSettlementRepo{records: map[uint]*models.SettlementRecord{}, nextID: 1}
}

func (r *fakeSettlementRepo) Create(rec *models.SettlementRecord) error {
	rec.ID = r.nextID
	r.nextID++
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	clone := *rec
	r.records[rec.ID] = &clone
	return nil
}

func (r *fakeSettlementRepo) GetByID(id uint) (*models.SettlementRecord, error) {
	stored, ok := r.records[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	clone := *stored
	return &clone, nil
}

func (r *fakeSettlementRepo) GetByUUID(u string) (*models.SettlementRecord, error) {
	for _, stored := range r.records {
		if stored.UUID == u {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSettlementRepo) GetByOrderID(orderID string) (*models.SettlementRecord, error) {
	for _, stored := range r.records {
		if stored.OrderID == orderID {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSettlementRepo) UpdateGuarded(rec *models.SettlementRecord, updates map[string]interface{}) (bool, error) {
	if r.updateErr != nil {
		return false, r.updateErr
	}
	stored, ok := r.records[rec.ID]
	if !ok || stored.Version != rec.Version {
		return false, nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			stored.Status = v.(string)
		case "provider_payout_id":
			stored.ProviderPayoutID = v.(string)
		case "provider_seller_id":
			stored.ProviderSellerID = v.(string)
		case "error_message":
			stored.ErrorMessage = v.(string)
		case "retry_count":
			stored.RetryCount = v.(int)
		case "manual_review":
			stored.ManualReview = v.(bool)
		case "completed_at":
			stored.CompletedAt = v.(*time.Time)
		case "last_failed_at":
			stored.LastFailedAt = v.(*time.Time)
		}
	}
	stored.Version++
	stored.UpdatedAt = time.Now()
	*rec = *stored
	return true, nil
}

func (r *fakeSettlementRepo) ListRetryEligible(limit int) ([]models.SettlementRecord, error) {
	return nil, nil
}

func (r *fakeSettlementRepo) ListManualReview(offset, limit int) ([]models.SettlementRecord, error) {
	return nil, nil
}

func (r *fakeSettlementRepo) ListStaleProcessing(cutoff time.Time, limit int) ([]models.SettlementRecord, error) {
	return nil, nil
}

type fakeSellerRepo struct {
	records map[uint]*models.SellerOnboarding
	nextID  uint
}

func newFakeSellerRepo() *fakeSellerRepo {
	return &fakeSellerRepo{records: map[uint]*models.SellerOnboarding{}, nextID: 1}
}

func (r *fakeSellerRepo) Create(rec *models.SellerOnboarding) error {
	rec.ID = r.nextID
	r.nextID++
	rec.UpdatedAt = time.Now()
	clone := *rec
	r.records[rec.ID] = &clone
	return nil
}

func (r *fakeSellerRepo) GetByStoreID(storeID uint) (*models.SellerOnboarding, error) {
	for _, stored := range r.records {
		if stored.StoreID == storeID {
			clone := *stored
			return &clone, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeSellerRepo) UpdateGuarded(rec *models.SellerOnboarding, updates map[string]interface{}) (bool, error) {
	stored, ok := r.records[rec.ID]
	if !ok || stored.Version != rec.Version {
		return false, nil
	}
	for k, v := range updates {
		switch k {
		case "status":
			stored.Status = v.(string)
		case "provider_seller_id":
			stored.ProviderSellerID = v.(string)
		case "approved_at":
			stored.ApprovedAt = v.(*time.Time)
		}
	}
	stored.Version++
	stored.UpdatedAt = time.Now()
	*rec = *stored
	return true, nil
}

type fakeStoreRepo struct{}

func (fakeStoreRepo) GetByID(id uint) (*models.Store, error) {
	return &models.Store{ID: id, Name: "store", Active: true}, nil
}

func (fakeStoreRepo) Exists(id uint) (bool, error) { return true, nil }

type fakeEventRepo struct {
	events map[string]*models.WebhookEvent
	nextID uint
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: map[string]*models.WebhookEvent{}, nextID: 1}
}

func (r *fakeEventRepo) CreateIfNotExists(event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	if stored, ok := r.events[event.EventID]; ok {
		clone := *stored
		return false, &clone, nil
	}
	event.ID = r.nextID
	r.nextID++
	clone := *event
	r.events[event.EventID] = &clone
	return true, &clone, nil
}

func (r *fakeEventRepo) MarkProcessed(id uint, processingError string) error {
	for _, stored := range r.events {
		if stored.ID == id {
			now := time.Now()
			stored.ProcessedAt = &now
			stored.ProcessingError = processingError
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (r *fakeEventRepo) snapshot() map[string]*models.WebhookEvent {
	out := make(map[string]*models.WebhookEvent, len(r.events))
	for k, v := range r.events {
		clone := *v
		out[k] = &clone
	}
	return out
}

// fixture runs the pipeline against the in-memory repositories. The fake
// transact restores the event set on error, matching the rollback the real
// DB transaction performs.
type fixture struct {
	p           *Pipeline
	settlements *fakeSettlementRepo
	sellers     *fakeSellerRepo
	events      *fakeEventRepo
	secret      string
}

func newFixture() *fixture {
	settlements := newFakeSettlementRepo()
	sellers := newFakeSellerRepo()
	events := newFakeEventRepo()
	stores := fakeStoreRepo{}

	deps := Deps{
		Events:      events,
		Settlements: settlement.NewService(settlements, stores),
		Sellers:     seller.NewService(sellers, stores),
	}

	f := &fixture{
		settlements: settlements,
		sellers:     sellers,
		events:      events,
		secret:      "whsec_test",
	}
	f.p = &Pipeline{
		secret:    f.secret,
		tolerance: 5 * time.Minute,
		now:       time.Now,
		transact: func(fn func(Deps) error) error {
			before := events.snapshot()
			if err := fn(deps); err != nil {
				events.events = before
				return err
			}
			return nil
		},
	}
	return f
}

func (f *fixture) seedSettlement(t *testing.T, orderID string) *models.SettlementRecord {
	t.Helper()
	rec := &models.SettlementRecord{
		UUID:             uuid.NewString(),
		StoreID:          1,
		OrderID:          orderID,
		OriginalAmount:   decimal.NewFromInt(10000),
		PlatformFeeRate:  decimal.RequireFromString("0.2"),
		PlatformFee:      decimal.NewFromInt(2000),
		SettlementAmount: decimal.NewFromInt(8000),
		Status:           models.SettlementStatusPending,
		RequestedAt:      time.Now(),
	}
	if err := f.settlements.Create(rec); err != nil {
		t.Fatalf("seed settlement: %v", err)
	}
	return rec
}

func (f *fixture) deliverPayout(t *testing.T, eventID string, ts time.Time, data PayoutChangedData) (Outcome, error) {
	t.Helper()
	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	raw, sig := signedEvent(t, f.secret, Event{
		EventID:   eventID,
		EventType: models.WebhookEventTypePayoutChanged,
		Timestamp: ts,
		Data:      payload,
	})
	return f.p.Handle(raw, sig, models.WebhookEventTypePayoutChanged)
}

func TestHandleAppliedThenDuplicate(t *testing.T) {
	f := newFixture()
	rec := f.seedSettlement(t, "O1")
	ts := time.Now().Add(time.Second)

	outcome, err := f.deliverPayout(t, "E1", ts, PayoutChangedData{
		OrderID:  "O1",
		Status:   models.SettlementStatusCompleted,
		PayoutID: "po_1",
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if outcome.Code != OutcomeApplied {
		t.Fatalf("first delivery outcome = %+v, want applied", outcome)
	}

	applied, err := f.settlements.GetByID(rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if applied.Status != models.SettlementStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", applied.Status)
	}
	if applied.CompletedAt == nil {
		t.Fatalf("expected completed_at to be stamped")
	}
	if applied.ProviderPayoutID != "po_1" {
		t.Fatalf("payout id = %s, want po_1", applied.ProviderPayoutID)
	}
	completedAt := *applied.CompletedAt

	// Replay of the same event id must not reapply any effect.
	outcome, err = f.deliverPayout(t, "E1", ts, PayoutChangedData{
		OrderID:  "O1",
		Status:   models.SettlementStatusCompleted,
		PayoutID: "po_other",
	})
	if err != nil {
		t.Fatalf("replay failed: %v", err)
	}
	if outcome.Code != OutcomeDuplicate {
		t.Fatalf("replay outcome = %+v, want duplicate", outcome)
	}

	replayed, err := f.settlements.GetByID(rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if !replayed.CompletedAt.Equal(completedAt) {
		t.Fatalf("replay changed completed_at: %v -> %v", completedAt, replayed.CompletedAt)
	}
	if replayed.ProviderPayoutID != "po_1" {
		t.Fatalf("replay changed payout id: %s", replayed.ProviderPayoutID)
	}
	if replayed.Version != applied.Version {
		t.Fatalf("replay bumped the version: %d -> %d", applied.Version, replayed.Version)
	}
}

func TestHandleRejectsStaleEvent(t *testing.T) {
	f := newFixture()
	rec := f.seedSettlement(t, "O1")

	// Inside the tolerance window but older than the record's last update.
	outcome, err := f.deliverPayout(t, "E_old", time.Now().Add(-time.Minute), PayoutChangedData{
		OrderID: "O1",
		Status:  models.SettlementStatusCompleted,
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if outcome.Code != OutcomeRejected || outcome.Reason != "stale event" {
		t.Fatalf("outcome = %+v, want stale event rejection", outcome)
	}

	current, err := f.settlements.GetByID(rec.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if current.Status != models.SettlementStatusPending {
		t.Fatalf("stale event changed the record: %s", current.Status)
	}

	// The rejection consumed the event: a redelivery is a duplicate.
	outcome, err = f.deliverPayout(t, "E_old", time.Now().Add(-time.Minute), PayoutChangedData{
		OrderID: "O1",
		Status:  models.SettlementStatusCompleted,
	})
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if outcome.Code != OutcomeDuplicate {
		t.Fatalf("redelivery outcome = %+v, want duplicate", outcome)
	}
}

func TestHandleRejectsUnknownSettlement(t *testing.T) {
	f := newFixture()

	outcome, err := f.deliverPayout(t, "E1", time.Now(), PayoutChangedData{
		OrderID: "O-missing",
		Status:  models.SettlementStatusCompleted,
	})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if outcome.Code != OutcomeRejected || outcome.Reason != "unknown settlement" {
		t.Fatalf("outcome = %+v, want unknown settlement rejection", outcome)
	}
}

func TestHandleFailedApplyLeavesEventUnconsumed(t *testing.T) {
	f := newFixture()
	f.seedSettlement(t, "O1")

	f.settlements.updateErr = errors.New("deadlock")
	_, err := f.deliverPayout(t, "E1", time.Now(), PayoutChangedData{
		OrderID:  "O1",
		Status:   models.SettlementStatusCompleted,
		PayoutID: "po_1",
	})
	if err == nil {
		t.Fatalf("expected the apply failure to surface")
	}

	// The dedup row was rolled back, so the redelivery applies cleanly.
	f.settlements.updateErr = nil
	outcome, err := f.deliverPayout(t, "E1", time.Now(), PayoutChangedData{
		OrderID:  "O1",
		Status:   models.SettlementStatusCompleted,
		PayoutID: "po_1",
	})
	if err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if outcome.Code != OutcomeApplied {
		t.Fatalf("redelivery outcome = %+v, want applied", outcome)
	}
}

func TestHandleAppliesSellerChanged(t *testing.T) {
	f := newFixture()
	sel := &models.SellerOnboarding{
		StoreID:      1,
		BusinessType: models.BusinessTypeIndividual,
		Status:       models.SellerStatusApprovalRequired,
		RegisteredAt: time.Now(),
	}
	if err := f.sellers.Create(sel); err != nil {
		t.Fatalf("seed seller: %v", err)
	}

	payload, err := json.Marshal(SellerChangedData{
		RefSellerID: "1",
		SellerID:    "p-1",
		Status:      models.SellerStatusApproved,
	})
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	raw, sig := signedEvent(t, f.secret, Event{
		EventID:   "E_seller",
		EventType: models.WebhookEventTypeSellerChanged,
		Timestamp: time.Now().Add(time.Second),
		Data:      payload,
	})

	outcome, err := f.p.Handle(raw, sig, models.WebhookEventTypeSellerChanged)
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if outcome.Code != OutcomeApplied {
		t.Fatalf("outcome = %+v, want applied", outcome)
	}

	current, err := f.sellers.GetByStoreID(1)
	if err != nil {
		t.Fatalf("GetByStoreID failed: %v", err)
	}
	if current.ProviderSellerID != "p-1" {
		t.Fatalf("provider id = %s, want p-1", current.ProviderSellerID)
	}
	if !current.CanProcessPayout() {
		t.Fatalf("approved seller with a provider id must be payout-ready")
	}
}

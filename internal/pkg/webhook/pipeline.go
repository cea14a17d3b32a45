package webhook

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/stashpoint/settled/app/models"
	"github.com/stashpoint/settled/app/repository"
	"github.com/stashpoint/settled/internal/pkg/apperr"
	"github.com/stashpoint/settled/internal/pkg/env"
	"github.com/stashpoint/settled/internal/pkg/seller"
	"github.com/stashpoint/settled/internal/pkg/settlement"
)

const defaultToleranceSeconds = 300

// Deps are the per-transaction collaborators an event is applied with. In
// production they are built from the transaction handle so the dedup insert
// and the effect commit or roll back together.
type Deps struct {
	Events      repository.WebhookEventRepository
	Settlements *settlement.Service
	Sellers     *seller.Service
}

// Pipeline validates, deduplicates and applies inbound provider events.
// The dedup insert and the effect it causes run in one transaction: a failed
// apply rolls the dedup row back so a redelivery can retry, while a
// committed row makes every later delivery of the same event a duplicate.
type Pipeline struct {
	secret    string
	tolerance time.Duration
	now       func() time.Time
	transact  func(fn func(Deps) error) error
}

// NewPipeline wires an ingestion pipeline against a DB handle.
func NewPipeline(db *gorm.DB, secret string, tolerance time.Duration) *Pipeline {
	if tolerance <= 0 {
		tolerance = defaultToleranceSeconds * time.Second
	}
	return &Pipeline{
		secret:    secret,
		tolerance: tolerance,
		now:       time.Now,
		transact: func(fn func(Deps) error) error {
			return db.Transaction(func(tx *gorm.DB) error {
				return fn(Deps{
					Events:      repository.NewWebhookEventRepository(tx),
					Settlements: settlement.NewServiceFromDB(tx),
					Sellers:     seller.NewServiceFromDB(tx),
				})
			})
		},
	}
}

// NewPipelineFromEnv reads WEBHOOK_SECRET and WEBHOOK_TOLERANCE_SECONDS.
func NewPipelineFromEnv(db *gorm.DB) *Pipeline {
	tolSec, err := strconv.Atoi(env.GetEnv("WEBHOOK_TOLERANCE_SECONDS", strconv.Itoa(defaultToleranceSeconds)))
	if err != nil || tolSec <= 0 {
		tolSec = defaultToleranceSeconds
	}
	return NewPipeline(db, env.GetEnv("WEBHOOK_SECRET", ""), time.Duration(tolSec)*time.Second)
}

// Handle ingests one delivery. wantType pins the endpoint to its event type
// so a payout event posted to the seller endpoint is rejected, not applied.
// A non-nil error means the event was NOT consumed and may be redelivered.
func (p *Pipeline) Handle(rawBody []byte, signature, wantType string) (Outcome, error) {
	if !VerifySignature(rawBody, signature, p.secret) {
		return rejected("invalid signature"), nil
	}

	var event Event
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return rejected("malformed payload"), nil
	}
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.EventType) == "" {
		return rejected("malformed payload"), nil
	}
	if event.EventType != wantType {
		return rejected("type mismatch"), nil
	}

	// Replay guard: the event must be within the tolerance window of now.
	age := p.now().Sub(event.Timestamp)
	if age > p.tolerance || age < -p.tolerance {
		return rejected("timestamp outside tolerance"), nil
	}

	outcome := applied()
	err := p.transact(func(d Deps) error {
		created, stored, err := d.Events.CreateIfNotExists(&models.WebhookEvent{
			EventID:        event.EventID,
			EventType:      event.EventType,
			EventTimestamp: event.Timestamp,
			PayloadJSON:    string(rawBody),
		})
		if err != nil {
			return apperr.Processing("webhook dedup", true, err)
		}
		if !created {
			outcome = duplicate()
			return nil
		}

		result, err := p.apply(d, event)
		if err != nil {
			// Rolls back the dedup row so redelivery can retry the effect.
			return err
		}
		outcome = result

		reason := ""
		if outcome.Code == OutcomeRejected {
			reason = outcome.Reason
		}
		if err := d.Events.MarkProcessed(stored.ID, reason); err != nil {
			return apperr.Processing("webhook mark processed", true, err)
		}
		return nil
	})
	if err != nil {
		log.Errorf("[Webhook] apply failed for event %s: %v", event.EventID, err)
		return Outcome{}, err
	}
	return outcome, nil
}

// apply dispatches by event type inside the dedup transaction. Handle has
// already pinned the type to one of the two known values. Rejections (stale
// events, unknown targets, state conflicts) consume the event; only
// infrastructure failures propagate as errors.
func (p *Pipeline) apply(d Deps, event Event) (Outcome, error) {
	if event.EventType == models.WebhookEventTypePayoutChanged {
		return p.applyPayoutChanged(d, event)
	}
	return p.applySellerChanged(d, event)
}

func (p *Pipeline) applyPayoutChanged(d Deps, event Event) (Outcome, error) {
	ctx := context.Background()
	var data PayoutChangedData
	if err := json.Unmarshal(event.Data, &data); err != nil || data.OrderID == "" {
		return rejected("malformed payload"), nil
	}

	rec, err := d.Settlements.GetByOrderID(ctx, data.OrderID)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return rejected("unknown settlement"), nil
		}
		return Outcome{}, err
	}

	// Out-of-order deliveries must never regress an already-newer record.
	if event.Timestamp.Before(rec.UpdatedAt) {
		return rejected("stale event"), nil
	}

	switch data.Status {
	case models.SettlementStatusCompleted:
		err = d.Settlements.Complete(ctx, rec, data.PayoutID)
	case models.SettlementStatusFailed:
		msg := data.ErrorMessage
		if msg == "" {
			msg = "provider reported payout failure"
		}
		err = d.Settlements.Fail(ctx, rec, msg, false)
	case models.SettlementStatusCancelled:
		err = d.Settlements.Cancel(ctx, rec)
	case models.SettlementStatusProcessing:
		err = d.Settlements.MarkProcessing(ctx, rec)
	default:
		return rejected("unknown payout status"), nil
	}
	if err != nil {
		if apperr.IsKind(err, apperr.KindStatusConflict) {
			return rejected("status conflict"), nil
		}
		return Outcome{}, err
	}
	return applied(), nil
}

func (p *Pipeline) applySellerChanged(d Deps, event Event) (Outcome, error) {
	ctx := context.Background()
	var data SellerChangedData
	if err := json.Unmarshal(event.Data, &data); err != nil || data.RefSellerID == "" {
		return rejected("malformed payload"), nil
	}

	storeID, err := strconv.ParseUint(data.RefSellerID, 10, 64)
	if err != nil {
		return rejected("malformed payload"), nil
	}

	rec, err := d.Sellers.GetByStoreID(ctx, uint(storeID))
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return rejected("unknown seller"), nil
		}
		return Outcome{}, err
	}

	if event.Timestamp.Before(rec.UpdatedAt) {
		return rejected("stale event"), nil
	}

	if data.SellerID != "" {
		if err := d.Sellers.AssignProviderID(ctx, rec, data.SellerID); err != nil {
			if apperr.IsKind(err, apperr.KindStatusConflict) {
				return rejected("status conflict"), nil
			}
			return Outcome{}, err
		}
	}

	if data.Status != "" {
		if err := d.Sellers.UpdateStatus(ctx, rec, data.Status); err != nil {
			switch apperr.KindOf(err) {
			case apperr.KindStatusConflict:
				return rejected("status conflict"), nil
			case apperr.KindValidation:
				return rejected("unknown seller status"), nil
			default:
				return Outcome{}, err
			}
		}
	}
	return applied(), nil
}

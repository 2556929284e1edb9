package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/salon-booking-settlement/internal/domain"
	"github.com/robertarktes/salon-booking-settlement/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("merchants"),
		logger: logger,
	}
}

type MerchantDoc struct {
	ID                  string       `bson:"_id"`
	Name                string       `bson:"name"`
	OpensAt             int          `bson:"opens_at_minute"`
	ClosesAt            int          `bson:"closes_at_minute"`
	BreakStart          *int         `bson:"break_start_minute,omitempty"`
	BreakEnd            *int         `bson:"break_end_minute,omitempty"`
	Services            []ServiceDoc `bson:"services"`
	CoinsEnabled        *bool        `bson:"coins_enabled,omitempty"`
	ReleaseSlotOnCancel *bool        `bson:"release_slot_on_cancel,omitempty"`
	Payout              *PayoutDoc   `bson:"payout,omitempty"`
	CreatedAt           time.Time    `bson:"created_at"`
	UpdatedAt           time.Time    `bson:"updated_at"`
}

type ServiceDoc struct {
	Name       string `bson:"name"`
	Duration   int    `bson:"duration_minutes"`
	PriceMinor int64  `bson:"price_minor"`
}

type PayoutDoc struct {
	LinkedAccountID string `bson:"linked_account_id,omitempty"`
	AccountNumber   string `bson:"account_number,omitempty"`
	IFSC            string `bson:"ifsc,omitempty"`
	UPI             string `bson:"upi,omitempty"`
}

func (c *CatalogRepository) GetMerchant(ctx context.Context, id uuid.UUID) (domain.MerchantProfile, error) {
	var doc MerchantDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.MerchantProfile{}, errors.Wrapf(domain.ErrNotFound, "merchant %s", id)
	}
	if err != nil {
		c.logger.WithError(err).WithField("merchant_id", id).Error("failed to get merchant")
		return domain.MerchantProfile{}, errors.Wrapf(err, "get merchant %s", id)
	}
	return doc.toDomain()
}

func (c *CatalogRepository) UpsertMerchant(ctx context.Context, m domain.MerchantProfile) error {
	doc := merchantDocFrom(m)
	now := time.Now()
	doc.UpdatedAt = now
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": doc.ID},
		bson.M{
			"$set": bson.M{
				"name":                   doc.Name,
				"opens_at_minute":        doc.OpensAt,
				"closes_at_minute":       doc.ClosesAt,
				"break_start_minute":     doc.BreakStart,
				"break_end_minute":       doc.BreakEnd,
				"services":               doc.Services,
				"coins_enabled":          doc.CoinsEnabled,
				"release_slot_on_cancel": doc.ReleaseSlotOnCancel,
				"payout":                 doc.Payout,
				"updated_at":             now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithError(err).WithField("merchant_id", m.ID).Error("failed to upsert merchant")
		return errors.Wrapf(err, "upsert merchant %s", m.ID)
	}
	return nil
}

func (d MerchantDoc) toDomain() (domain.MerchantProfile, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.MerchantProfile{}, errors.Wrapf(err, "merchant id %q", d.ID)
	}
	m := domain.MerchantProfile{
		ID:                  id,
		Name:                d.Name,
		OpensAt:             domain.ClockTime(d.OpensAt),
		ClosesAt:            domain.ClockTime(d.ClosesAt),
		CoinsEnabled:        d.CoinsEnabled == nil || *d.CoinsEnabled,
		ReleaseSlotOnCancel: d.ReleaseSlotOnCancel,
	}
	if d.BreakStart != nil && d.BreakEnd != nil {
		bs, be := domain.ClockTime(*d.BreakStart), domain.ClockTime(*d.BreakEnd)
		m.BreakStart, m.BreakEnd = &bs, &be
	}
	for _, s := range d.Services {
		m.Services = append(m.Services, domain.Service{Name: s.Name, Duration: s.Duration, Price: domain.Money(s.PriceMinor)})
	}
	if d.Payout != nil {
		m.Payout = &domain.PayoutAccount{
			LinkedAccountID: d.Payout.LinkedAccountID,
			AccountNumber:   d.Payout.AccountNumber,
			IFSC:            d.Payout.IFSC,
			UPI:             d.Payout.UPI,
		}
	}
	return m, nil
}

func merchantDocFrom(m domain.MerchantProfile) MerchantDoc {
	coins := m.CoinsEnabled
	doc := MerchantDoc{
		ID:                  m.ID.String(),
		Name:                m.Name,
		OpensAt:             int(m.OpensAt),
		ClosesAt:            int(m.ClosesAt),
		CoinsEnabled:        &coins,
		ReleaseSlotOnCancel: m.ReleaseSlotOnCancel,
	}
	if m.BreakStart != nil && m.BreakEnd != nil {
		bs, be := int(*m.BreakStart), int(*m.BreakEnd)
		doc.BreakStart, doc.BreakEnd = &bs, &be
	}
	for _, s := range m.Services {
		doc.Services = append(doc.Services, ServiceDoc{Name: s.Name, Duration: s.Duration, PriceMinor: int64(s.Price)})
	}
	if m.Payout != nil {
		doc.Payout = &PayoutDoc{
			LinkedAccountID: m.Payout.LinkedAccountID,
			AccountNumber:   m.Payout.AccountNumber,
			IFSC:            m.Payout.IFSC,
			UPI:             m.Payout.UPI,
		}
	}
	return doc
}

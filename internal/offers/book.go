// Package offers implements the peer-to-peer offer book: users post buy or
// sell offers at a fixed price and other users fill them.
package offers

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/clock"
	"github.com/atmx/bean-exchange/internal/feed"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/notify"
	"github.com/atmx/bean-exchange/internal/store"
)

// Book manages offers and executes fills.
type Book struct {
	store  store.Store
	clock  clock.Clock
	sink   notify.Sink
	events feed.Publisher
}

// NewBook creates an offer book. sink and events may be nil.
func NewBook(s store.Store, c clock.Clock, sink notify.Sink, events feed.Publisher) *Book {
	if c == nil {
		c = clock.Real{}
	}
	return &Book{store: s, clock: c, sink: sink, events: events}
}

// CreateOffer posts an offer. A sell offer is posted against one of the
// user's lots, which must hold enough beans to cover it together with the
// lot's other open offers. Buy offers carry no lot; any lotID is ignored.
func (b *Book) CreateOffer(ctx context.Context, userID, commodityID, lotID string, qty int64, price decimal.Decimal, isBuy bool) (*model.Offer, error) {
	if err := validateTerms(qty, price); err != nil {
		return nil, err
	}
	if isBuy {
		lotID = ""
	} else if strings.TrimSpace(lotID) == "" {
		return nil, apperr.New(apperr.Invalid, "sell offers require a lot id")
	}

	o := &model.Offer{
		ID:          uuid.NewString(),
		UserID:      userID,
		CommodityID: commodityID,
		SourceLotID: lotID,
		Quantity:    qty,
		Price:       price,
		IsBuy:       isBuy,
		PostedDate:  b.clock.Now(),
	}
	err := b.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		if _, err := tx.GetCommodity(ctx, commodityID); err != nil {
			return err
		}
		if !isBuy {
			if err := checkLotCapacity(ctx, tx, o); err != nil {
				return err
			}
		}
		return tx.InsertOffer(ctx, o)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("offer posted",
		"offer", o.ID,
		"user", userID,
		"commodity", commodityID,
		"buy", isBuy,
		"qty", qty,
		"price", price.String(),
	)
	return o, nil
}

// UpdateOffer changes the quantity and price of the caller's own offer.
func (b *Book) UpdateOffer(ctx context.Context, userID, offerID string, qty int64, price decimal.Decimal) (*model.Offer, error) {
	if err := validateTerms(qty, price); err != nil {
		return nil, err
	}

	var o *model.Offer
	err := b.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		o, err = ownOffer(ctx, tx, userID, offerID)
		if err != nil {
			return err
		}
		o.Quantity = qty
		o.Price = price
		if !o.IsBuy {
			if err := checkLotCapacity(ctx, tx, o); err != nil {
				return err
			}
		}
		return tx.UpdateOffer(ctx, o)
	})
	if err != nil {
		return nil, err
	}
	slog.Info("offer updated", "offer", offerID, "qty", qty, "price", price.String())
	return o, nil
}

// CancelOffer withdraws the caller's own offer.
func (b *Book) CancelOffer(ctx context.Context, userID, offerID string) error {
	err := b.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := ownOffer(ctx, tx, userID, offerID); err != nil {
			return err
		}
		return tx.DeleteOffer(ctx, offerID)
	})
	if err != nil {
		return err
	}
	slog.Info("offer cancelled", "offer", offerID, "user", userID)
	return nil
}

// GetOffer returns a live offer.
func (b *Book) GetOffer(ctx context.Context, offerID string) (*model.Offer, error) {
	return b.store.GetOffer(ctx, offerID)
}

// ListOffers returns live offers matching the filter, newest first.
func (b *Book) ListOffers(ctx context.Context, f model.OfferFilter) ([]model.Offer, error) {
	return b.store.ListOffers(ctx, f)
}

func validateTerms(qty int64, price decimal.Decimal) error {
	if qty <= 0 {
		return apperr.Newf(apperr.Invalid, "quantity must be positive, got %d", qty)
	}
	if !price.IsPositive() {
		return apperr.Newf(apperr.Invalid, "price must be positive, got %s", price)
	}
	return nil
}

func ownOffer(ctx context.Context, tx store.Tx, userID, offerID string) (*model.Offer, error) {
	o, err := tx.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, apperr.Newf(apperr.Invalid, "offer %s does not belong to user %s", offerID, userID)
	}
	return o, nil
}

// checkLotCapacity verifies that a sell offer's lot belongs to the offer's
// owner and commodity and holds enough beans for this offer plus every other
// open offer against it.
func checkLotCapacity(ctx context.Context, tx store.Tx, o *model.Offer) error {
	l, err := tx.GetLot(ctx, o.SourceLotID)
	if err != nil {
		return err
	}
	if l.UserID != o.UserID {
		return apperr.Newf(apperr.Invalid, "lot %s does not belong to user %s", l.ID, o.UserID)
	}
	if l.CommodityID != o.CommodityID {
		return apperr.Newf(apperr.Invalid, "lot %s holds a different commodity", l.ID)
	}

	posted, err := tx.ListOffers(ctx, model.OfferFilter{SourceLotID: l.ID})
	if err != nil {
		return err
	}
	committed := o.Quantity
	for _, p := range posted {
		if p.ID != o.ID {
			committed += p.Quantity
		}
	}
	if committed > l.Quantity {
		return apperr.Newf(apperr.InsufficientHoldings,
			"lot %s holds %d, offers would commit %d", l.ID, l.Quantity, committed)
	}
	return nil
}

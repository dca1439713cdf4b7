// Package exchange implements trades between users and the system pool.
package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/clock"
	"github.com/atmx/bean-exchange/internal/feed"
	"github.com/atmx/bean-exchange/internal/metrics"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/notify"
	"github.com/atmx/bean-exchange/internal/store"
)

// Trade kinds used in metrics and feed events.
const (
	KindPoolBuy  = "pool_buy"
	KindPoolSell = "pool_sell"
)

// Desk executes trades against the pool: the system-owned inventory of each
// commodity.
type Desk struct {
	store  store.Store
	clock  clock.Clock
	sink   notify.Sink
	events feed.Publisher
}

// NewDesk creates a pool desk. sink and events may be nil.
func NewDesk(s store.Store, c clock.Clock, sink notify.Sink, events feed.Publisher) *Desk {
	if c == nil {
		c = clock.Real{}
	}
	return &Desk{store: s, clock: c, sink: sink, events: events}
}

// BuyFromPool moves qty beans from the pool into a new lot for the user at
// the commodity's current price.
func (d *Desk) BuyFromPool(ctx context.Context, userID, commodityID string, qty int64) (lot *model.Lot, err error) {
	start := time.Now()
	defer func() { metrics.ObserveTrade(KindPoolBuy, start, err) }()

	if qty <= 0 {
		return nil, apperr.Newf(apperr.Invalid, "quantity must be positive, got %d", qty)
	}

	var price decimal.Decimal
	err = d.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		user, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		c, err := tx.GetCommodity(ctx, commodityID)
		if err != nil {
			return err
		}
		if c.PoolHeld < qty {
			return apperr.Newf(apperr.InsufficientHoldings,
				"pool holds %d %s, requested %d", c.PoolHeld, c.Name, qty)
		}
		cost := c.Price.Mul(decimal.NewFromInt(qty))
		if user.Balance.LessThan(cost) {
			return apperr.Newf(apperr.InsufficientFunds,
				"balance %s cannot cover %s", user.Balance, cost)
		}

		user.Balance = user.Balance.Sub(cost)
		if err := tx.UpdateUser(ctx, user); err != nil {
			return err
		}

		c.PoolHeld -= qty
		c.UserHeld += qty
		if err := tx.UpdateCommodity(ctx, c); err != nil {
			return err
		}

		lot = &model.Lot{
			ID:           uuid.NewString(),
			UserID:       userID,
			CommodityID:  commodityID,
			PurchaseDate: d.clock.Now(),
			Quantity:     qty,
			UnitCost:     c.Price,
		}
		price = c.Price
		return tx.InsertLot(ctx, lot)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("pool purchase",
		"user", userID,
		"commodity", commodityID,
		"qty", qty,
		"price", price.String(),
		"lot", lot.ID,
	)
	d.afterTrade(ctx, KindPoolBuy, commodityID, qty, price, notify.Message{
		Recipient: userID,
		Sender:    notify.SenderExchange,
		Title:     "Purchase complete",
		Body:      fmt.Sprintf("You bought %d bean(s) from the exchange at %s each.", qty, price.StringFixed(2)),
	})
	return lot, nil
}

// SellToPool sells qty beans out of a lot back to the pool at the
// commodity's current price and records the disposal.
func (d *Desk) SellToPool(ctx context.Context, lotID string, qty int64) (sale *model.Settlement, err error) {
	start := time.Now()
	defer func() { metrics.ObserveTrade(KindPoolSell, start, err) }()

	if qty <= 0 {
		return nil, apperr.Newf(apperr.Invalid, "quantity must be positive, got %d", qty)
	}

	err = d.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		l, err := tx.GetLot(ctx, lotID)
		if err != nil {
			return err
		}
		if l.Quantity < qty {
			return apperr.Newf(apperr.InsufficientHoldings,
				"lot %s holds %d, requested %d", lotID, l.Quantity, qty)
		}
		posted, err := tx.ListOffers(ctx, model.OfferFilter{SourceLotID: lotID})
		if err != nil {
			return err
		}
		if len(posted) > 0 {
			return apperr.Newf(apperr.Conflict, "lot %s has %d open offer(s)", lotID, len(posted))
		}

		c, err := tx.GetCommodity(ctx, l.CommodityID)
		if err != nil {
			return err
		}
		user, err := tx.GetUser(ctx, l.UserID)
		if err != nil {
			return err
		}

		sale = &model.Settlement{
			ID:                   uuid.NewString(),
			UserID:               l.UserID,
			CommodityID:          l.CommodityID,
			OriginalPurchaseDate: l.PurchaseDate,
			SettleDate:           d.clock.Now(),
			Quantity:             qty,
			CostBasis:            l.UnitCost,
			SalePrice:            c.Price,
		}
		if err := tx.InsertSettlement(ctx, sale); err != nil {
			return err
		}

		user.Balance = user.Balance.Add(sale.Proceeds())
		if err := tx.UpdateUser(ctx, user); err != nil {
			return err
		}

		c.PoolHeld += qty
		c.UserHeld -= qty
		if err := tx.UpdateCommodity(ctx, c); err != nil {
			return err
		}

		return consume(ctx, tx, l, qty)
	})
	if err != nil {
		return nil, err
	}

	slog.Info("pool sale",
		"user", sale.UserID,
		"commodity", sale.CommodityID,
		"lot", lotID,
		"qty", qty,
		"price", sale.SalePrice.String(),
		"gain", sale.GainOrLoss().String(),
	)
	d.afterTrade(ctx, KindPoolSell, sale.CommodityID, qty, sale.SalePrice, notify.Message{
		Recipient: sale.UserID,
		Sender:    notify.SenderExchange,
		Title:     "Sale complete",
		Body: fmt.Sprintf("You sold %d bean(s) to the exchange at %s each.",
			qty, sale.SalePrice.StringFixed(2)),
	})
	return sale, nil
}

// consume removes qty beans from a lot, deleting it when it is emptied.
func consume(ctx context.Context, tx store.Tx, l *model.Lot, qty int64) error {
	if qty == l.Quantity {
		return tx.DeleteLot(ctx, l.ID)
	}
	l.Quantity -= qty
	return tx.UpdateLot(ctx, l)
}

func (d *Desk) afterTrade(ctx context.Context, kind, commodityID string, qty int64, price decimal.Decimal, msgs ...notify.Message) {
	metrics.TradeVolume.WithLabelValues(commodityID).Add(float64(qty))
	feed.Publish(d.events, feed.Event{
		Type:        feed.TypeTrade,
		CommodityID: commodityID,
		Kind:        kind,
		Quantity:    qty,
		Price:       price.String(),
	})
	notify.Deliver(ctx, d.sink, msgs...)
}

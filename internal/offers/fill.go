package offers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/feed"
	"github.com/atmx/bean-exchange/internal/holdings"
	"github.com/atmx/bean-exchange/internal/metrics"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/notify"
	"github.com/atmx/bean-exchange/internal/store"
)

// Trade kinds used in metrics and feed events.
const (
	KindFillAsBuyer  = "offer_fill_buyer"
	KindFillAsSeller = "offer_fill_seller"
)

// LotItem names a lot and how many of its beans a seller offers into a buy
// offer.
type LotItem struct {
	LotID    string `json:"lot_id"`
	Quantity int64  `json:"quantity"`
}

// Fill is the outcome of a committed fill.
type Fill struct {
	OfferID     string             `json:"offer_id"`
	BuyerID     string             `json:"buyer_id"`
	SellerID    string             `json:"seller_id"`
	CommodityID string             `json:"commodity_id"`
	Quantity    int64              `json:"quantity"`
	Price       decimal.Decimal    `json:"price"`
	Total       decimal.Decimal    `json:"total"`
	Remaining   int64              `json:"remaining"`
	BuyerLot    *model.Lot         `json:"buyer_lot"`
	Settlements []model.Settlement `json:"settlements"`
}

// FillAsBuyer buys qty beans from a sell offer. The beans come from the
// seller's lots of the commodity in the given order, whichever lot the offer
// was originally posted against.
func (b *Book) FillAsBuyer(ctx context.Context, buyerID string, qty int64, offerID string, ordering holdings.Ordering) (fill *Fill, err error) {
	start := time.Now()
	defer func() { metrics.ObserveTrade(KindFillAsBuyer, start, err) }()

	if qty <= 0 {
		return nil, apperr.Newf(apperr.Invalid, "quantity must be positive, got %d", qty)
	}

	var names parties
	err = b.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if o.IsBuy {
			return apperr.Newf(apperr.NotFound, "sell offer %s not found", offerID)
		}
		seller, err := tx.GetUser(ctx, o.UserID)
		if err != nil {
			return err
		}
		buyer, err := tx.GetUser(ctx, buyerID)
		if err != nil {
			return err
		}
		if buyer.ID == seller.ID {
			return apperr.New(apperr.Invalid, "cannot fill your own offer")
		}
		if qty > o.Quantity {
			return apperr.Newf(apperr.Invalid, "offer %s has only %d remaining, requested %d", o.ID, o.Quantity, qty)
		}

		total := o.Price.Mul(decimal.NewFromInt(qty))
		if buyer.Balance.LessThan(total) {
			return apperr.Newf(apperr.InsufficientFunds, "balance %s cannot cover %s", buyer.Balance, total)
		}

		lots, err := tx.ListLots(ctx, seller.ID, o.CommodityID)
		if err != nil {
			return err
		}
		if held := holdings.Total(lots); held < qty {
			return apperr.Newf(apperr.InsufficientHoldings, "seller holds %d, requested %d", held, qty)
		}
		ids, err := holdings.Select(lots, ordering, qty)
		if err != nil {
			return err
		}

		byID := make(map[string]*model.Lot, len(lots))
		for i := range lots {
			byID[lots[i].ID] = &lots[i]
		}
		fill = &Fill{
			OfferID:     o.ID,
			BuyerID:     buyer.ID,
			SellerID:    seller.ID,
			CommodityID: o.CommodityID,
			Quantity:    qty,
			Price:       o.Price,
			Total:       total,
		}
		remaining := qty
		for _, id := range ids {
			l := byID[id]
			take := min(l.Quantity, remaining)
			if err := b.dispose(ctx, tx, fill, l, take); err != nil {
				return err
			}
			remaining -= take
		}

		if err := b.settle(ctx, tx, fill, buyer, seller, o); err != nil {
			return err
		}
		names = parties{buyer: displayName(buyer), seller: displayName(seller)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.afterFill(ctx, KindFillAsBuyer, fill, names)
	return fill, nil
}

// FillAsSeller sells into a buy offer from the caller's chosen lots. Items
// are consumed in the order given until the offer is covered; the item that
// crosses the offer's quantity is only partially consumed and later items
// are left untouched.
func (b *Book) FillAsSeller(ctx context.Context, offerID, sellerID string, items []LotItem) (fill *Fill, err error) {
	start := time.Now()
	defer func() { metrics.ObserveTrade(KindFillAsSeller, start, err) }()

	if err := validateItems(items); err != nil {
		return nil, err
	}

	var names parties
	err = b.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.GetOffer(ctx, offerID)
		if err != nil {
			return err
		}
		if !o.IsBuy {
			return apperr.Newf(apperr.NotFound, "buy offer %s not found", offerID)
		}
		seller, err := tx.GetUser(ctx, sellerID)
		if err != nil {
			return err
		}
		buyer, err := tx.GetUser(ctx, o.UserID)
		if err != nil {
			return err
		}
		if buyer.ID == seller.ID {
			return apperr.New(apperr.Invalid, "cannot fill your own offer")
		}

		var offered int64
		for _, it := range items {
			offered += it.Quantity
		}
		if need := o.Price.Mul(decimal.NewFromInt(offered)); buyer.Balance.LessThan(need) {
			return apperr.Newf(apperr.InsufficientFunds, "buyer balance %s cannot cover %s", buyer.Balance, need)
		}

		lots := make([]*model.Lot, len(items))
		for i, it := range items {
			l, err := tx.GetLot(ctx, it.LotID)
			if err != nil {
				return err
			}
			if l.UserID != seller.ID {
				return apperr.Newf(apperr.Invalid, "lot %s does not belong to user %s", l.ID, seller.ID)
			}
			if l.CommodityID != o.CommodityID {
				return apperr.Newf(apperr.Invalid, "lot %s holds a different commodity", l.ID)
			}
			if l.Quantity < it.Quantity {
				return apperr.Newf(apperr.InsufficientHoldings, "lot %s holds %d, offered %d", l.ID, l.Quantity, it.Quantity)
			}
			lots[i] = l
		}

		fill = &Fill{
			OfferID:     o.ID,
			BuyerID:     buyer.ID,
			SellerID:    seller.ID,
			CommodityID: o.CommodityID,
			Price:       o.Price,
		}
		for i, it := range items {
			if fill.Quantity >= o.Quantity {
				break
			}
			take := min(it.Quantity, o.Quantity-fill.Quantity)
			if err := b.dispose(ctx, tx, fill, lots[i], take); err != nil {
				return err
			}
			fill.Quantity += take
		}
		fill.Total = o.Price.Mul(decimal.NewFromInt(fill.Quantity))

		if err := b.settle(ctx, tx, fill, buyer, seller, o); err != nil {
			return err
		}
		names = parties{buyer: displayName(buyer), seller: displayName(seller)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.afterFill(ctx, KindFillAsSeller, fill, names)
	return fill, nil
}

func validateItems(items []LotItem) error {
	if len(items) == 0 {
		return apperr.New(apperr.Invalid, "at least one lot is required")
	}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.LotID == "" {
			return apperr.New(apperr.Invalid, "lot id is required")
		}
		if it.Quantity <= 0 {
			return apperr.Newf(apperr.Invalid, "quantity for lot %s must be positive, got %d", it.LotID, it.Quantity)
		}
		if seen[it.LotID] {
			return apperr.Newf(apperr.Invalid, "lot %s listed more than once", it.LotID)
		}
		seen[it.LotID] = true
	}
	return nil
}

// dispose records the sale of qty beans out of a seller's lot at the fill
// price and removes them from the lot.
func (b *Book) dispose(ctx context.Context, tx store.Tx, fill *Fill, l *model.Lot, qty int64) error {
	s := model.Settlement{
		ID:                   uuid.NewString(),
		UserID:               l.UserID,
		CommodityID:          l.CommodityID,
		OriginalPurchaseDate: l.PurchaseDate,
		SettleDate:           b.clock.Now(),
		Quantity:             qty,
		CostBasis:            l.UnitCost,
		SalePrice:            fill.Price,
	}
	if err := tx.InsertSettlement(ctx, &s); err != nil {
		return err
	}
	fill.Settlements = append(fill.Settlements, s)

	if qty == l.Quantity {
		return tx.DeleteLot(ctx, l.ID)
	}
	l.Quantity -= qty
	return tx.UpdateLot(ctx, l)
}

// settle moves the money, gives the buyer a lot for the filled quantity and
// shrinks or removes the offer.
func (b *Book) settle(ctx context.Context, tx store.Tx, fill *Fill, buyer, seller *model.User, o *model.Offer) error {
	seller.Balance = seller.Balance.Add(fill.Total)
	if err := tx.UpdateUser(ctx, seller); err != nil {
		return err
	}
	buyer.Balance = buyer.Balance.Sub(fill.Total)
	if err := tx.UpdateUser(ctx, buyer); err != nil {
		return err
	}

	fill.BuyerLot = &model.Lot{
		ID:           uuid.NewString(),
		UserID:       buyer.ID,
		CommodityID:  o.CommodityID,
		PurchaseDate: b.clock.Now(),
		Quantity:     fill.Quantity,
		UnitCost:     o.Price,
	}
	if err := tx.InsertLot(ctx, fill.BuyerLot); err != nil {
		return err
	}

	if fill.Quantity == o.Quantity {
		fill.Remaining = 0
		return tx.DeleteOffer(ctx, o.ID)
	}
	o.Quantity -= fill.Quantity
	fill.Remaining = o.Quantity
	return tx.UpdateOffer(ctx, o)
}

type parties struct {
	buyer, seller string
}

func displayName(u *model.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.ID
}

func (b *Book) afterFill(ctx context.Context, kind string, fill *Fill, names parties) {
	slog.Info("offer filled",
		"kind", kind,
		"offer", fill.OfferID,
		"buyer", fill.BuyerID,
		"seller", fill.SellerID,
		"commodity", fill.CommodityID,
		"qty", fill.Quantity,
		"price", fill.Price.String(),
		"remaining", fill.Remaining,
	)
	metrics.TradeVolume.WithLabelValues(fill.CommodityID).Add(float64(fill.Quantity))
	feed.Publish(b.events, feed.Event{
		Type:        feed.TypeTrade,
		CommodityID: fill.CommodityID,
		Kind:        kind,
		Quantity:    fill.Quantity,
		Price:       fill.Price.String(),
	})

	price := fill.Price.StringFixed(2)
	notify.Deliver(ctx, b.sink,
		notify.Message{
			Recipient: fill.BuyerID,
			Sender:    notify.SenderExchange,
			Title:     "Bean Purchase Successful",
			Body: fmt.Sprintf("Your purchase of %d bean(s) from %s for %s each is complete.",
				fill.Quantity, names.seller, price),
		},
		notify.Message{
			Recipient: fill.SellerID,
			Sender:    notify.SenderExchange,
			Title:     "Bean(s) Sold",
			Body: fmt.Sprintf("You sold %d bean(s) to %s for %s each.",
				fill.Quantity, names.buyer, price),
		},
	)
}

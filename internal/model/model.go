// Package model defines the core domain types shared across the exchange.
// All monetary values use shopspring/decimal, never float64.
// Quantities are whole beans (int64).
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is the slice of a trader's profile the ledger cares about.
type User struct {
	ID          string          `json:"id" db:"id"`
	DisplayName string          `json:"display_name" db:"display_name"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Version     int64           `json:"-" db:"version"`
}

// Commodity is a tradable bean type with a market price and a split between
// user-held and pool-held quantity.
// Invariant: TotalQuantity == UserHeld + PoolHeld.
type Commodity struct {
	ID            string          `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	Price         decimal.Decimal `json:"price" db:"price"`
	TotalQuantity int64           `json:"total_quantity" db:"total_quantity"`
	UserHeld      int64           `json:"user_held" db:"user_held"`
	PoolHeld      int64           `json:"pool_held" db:"pool_held"`
	Version       int64           `json:"-" db:"version"`
}

// Capitalization is the market value of the whole supply.
func (c Commodity) Capitalization() decimal.Decimal {
	return c.Price.Mul(decimal.NewFromInt(c.TotalQuantity))
}

// Lot is one dated, cost-tagged tranche of a user's holdings.
// Deleted when Quantity reaches zero.
type Lot struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	CommodityID  string          `json:"commodity_id" db:"commodity_id"`
	PurchaseDate time.Time       `json:"purchase_date" db:"purchase_date"`
	Quantity     int64           `json:"quantity" db:"quantity"`
	UnitCost     decimal.Decimal `json:"unit_cost" db:"unit_cost"`
	Version      int64           `json:"-" db:"version"`
}

// Cost is the total acquisition cost of the lot.
func (l Lot) Cost() decimal.Decimal {
	return l.UnitCost.Mul(decimal.NewFromInt(l.Quantity))
}

// Offer is a posted intent to buy or sell at a fixed price. Sell offers
// reference the lot they were posted against; buy offers leave SourceLotID
// empty.
type Offer struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	CommodityID string          `json:"commodity_id" db:"commodity_id"`
	SourceLotID string          `json:"source_lot_id,omitempty" db:"source_lot_id"`
	Quantity    int64           `json:"quantity" db:"quantity"`
	Price       decimal.Decimal `json:"price" db:"price"`
	IsBuy       bool            `json:"is_buy" db:"is_buy"`
	PostedDate  time.Time       `json:"posted_date" db:"posted_date"`
	Version     int64           `json:"-" db:"version"`
}

// OfferFilter narrows ListOffers. Zero values match everything.
type OfferFilter struct {
	UserID        string
	ExcludeUserID string
	CommodityID   string
	SourceLotID   string
	IsBuy         *bool
}

// Match reports whether o passes the filter.
func (f OfferFilter) Match(o Offer) bool {
	if f.UserID != "" && o.UserID != f.UserID {
		return false
	}
	if f.ExcludeUserID != "" && o.UserID == f.ExcludeUserID {
		return false
	}
	if f.CommodityID != "" && o.CommodityID != f.CommodityID {
		return false
	}
	if f.SourceLotID != "" && o.SourceLotID != f.SourceLotID {
		return false
	}
	if f.IsBuy != nil && o.IsBuy != *f.IsBuy {
		return false
	}
	return true
}

// Settlement is an immutable record of a disposal.
// Once created, these are never modified or deleted.
type Settlement struct {
	ID                   string          `json:"id" db:"id"`
	UserID               string          `json:"user_id" db:"user_id"`
	CommodityID          string          `json:"commodity_id" db:"commodity_id"`
	OriginalPurchaseDate time.Time       `json:"original_purchase_date" db:"original_purchase_date"`
	SettleDate           time.Time       `json:"settle_date" db:"settle_date"`
	Quantity             int64           `json:"quantity" db:"quantity"`
	CostBasis            decimal.Decimal `json:"cost_basis" db:"cost_basis"`
	SalePrice            decimal.Decimal `json:"sale_price" db:"sale_price"`
}

// GainOrLoss is quantity * (salePrice - costBasis).
func (s Settlement) GainOrLoss() decimal.Decimal {
	return s.SalePrice.Sub(s.CostBasis).Mul(decimal.NewFromInt(s.Quantity))
}

// Proceeds is quantity * salePrice.
func (s Settlement) Proceeds() decimal.Decimal {
	return s.SalePrice.Mul(decimal.NewFromInt(s.Quantity))
}

// SettlementFilter narrows ListSettlements. Since and Until bound the
// settle date inclusively; zero values match everything.
type SettlementFilter struct {
	UserID      string
	CommodityID string
	Since       time.Time
	Until       time.Time
}

// Match reports whether s passes the filter.
func (f SettlementFilter) Match(s Settlement) bool {
	if f.UserID != "" && s.UserID != f.UserID {
		return false
	}
	if f.CommodityID != "" && s.CommodityID != f.CommodityID {
		return false
	}
	if !f.Since.IsZero() && s.SettleDate.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && s.SettleDate.After(f.Until) {
		return false
	}
	return true
}

// PriceTick is one day's recorded price movement. At most one per
// commodity per calendar day.
type PriceTick struct {
	ID          string          `json:"id" db:"id"`
	CommodityID string          `json:"commodity_id" db:"commodity_id"`
	TickDate    time.Time       `json:"tick_date" db:"tick_date"`
	Open        decimal.Decimal `json:"open" db:"open"`
	Close       decimal.Decimal `json:"close" db:"close"`
	Delta       decimal.Decimal `json:"delta" db:"delta"`
	Tier        Tier            `json:"tier" db:"tier"`
}

// Notice is a message delivered to a user's inbox.
type Notice struct {
	ID         string    `json:"id" db:"id"`
	UserID     string    `json:"user_id" db:"user_id"`
	Sender     string    `json:"sender" db:"sender"`
	NoticeDate time.Time `json:"notice_date" db:"notice_date"`
	Title      string    `json:"title" db:"title"`
	Body       string    `json:"body" db:"body"`
	Read       bool      `json:"read" db:"read"`
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

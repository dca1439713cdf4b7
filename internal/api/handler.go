// Package api exposes the exchange over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/clock"
	"github.com/atmx/bean-exchange/internal/exchange"
	"github.com/atmx/bean-exchange/internal/holdings"
	"github.com/atmx/bean-exchange/internal/model"
	"github.com/atmx/bean-exchange/internal/offers"
	"github.com/atmx/bean-exchange/internal/pricing"
	"github.com/atmx/bean-exchange/internal/store"
)

// Handler serves the exchange's HTTP endpoints.
type Handler struct {
	store    store.Store
	clock    clock.Clock
	desk     *exchange.Desk
	book     *offers.Book
	sim      *pricing.Simulator
	minPrice decimal.Decimal
}

// NewHandler creates a Handler. minPrice is the floor used by manual price
// advances that do not name one.
func NewHandler(s store.Store, c clock.Clock, desk *exchange.Desk, book *offers.Book, sim *pricing.Simulator, minPrice decimal.Decimal) *Handler {
	if c == nil {
		c = clock.Real{}
	}
	return &Handler{store: s, clock: c, desk: desk, book: book, sim: sim, minPrice: minPrice}
}

// Register mounts the API routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/commodities", func(r chi.Router) {
		r.Get("/", h.ListCommodities)
		r.Post("/", h.CreateCommodity)
		r.Route("/{commodityID}", func(r chi.Router) {
			r.Get("/", h.GetCommodity)
			r.Get("/capitalization", h.Capitalization)
			r.Get("/offers", h.ListCommodityOffers)
			r.Get("/prices", h.PriceHistory)
			r.Get("/prices/latest", h.LatestPrice)
			r.Get("/stats", h.PriceStats)
			r.Post("/prices/advance", h.AdvancePrice)
			r.Post("/prices/catch-up", h.CatchUpPrice)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.CreateUser)
		r.Route("/{userID}", func(r chi.Router) {
			r.Get("/", h.GetUser)
			r.Get("/lots", h.ListLots)
			r.Post("/lots/select", h.SelectLots)
			r.Get("/settlements", h.ListSettlements)
			r.Get("/profit-loss", h.ProfitOrLoss)
			r.Get("/portfolio", h.Portfolio)
			r.Get("/positions", h.ListPositions)
			r.Get("/positions/{commodityID}", h.GetPosition)
			r.Get("/cost-basis/{commodityID}", h.CostBasis)
			r.Get("/notices", h.ListNotices)
		})
	})

	r.Get("/capitalization", h.Capitalization)

	r.Post("/pool/buy", h.BuyFromPool)
	r.Post("/pool/sell", h.SellToPool)

	r.Route("/offers", func(r chi.Router) {
		r.Get("/", h.ListOffers)
		r.Post("/", h.CreateOffer)
		r.Route("/{offerID}", func(r chi.Router) {
			r.Get("/", h.GetOffer)
			r.Put("/", h.UpdateOffer)
			r.Delete("/", h.CancelOffer)
			r.Post("/fill-as-buyer", h.FillAsBuyer)
			r.Post("/fill-as-seller", h.FillAsSeller)
		})
	})

	r.Get("/admin/invariants", h.Invariants)
}

// --- Commodities ---

type CreateCommodityRequest struct {
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	TotalQuantity int64           `json:"total_quantity"`
}

// CreateCommodity handles POST /api/v1/commodities
func (h *Handler) CreateCommodity(w http.ResponseWriter, r *http.Request) {
	var req CreateCommodityRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.desk.ListCommodity(r.Context(), req.Name, req.Price, req.TotalQuantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCommodities handles GET /api/v1/commodities
func (h *Handler) ListCommodities(w http.ResponseWriter, r *http.Request) {
	cs, err := h.store.ListCommodities(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// GetCommodity handles GET /api/v1/commodities/{commodityID}
func (h *Handler) GetCommodity(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.GetCommodity(r.Context(), chi.URLParam(r, "commodityID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Capitalization handles GET /api/v1/capitalization and
// GET /api/v1/commodities/{commodityID}/capitalization
func (h *Handler) Capitalization(w http.ResponseWriter, r *http.Request) {
	commodityID := chi.URLParam(r, "commodityID")
	total, err := holdings.Capitalization(r.Context(), h.store, commodityID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commodity_id":   commodityID,
		"capitalization": total,
	})
}

// ListCommodityOffers handles GET /api/v1/commodities/{commodityID}/offers
func (h *Handler) ListCommodityOffers(w http.ResponseWriter, r *http.Request) {
	isBuy, err := queryBool(r, "is_buy")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.book.ListOffers(r.Context(), model.OfferFilter{
		CommodityID:   chi.URLParam(r, "commodityID"),
		ExcludeUserID: r.URL.Query().Get("exclude_user_id"),
		IsBuy:         isBuy,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Prices ---

// PriceHistory handles GET /api/v1/commodities/{commodityID}/prices?days=N
func (h *Handler) PriceHistory(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ticks, err := h.sim.History(r.Context(), chi.URLParam(r, "commodityID"), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

// LatestPrice handles GET /api/v1/commodities/{commodityID}/prices/latest
func (h *Handler) LatestPrice(w http.ResponseWriter, r *http.Request) {
	tick, err := h.sim.Latest(r.Context(), chi.URLParam(r, "commodityID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

// PriceStats handles GET /api/v1/commodities/{commodityID}/stats?days=N
func (h *Handler) PriceStats(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 7)
	if err != nil {
		writeError(w, r, err)
		return
	}
	st, err := h.sim.Stats(r.Context(), chi.URLParam(r, "commodityID"), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// PriceRequest names the day to simulate and an optional minimum price.
// Date is YYYY-MM-DD; empty means today.
type PriceRequest struct {
	Date     string              `json:"date"`
	MinPrice decimal.NullDecimal `json:"min_price"`
}

func (h *Handler) priceArgs(req PriceRequest, def time.Time) (decimal.Decimal, time.Time, error) {
	minPrice := h.minPrice
	if req.MinPrice.Valid {
		minPrice = req.MinPrice.Decimal
	}
	if req.Date == "" {
		return minPrice, def, nil
	}
	day, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		return decimal.Zero, time.Time{}, apperr.Newf(apperr.Invalid, "date %q must be YYYY-MM-DD", req.Date)
	}
	return minPrice, day, nil
}

// AdvancePrice handles POST /api/v1/commodities/{commodityID}/prices/advance
func (h *Handler) AdvancePrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	minPrice, day, err := h.priceArgs(req, h.clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	tick, err := h.sim.Advance(r.Context(), chi.URLParam(r, "commodityID"), minPrice, day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}

// CatchUpPrice handles POST /api/v1/commodities/{commodityID}/prices/catch-up
// with the first day to fill in.
func (h *Handler) CatchUpPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Date == "" {
		writeError(w, r, apperr.New(apperr.Invalid, "date is required"))
		return
	}
	minPrice, from, err := h.priceArgs(req, time.Time{})
	if err != nil {
		writeError(w, r, err)
		return
	}
	n, err := h.sim.CatchUp(r.Context(), chi.URLParam(r, "commodityID"), minPrice, from)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"created": n})
}

// --- Users ---

type CreateUserRequest struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Balance     decimal.Decimal `json:"balance"`
}

// CreateUser handles POST /api/v1/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.desk.OpenAccount(r.Context(), req.ID, req.DisplayName, req.Balance)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// GetUser handles GET /api/v1/users/{userID}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// ListLots handles GET /api/v1/users/{userID}/lots?commodity_id=
func (h *Handler) ListLots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "userID")
	if _, err := h.store.GetUser(ctx, userID); err != nil {
		writeError(w, r, err)
		return
	}
	lots, err := h.store.ListLots(ctx, userID, r.URL.Query().Get("commodity_id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lots)
}

type SelectLotsRequest struct {
	CommodityID string `json:"commodity_id"`
	Quantity    int64  `json:"quantity"`
	OldestFirst bool   `json:"oldest_first"`
}

// SelectLots handles POST /api/v1/users/{userID}/lots/select and previews
// which lots a sale of the quantity would draw from.
func (h *Handler) SelectLots(w http.ResponseWriter, r *http.Request) {
	var req SelectLotsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := holdings.SelectLots(r.Context(), h.store, holdings.OrderingOf(req.OldestFirst),
		chi.URLParam(r, "userID"), req.CommodityID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lot_ids": ids})
}

// settlementRange reads either days=N (the last N calendar days) or
// from/to=YYYY-MM-DD from the query.
func (h *Handler) settlementRange(r *http.Request) (time.Time, time.Time, error) {
	days, err := queryInt(r, "days", 0)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, err := queryDate(r, "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := queryDate(r, "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if days > 0 {
		if !from.IsZero() || !to.IsZero() {
			return time.Time{}, time.Time{}, apperr.New(apperr.Invalid, "use either days or from/to")
		}
		from = holdings.RecentSince(h.clock.Now(), days)
	}
	return from, to, nil
}

// ListSettlements handles
// GET /api/v1/users/{userID}/settlements?commodity_id=&days=&from=&to=
func (h *Handler) ListSettlements(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.settlementRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := holdings.Settlements(r.Context(), h.store, chi.URLParam(r, "userID"),
		r.URL.Query().Get("commodity_id"), from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// ProfitOrLoss handles
// GET /api/v1/users/{userID}/profit-loss?commodity_id=&days=&from=&to=
func (h *Handler) ProfitOrLoss(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.settlementRange(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	userID, commodityID := chi.URLParam(r, "userID"), r.URL.Query().Get("commodity_id")
	total, err := holdings.ProfitOrLoss(r.Context(), h.store, userID, commodityID, from, to)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        userID,
		"commodity_id":   commodityID,
		"profit_or_loss": total,
	})
}

// Portfolio handles GET /api/v1/users/{userID}/portfolio
func (h *Handler) Portfolio(w http.ResponseWriter, r *http.Request) {
	p, err := holdings.PortfolioOf(r.Context(), h.store, chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListPositions handles GET /api/v1/users/{userID}/positions
func (h *Handler) ListPositions(w http.ResponseWriter, r *http.Request) {
	ps, err := holdings.Positions(r.Context(), h.store, chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// GetPosition handles GET /api/v1/users/{userID}/positions/{commodityID}
func (h *Handler) GetPosition(w http.ResponseWriter, r *http.Request) {
	p, err := holdings.Summary(r.Context(), h.store, chi.URLParam(r, "userID"), chi.URLParam(r, "commodityID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CostBasis handles GET /api/v1/users/{userID}/cost-basis/{commodityID}
func (h *Handler) CostBasis(w http.ResponseWriter, r *http.Request) {
	cb, err := holdings.ComputeCostBasis(r.Context(), h.store, chi.URLParam(r, "userID"), chi.URLParam(r, "commodityID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cb)
}

// ListNotices handles GET /api/v1/users/{userID}/notices
func (h *Handler) ListNotices(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListNotices(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// --- Pool trades ---

type BuyRequest struct {
	UserID      string `json:"user_id"`
	CommodityID string `json:"commodity_id"`
	Quantity    int64  `json:"quantity"`
}

// BuyFromPool handles POST /api/v1/pool/buy
func (h *Handler) BuyFromPool(w http.ResponseWriter, r *http.Request) {
	var req BuyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	lot, err := h.desk.BuyFromPool(r.Context(), req.UserID, req.CommodityID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lot)
}

type SellRequest struct {
	LotID    string `json:"lot_id"`
	Quantity int64  `json:"quantity"`
}

// SellToPool handles POST /api/v1/pool/sell
func (h *Handler) SellToPool(w http.ResponseWriter, r *http.Request) {
	var req SellRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	sale, err := h.desk.SellToPool(r.Context(), req.LotID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// --- Offers ---

type CreateOfferRequest struct {
	UserID      string          `json:"user_id"`
	CommodityID string          `json:"commodity_id"`
	LotID       string          `json:"lot_id"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	IsBuy       bool            `json:"is_buy"`
}

// CreateOffer handles POST /api/v1/offers
func (h *Handler) CreateOffer(w http.ResponseWriter, r *http.Request) {
	var req CreateOfferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.book.CreateOffer(r.Context(), req.UserID, req.CommodityID, req.LotID, req.Quantity, req.Price, req.IsBuy)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ListOffers handles GET /api/v1/offers?user_id=&commodity_id=&is_buy=
func (h *Handler) ListOffers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	isBuy, err := queryBool(r, "is_buy")
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.book.ListOffers(r.Context(), model.OfferFilter{
		UserID:        q.Get("user_id"),
		ExcludeUserID: q.Get("exclude_user_id"),
		CommodityID:   q.Get("commodity_id"),
		SourceLotID:   q.Get("lot_id"),
		IsBuy:         isBuy,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// GetOffer handles GET /api/v1/offers/{offerID}
func (h *Handler) GetOffer(w http.ResponseWriter, r *http.Request) {
	o, err := h.book.GetOffer(r.Context(), chi.URLParam(r, "offerID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

type UpdateOfferRequest struct {
	UserID   string          `json:"user_id"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// UpdateOffer handles PUT /api/v1/offers/{offerID}
func (h *Handler) UpdateOffer(w http.ResponseWriter, r *http.Request) {
	var req UpdateOfferRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.book.UpdateOffer(r.Context(), req.UserID, chi.URLParam(r, "offerID"), req.Quantity, req.Price)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// CancelOffer handles DELETE /api/v1/offers/{offerID}?user_id=
func (h *Handler) CancelOffer(w http.ResponseWriter, r *http.Request) {
	if err := h.book.CancelOffer(r.Context(), r.URL.Query().Get("user_id"), chi.URLParam(r, "offerID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type FillAsBuyerRequest struct {
	BuyerID     string `json:"buyer_id"`
	Quantity    int64  `json:"quantity"`
	OldestFirst bool   `json:"oldest_first"`
}

// FillAsBuyer handles POST /api/v1/offers/{offerID}/fill-as-buyer
func (h *Handler) FillAsBuyer(w http.ResponseWriter, r *http.Request) {
	var req FillAsBuyerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	fill, err := h.book.FillAsBuyer(r.Context(), req.BuyerID, req.Quantity, chi.URLParam(r, "offerID"),
		holdings.OrderingOf(req.OldestFirst))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

type FillAsSellerRequest struct {
	SellerID string           `json:"seller_id"`
	Items    []offers.LotItem `json:"items"`
}

// FillAsSeller handles POST /api/v1/offers/{offerID}/fill-as-seller
func (h *Handler) FillAsSeller(w http.ResponseWriter, r *http.Request) {
	var req FillAsSellerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	fill, err := h.book.FillAsSeller(r.Context(), chi.URLParam(r, "offerID"), req.SellerID, req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fill)
}

// --- Admin ---

// Invariants handles GET /api/v1/admin/invariants and reports ledger drift.
func (h *Handler) Invariants(w http.ResponseWriter, r *http.Request) {
	vs, err := store.CheckInvariants(r.Context(), h.store)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         len(vs) == 0,
		"violations": vs,
	})
}

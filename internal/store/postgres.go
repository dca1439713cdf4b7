package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/bean-exchange/internal/apperr"
	"github.com/atmx/bean-exchange/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pgReader
	pool     *pgxpool.Pool
	isoLevel pgx.TxIsoLevel
}

// NewPostgresStore creates a new PostgreSQL-backed store. An empty
// isoLevel means serializable.
func NewPostgresStore(pool *pgxpool.Pool, isoLevel pgx.TxIsoLevel) *PostgresStore {
	if isoLevel == "" {
		isoLevel = pgx.Serializable
	}
	return &PostgresStore{
		pgReader: pgReader{q: pool},
		pool:     pool,
		isoLevel: isoLevel,
	}
}

// WithinTx runs fn inside a database transaction. Reads through the Tx take
// row locks (SELECT ... FOR UPDATE).
func (s *PostgresStore) WithinTx(ctx context.Context, fn TxFunc) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: s.isoLevel})
	if err != nil {
		return mapErr(err, "begin transaction")
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			slog.Error("rollback failed", "err", rbErr)
		}
	}()

	if err := fn(ctx, &pgTx{pgReader: pgReader{q: tx, lock: " FOR UPDATE"}}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapErr(err, "commit transaction")
	}
	committed = true
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// mapErr translates driver errors into the apperr taxonomy.
func mapErr(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.New(apperr.NotFound, msg+": not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &apperr.Error{Code: apperr.Duplicate, Message: msg, Err: err}
		case "40001", "40P01":
			return &apperr.Error{Code: apperr.Conflict, Message: msg, Err: err}
		}
	}
	return apperr.Wrap(err, msg)
}

func parseDecimals(pairs ...any) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		dst := pairs[i].(*decimal.Decimal)
		v, err := decimal.NewFromString(pairs[i+1].(string))
		if err != nil {
			return fmt.Errorf("parse numeric %q: %w", pairs[i+1], err)
		}
		*dst = v
	}
	return nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// pgReader implements Reader. lock is appended to row reads so that reads
// inside a transaction hold the rows until it ends.
type pgReader struct {
	q    querier
	lock string
}

const userCols = `id, display_name, balance::TEXT, version`

func scanUser(row scanner) (*model.User, error) {
	var u model.User
	var bal string
	if err := row.Scan(&u.ID, &u.DisplayName, &bal, &u.Version); err != nil {
		return nil, err
	}
	if err := parseDecimals(&u.Balance, bal); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r pgReader) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(r.q.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`+r.lock, id))
	if err != nil {
		return nil, mapErr(err, "get user %s", id)
	}
	return u, nil
}

const commodityCols = `id, name, price::TEXT, total_quantity, user_held, pool_held, version`

func scanCommodity(row scanner) (*model.Commodity, error) {
	var c model.Commodity
	var price string
	if err := row.Scan(&c.ID, &c.Name, &price, &c.TotalQuantity, &c.UserHeld, &c.PoolHeld, &c.Version); err != nil {
		return nil, err
	}
	if err := parseDecimals(&c.Price, price); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r pgReader) GetCommodity(ctx context.Context, id string) (*model.Commodity, error) {
	c, err := scanCommodity(r.q.QueryRow(ctx, `SELECT `+commodityCols+` FROM commodities WHERE id = $1`+r.lock, id))
	if err != nil {
		return nil, mapErr(err, "get commodity %s", id)
	}
	return c, nil
}

func (r pgReader) ListCommodities(ctx context.Context) ([]model.Commodity, error) {
	rows, err := r.q.Query(ctx, `SELECT `+commodityCols+` FROM commodities ORDER BY name`+r.lock)
	if err != nil {
		return nil, mapErr(err, "list commodities")
	}
	defer rows.Close()

	var out []model.Commodity
	for rows.Next() {
		c, err := scanCommodity(rows)
		if err != nil {
			return nil, mapErr(err, "scan commodity")
		}
		out = append(out, *c)
	}
	return out, mapErr(rows.Err(), "list commodities")
}

const lotCols = `id, user_id, commodity_id, purchase_date, quantity, unit_cost::TEXT, version`

func scanLot(row scanner) (*model.Lot, error) {
	var l model.Lot
	var cost string
	if err := row.Scan(&l.ID, &l.UserID, &l.CommodityID, &l.PurchaseDate, &l.Quantity, &cost, &l.Version); err != nil {
		return nil, err
	}
	if err := parseDecimals(&l.UnitCost, cost); err != nil {
		return nil, err
	}
	return &l, nil
}

func (r pgReader) GetLot(ctx context.Context, id string) (*model.Lot, error) {
	l, err := scanLot(r.q.QueryRow(ctx, `SELECT `+lotCols+` FROM lots WHERE id = $1`+r.lock, id))
	if err != nil {
		return nil, mapErr(err, "get lot %s", id)
	}
	return l, nil
}

func (r pgReader) ListLots(ctx context.Context, userID, commodityID string) ([]model.Lot, error) {
	return r.queryLots(ctx,
		`SELECT `+lotCols+` FROM lots
		 WHERE user_id = $1 AND ($2 = '' OR commodity_id = $2)
		 ORDER BY purchase_date, id`+r.lock, userID, commodityID)
}

func (r pgReader) ListCommodityLots(ctx context.Context, commodityID string) ([]model.Lot, error) {
	return r.queryLots(ctx,
		`SELECT `+lotCols+` FROM lots WHERE commodity_id = $1 ORDER BY purchase_date, id`+r.lock, commodityID)
}

func (r pgReader) queryLots(ctx context.Context, sql string, args ...any) ([]model.Lot, error) {
	rows, err := r.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapErr(err, "list lots")
	}
	defer rows.Close()

	var out []model.Lot
	for rows.Next() {
		l, err := scanLot(rows)
		if err != nil {
			return nil, mapErr(err, "scan lot")
		}
		out = append(out, *l)
	}
	return out, mapErr(rows.Err(), "list lots")
}

const offerCols = `id, user_id, commodity_id, COALESCE(source_lot_id, ''), quantity, price::TEXT, is_buy, posted_date, version`

func scanOffer(row scanner) (*model.Offer, error) {
	var o model.Offer
	var price string
	if err := row.Scan(&o.ID, &o.UserID, &o.CommodityID, &o.SourceLotID, &o.Quantity, &price,
		&o.IsBuy, &o.PostedDate, &o.Version); err != nil {
		return nil, err
	}
	if err := parseDecimals(&o.Price, price); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r pgReader) GetOffer(ctx context.Context, id string) (*model.Offer, error) {
	o, err := scanOffer(r.q.QueryRow(ctx, `SELECT `+offerCols+` FROM offers WHERE id = $1`+r.lock, id))
	if err != nil {
		return nil, mapErr(err, "get offer %s", id)
	}
	return o, nil
}

func (r pgReader) ListOffers(ctx context.Context, f model.OfferFilter) ([]model.Offer, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+offerCols+` FROM offers
		 WHERE ($1 = '' OR user_id = $1)
		   AND ($2 = '' OR user_id <> $2)
		   AND ($3 = '' OR commodity_id = $3)
		   AND ($4 = '' OR source_lot_id = $4)
		   AND ($5::BOOLEAN IS NULL OR is_buy = $5)
		 ORDER BY posted_date DESC, id`+r.lock,
		f.UserID, f.ExcludeUserID, f.CommodityID, f.SourceLotID, f.IsBuy)
	if err != nil {
		return nil, mapErr(err, "list offers")
	}
	defer rows.Close()

	var out []model.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, mapErr(err, "scan offer")
		}
		out = append(out, *o)
	}
	return out, mapErr(rows.Err(), "list offers")
}

func (r pgReader) ListSettlements(ctx context.Context, f model.SettlementFilter) ([]model.Settlement, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, user_id, commodity_id, original_purchase_date, settle_date, quantity,
		        cost_basis::TEXT, sale_price::TEXT
		 FROM settlements
		 WHERE ($1 = '' OR user_id = $1)
		   AND ($2 = '' OR commodity_id = $2)
		   AND ($3::TIMESTAMPTZ IS NULL OR settle_date >= $3)
		   AND ($4::TIMESTAMPTZ IS NULL OR settle_date <= $4)
		 ORDER BY settle_date, id`,
		f.UserID, f.CommodityID, nullTime(f.Since), nullTime(f.Until))
	if err != nil {
		return nil, mapErr(err, "list settlements")
	}
	defer rows.Close()

	var out []model.Settlement
	for rows.Next() {
		var s model.Settlement
		var basis, price string
		if err := rows.Scan(&s.ID, &s.UserID, &s.CommodityID, &s.OriginalPurchaseDate, &s.SettleDate,
			&s.Quantity, &basis, &price); err != nil {
			return nil, mapErr(err, "scan settlement")
		}
		if err := parseDecimals(&s.CostBasis, basis, &s.SalePrice, price); err != nil {
			return nil, apperr.Wrap(err, "scan settlement")
		}
		out = append(out, s)
	}
	return out, mapErr(rows.Err(), "list settlements")
}

const tickCols = `id, commodity_id, tick_date, open::TEXT, close::TEXT, delta::TEXT, tier`

func scanTick(row scanner) (*model.PriceTick, error) {
	var t model.PriceTick
	var open, closePrice, delta, tier string
	if err := row.Scan(&t.ID, &t.CommodityID, &t.TickDate, &open, &closePrice, &delta, &tier); err != nil {
		return nil, err
	}
	if err := parseDecimals(&t.Open, open, &t.Close, closePrice, &t.Delta, delta); err != nil {
		return nil, err
	}
	t.Tier = model.ParseTier(tier)
	t.TickDate = model.Day(t.TickDate)
	return &t, nil
}

func (r pgReader) GetPriceTick(ctx context.Context, commodityID string, date time.Time) (*model.PriceTick, error) {
	t, err := scanTick(r.q.QueryRow(ctx,
		`SELECT `+tickCols+` FROM price_ticks WHERE commodity_id = $1 AND tick_date = $2`,
		commodityID, model.Day(date)))
	if err != nil {
		return nil, mapErr(err, "get price tick %s %s", commodityID, model.Day(date).Format(time.DateOnly))
	}
	return t, nil
}

func (r pgReader) ListPriceTicks(ctx context.Context, commodityID string, since time.Time) ([]model.PriceTick, error) {
	rows, err := r.q.Query(ctx,
		`SELECT `+tickCols+` FROM price_ticks
		 WHERE commodity_id = $1 AND tick_date >= $2 ORDER BY tick_date`,
		commodityID, model.Day(since))
	if err != nil {
		return nil, mapErr(err, "list price ticks")
	}
	defer rows.Close()

	var out []model.PriceTick
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, mapErr(err, "scan price tick")
		}
		out = append(out, *t)
	}
	return out, mapErr(rows.Err(), "list price ticks")
}

func (r pgReader) LatestPriceTick(ctx context.Context, commodityID string) (*model.PriceTick, error) {
	t, err := scanTick(r.q.QueryRow(ctx,
		`SELECT `+tickCols+` FROM price_ticks WHERE commodity_id = $1 ORDER BY tick_date DESC LIMIT 1`,
		commodityID))
	if err != nil {
		return nil, mapErr(err, "latest price tick %s", commodityID)
	}
	return t, nil
}

func (r pgReader) ListNotices(ctx context.Context, userID string) ([]model.Notice, error) {
	rows, err := r.q.Query(ctx,
		`SELECT id, user_id, sender, notice_date, title, body, read
		 FROM notices WHERE user_id = $1 ORDER BY notice_date DESC, id`, userID)
	if err != nil {
		return nil, mapErr(err, "list notices")
	}
	defer rows.Close()

	var out []model.Notice
	for rows.Next() {
		var n model.Notice
		if err := rows.Scan(&n.ID, &n.UserID, &n.Sender, &n.NoticeDate, &n.Title, &n.Body, &n.Read); err != nil {
			return nil, mapErr(err, "scan notice")
		}
		out = append(out, n)
	}
	return out, mapErr(rows.Err(), "list notices")
}

// pgTx implements Tx on top of a pgx.Tx.
type pgTx struct {
	pgReader
}

func (t *pgTx) execVersioned(ctx context.Context, what, id string, sql string, args ...any) error {
	tag, err := t.q.Exec(ctx, sql, args...)
	if err != nil {
		return mapErr(err, "update %s %s", what, id)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.Conflict, "%s %s was modified concurrently", what, id)
	}
	return nil
}

func (t *pgTx) InsertUser(ctx context.Context, u *model.User) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO users (id, display_name, balance, version) VALUES ($1, $2, $3::NUMERIC, 1)`,
		u.ID, u.DisplayName, u.Balance.String())
	if err != nil {
		return mapErr(err, "insert user %s", u.ID)
	}
	u.Version = 1
	return nil
}

func (t *pgTx) UpdateUser(ctx context.Context, u *model.User) error {
	err := t.execVersioned(ctx, "user", u.ID,
		`UPDATE users SET display_name = $2, balance = $3::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $4`,
		u.ID, u.DisplayName, u.Balance.String(), u.Version)
	if err != nil {
		return err
	}
	u.Version++
	return nil
}

func (t *pgTx) InsertCommodity(ctx context.Context, c *model.Commodity) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO commodities (id, name, price, total_quantity, user_held, pool_held, version)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, 1)`,
		c.ID, c.Name, c.Price.String(), c.TotalQuantity, c.UserHeld, c.PoolHeld)
	if err != nil {
		return mapErr(err, "insert commodity %s", c.Name)
	}
	c.Version = 1
	return nil
}

func (t *pgTx) UpdateCommodity(ctx context.Context, c *model.Commodity) error {
	err := t.execVersioned(ctx, "commodity", c.ID,
		`UPDATE commodities
		 SET name = $2, price = $3::NUMERIC, total_quantity = $4, user_held = $5, pool_held = $6,
		     version = version + 1
		 WHERE id = $1 AND version = $7`,
		c.ID, c.Name, c.Price.String(), c.TotalQuantity, c.UserHeld, c.PoolHeld, c.Version)
	if err != nil {
		return err
	}
	c.Version++
	return nil
}

func (t *pgTx) InsertLot(ctx context.Context, l *model.Lot) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO lots (id, user_id, commodity_id, purchase_date, quantity, unit_cost, version)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, 1)`,
		l.ID, l.UserID, l.CommodityID, l.PurchaseDate, l.Quantity, l.UnitCost.String())
	if err != nil {
		return mapErr(err, "insert lot %s", l.ID)
	}
	l.Version = 1
	return nil
}

func (t *pgTx) UpdateLot(ctx context.Context, l *model.Lot) error {
	err := t.execVersioned(ctx, "lot", l.ID,
		`UPDATE lots SET quantity = $2, unit_cost = $3::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $4`,
		l.ID, l.Quantity, l.UnitCost.String(), l.Version)
	if err != nil {
		return err
	}
	l.Version++
	return nil
}

func (t *pgTx) DeleteLot(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM lots WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "delete lot %s", id)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "lot %s not found", id)
	}
	return nil
}

func (t *pgTx) InsertOffer(ctx context.Context, o *model.Offer) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO offers (id, user_id, commodity_id, source_lot_id, quantity, price, is_buy, posted_date, version)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6::NUMERIC, $7, $8, 1)`,
		o.ID, o.UserID, o.CommodityID, o.SourceLotID, o.Quantity, o.Price.String(), o.IsBuy, o.PostedDate)
	if err != nil {
		return mapErr(err, "insert offer %s", o.ID)
	}
	o.Version = 1
	return nil
}

func (t *pgTx) UpdateOffer(ctx context.Context, o *model.Offer) error {
	err := t.execVersioned(ctx, "offer", o.ID,
		`UPDATE offers SET quantity = $2, price = $3::NUMERIC, version = version + 1
		 WHERE id = $1 AND version = $4`,
		o.ID, o.Quantity, o.Price.String(), o.Version)
	if err != nil {
		return err
	}
	o.Version++
	return nil
}

func (t *pgTx) DeleteOffer(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM offers WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "delete offer %s", id)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Newf(apperr.NotFound, "offer %s not found", id)
	}
	return nil
}

func (t *pgTx) InsertSettlement(ctx context.Context, s *model.Settlement) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO settlements (id, user_id, commodity_id, original_purchase_date, settle_date,
		                          quantity, cost_basis, sale_price)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC)`,
		s.ID, s.UserID, s.CommodityID, s.OriginalPurchaseDate, s.SettleDate,
		s.Quantity, s.CostBasis.String(), s.SalePrice.String())
	return mapErr(err, "insert settlement %s", s.ID)
}

func (t *pgTx) InsertPriceTick(ctx context.Context, pt *model.PriceTick) error {
	pt.TickDate = model.Day(pt.TickDate)
	_, err := t.q.Exec(ctx,
		`INSERT INTO price_ticks (id, commodity_id, tick_date, open, close, delta, tier)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7)`,
		pt.ID, pt.CommodityID, pt.TickDate, pt.Open.String(), pt.Close.String(), pt.Delta.String(),
		pt.Tier.String())
	return mapErr(err, "insert price tick %s %s", pt.CommodityID, pt.TickDate.Format(time.DateOnly))
}

func (t *pgTx) InsertNotice(ctx context.Context, n *model.Notice) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO notices (id, user_id, sender, notice_date, title, body, read)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		n.ID, n.UserID, n.Sender, n.NoticeDate, n.Title, n.Body, n.Read)
	return mapErr(err, "insert notice %s", n.ID)
}

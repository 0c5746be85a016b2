package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/kestrelquant/tradingcore/internal/domain"
	"github.com/kestrelquant/tradingcore/internal/quotes"
)

// PostgresStore implements Store against Postgres/TimescaleDB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against dsn.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres store: connection string is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (ps *PostgresStore) Close() {
	ps.pool.Close()
}

func (ps *PostgresStore) Ping(ctx context.Context) error {
	return ps.pool.Ping(ctx)
}

func tableFor(period domain.Period) string {
	if period == domain.Period1d {
		return "kline_daily"
	}
	return "kline_minute"
}

func (ps *PostgresStore) SaveCandles(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	// Candles sharing the same period land in the same hypertable; most
	// callers pass a single-period batch, so grouping is a formality.
	byTable := make(map[string][]domain.Candle)
	for _, c := range candles {
		t := tableFor(c.Period)
		byTable[t] = append(byTable[t], c)
	}

	for table, batch := range byTable {
		tx, err := ps.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("save candles: begin tx: %w", err)
		}
		for _, c := range batch {
			_, err := tx.Exec(ctx, fmt.Sprintf(`
				INSERT INTO %s (symbol, period, time, open, high, low, close, volume, turnover)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (symbol, period, time) DO UPDATE SET
					open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low,
					close = EXCLUDED.close, volume = EXCLUDED.volume, turnover = EXCLUDED.turnover
			`, table),
				c.Symbol, string(c.Period), c.Time,
				c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(),
				c.Volume, c.Turnover.String(),
			)
			if err != nil {
				tx.Rollback(ctx)
				return fmt.Errorf("save candles: insert into %s: %w", table, err)
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("save candles: commit: %w", err)
		}
	}
	return nil
}

func (ps *PostgresStore) GetCandles(ctx context.Context, symbol string, period domain.Period, from, to time.Time) ([]domain.Candle, error) {
	table := tableFor(period)
	rows, err := ps.pool.Query(ctx, fmt.Sprintf(`
		SELECT symbol, period, time, open, high, low, close, volume, turnover
		FROM %s WHERE symbol = $1 AND period = $2 AND time BETWEEN $3 AND $4
		ORDER BY time ASC
	`, table), symbol, string(period), from, to)
	if err != nil {
		return nil, fmt.Errorf("get candles: %w", err)
	}
	defer rows.Close()

	var out []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var periodStr, open, high, low, cls, turnover string
		if err := rows.Scan(&c.Symbol, &periodStr, &c.Time, &open, &high, &low, &cls, &c.Volume, &turnover); err != nil {
			return nil, fmt.Errorf("get candles: scan: %w", err)
		}
		c.Period = domain.Period(periodStr)
		c.Open, _ = decimal.NewFromString(open)
		c.High, _ = decimal.NewFromString(high)
		c.Low, _ = decimal.NewFromString(low)
		c.Close, _ = decimal.NewFromString(cls)
		c.Turnover, _ = decimal.NewFromString(turnover)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetLatestCandleTime(ctx context.Context, symbol string, period domain.Period) (time.Time, error) {
	table := tableFor(period)
	var t time.Time
	err := ps.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT time FROM %s WHERE symbol = $1 AND period = $2 ORDER BY time DESC LIMIT 1
	`, table), symbol, string(period)).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get latest candle time: %w", err)
	}
	return t, nil
}

func (ps *PostgresStore) SaveOrder(ctx context.Context, o domain.Order) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO orders (broker_order_id, signal_id, symbol, side, type, quantity,
			limit_price, tif, status, executed_qty, executed_price, submitted_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (broker_order_id) DO UPDATE SET
			status = EXCLUDED.status, executed_qty = EXCLUDED.executed_qty,
			executed_price = EXCLUDED.executed_price, updated_at = EXCLUDED.updated_at
	`, o.BrokerOrderID, o.SignalID, o.Symbol, string(o.Side), string(o.Type), o.Quantity,
		o.LimitPrice.String(), string(o.TIF), string(o.Status), o.ExecutedQty, o.ExecutedPrice.String(),
		o.SubmittedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save order: %w", err)
	}
	return nil
}

func (ps *PostgresStore) UpdateOrderStatus(ctx context.Context, brokerOrderID string, status domain.OrderStatus, executedQty int64, executedPrice decimal.Decimal) error {
	_, err := ps.pool.Exec(ctx, `
		UPDATE orders SET status = $1, executed_qty = $2, executed_price = $3, updated_at = $4
		WHERE broker_order_id = $5
	`, string(status), executedQty, executedPrice.String(), time.Now().UTC(), brokerOrderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetOpenOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT broker_order_id, signal_id, symbol, side, type, quantity, limit_price, tif,
			status, executed_qty, executed_price, submitted_at, updated_at
		FROM orders WHERE status NOT IN ('FILLED','REJECTED','CANCELLED','EXPIRED')
		ORDER BY submitted_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	defer rows.Close()

	var out []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, typ, tif, status, limitPrice, executedPrice string
		if err := rows.Scan(&o.BrokerOrderID, &o.SignalID, &o.Symbol, &side, &typ, &o.Quantity,
			&limitPrice, &tif, &status, &o.ExecutedQty, &executedPrice, &o.SubmittedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("get open orders: scan: %w", err)
		}
		o.Side = domain.Side(side)
		o.Type = domain.OrderType(typ)
		o.TIF = domain.TimeInForce(tif)
		o.Status = domain.OrderStatus(status)
		o.LimitPrice, _ = decimal.NewFromString(limitPrice)
		o.ExecutedPrice, _ = decimal.NewFromString(executedPrice)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) SaveFill(ctx context.Context, f domain.Fill) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO fills (order_id, symbol, side, quantity, price, time)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, f.OrderID, f.Symbol, string(f.Side), f.Quantity, f.Price.String(), f.Time)
	if err != nil {
		return fmt.Errorf("save fill: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetFillsForOrder(ctx context.Context, orderID string) ([]domain.Fill, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT order_id, symbol, side, quantity, price, time FROM fills
		WHERE order_id = $1 ORDER BY time ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get fills: %w", err)
	}
	defer rows.Close()

	var out []domain.Fill
	for rows.Next() {
		var f domain.Fill
		var side, price string
		if err := rows.Scan(&f.OrderID, &f.Symbol, &side, &f.Quantity, &price, &f.Time); err != nil {
			return nil, fmt.Errorf("get fills: scan: %w", err)
		}
		f.Side = domain.Side(side)
		f.Price, _ = decimal.NewFromString(price)
		out = append(out, f)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) SavePosition(ctx context.Context, p domain.Position) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO positions (symbol, quantity, available_qty, average_cost, currency, market, entry_time)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity, available_qty = EXCLUDED.available_qty,
			average_cost = EXCLUDED.average_cost, currency = EXCLUDED.currency,
			market = EXCLUDED.market, entry_time = EXCLUDED.entry_time
	`, p.Symbol, p.Quantity, p.AvailableQty, p.AverageCost.String(), p.Currency, string(p.Market), p.EntryTime)
	if err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetPositions(ctx context.Context) ([]domain.Position, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT symbol, quantity, available_qty, average_cost, currency, market, entry_time FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) GetPosition(ctx context.Context, symbol string) (domain.Position, bool, error) {
	row := ps.pool.QueryRow(ctx, `
		SELECT symbol, quantity, available_qty, average_cost, currency, market, entry_time
		FROM positions WHERE symbol = $1
	`, symbol)
	p, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, false, nil
	}
	if err != nil {
		return domain.Position{}, false, fmt.Errorf("get position: %w", err)
	}
	return p, true, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPosition(row rowScanner) (domain.Position, error) {
	var p domain.Position
	var avgCost, market string
	if err := row.Scan(&p.Symbol, &p.Quantity, &p.AvailableQty, &avgCost, &p.Currency, &market, &p.EntryTime); err != nil {
		return domain.Position{}, err
	}
	p.AverageCost, _ = decimal.NewFromString(avgCost)
	p.Market = domain.Market(market)
	return p, nil
}

func (ps *PostgresStore) DeletePosition(ctx context.Context, symbol string) error {
	_, err := ps.pool.Exec(ctx, `DELETE FROM positions WHERE symbol = $1`, symbol)
	if err != nil {
		return fmt.Errorf("delete position: %w", err)
	}
	return nil
}

func (ps *PostgresStore) SaveSecurityStatic(ctx context.Context, info quotes.StaticInfo) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO security_static (symbol, name, currency, lot_size, tick_size, market)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (symbol) DO UPDATE SET
			name = EXCLUDED.name, currency = EXCLUDED.currency, lot_size = EXCLUDED.lot_size,
			tick_size = EXCLUDED.tick_size, market = EXCLUDED.market
	`, info.Symbol, info.Name, info.Currency, info.LotSize, info.TickSize, string(info.Market))
	if err != nil {
		return fmt.Errorf("save security static: %w", err)
	}
	return nil
}

func (ps *PostgresStore) GetSecurityStatic(ctx context.Context, symbol string) (quotes.StaticInfo, bool, error) {
	var info quotes.StaticInfo
	var market string
	err := ps.pool.QueryRow(ctx, `
		SELECT symbol, name, currency, lot_size, tick_size, market FROM security_static WHERE symbol = $1
	`, symbol).Scan(&info.Symbol, &info.Name, &info.Currency, &info.LotSize, &info.TickSize, &market)
	if errors.Is(err, pgx.ErrNoRows) {
		return quotes.StaticInfo{}, false, nil
	}
	if err != nil {
		return quotes.StaticInfo{}, false, fmt.Errorf("get security static: %w", err)
	}
	info.Market = domain.Market(market)
	return info, true, nil
}

// GetCalendarDays implements calendar.Store. trading_calendar stores one
// row per (market, date) with session begin/end minute arrays, using
// lib/pq's array support for the parallel begin/end columns.
func (ps *PostgresStore) GetCalendarDays(ctx context.Context, market domain.Market, from, to time.Time) ([]domain.CalendarDay, error) {
	rows, err := ps.pool.Query(ctx, `
		SELECT trade_date, session_begin_minutes, session_end_minutes, is_half_day
		FROM trading_calendar WHERE market = $1 AND trade_date BETWEEN $2 AND $3
		ORDER BY trade_date ASC
	`, string(market), from, to)
	if err != nil {
		return nil, fmt.Errorf("get calendar days: %w", err)
	}
	defer rows.Close()

	var out []domain.CalendarDay
	for rows.Next() {
		var day domain.CalendarDay
		var begins, ends pq.Int64Array
		day.Market = market
		if err := rows.Scan(&day.TradeDate, &begins, &ends, &day.IsHalfDay); err != nil {
			return nil, fmt.Errorf("get calendar days: scan: %w", err)
		}
		n := len(begins)
		if len(ends) < n {
			n = len(ends)
		}
		day.Sessions = make([]domain.SessionWindow, 0, n)
		for i := 0; i < n; i++ {
			day.Sessions = append(day.Sessions, domain.SessionWindow{
				BeginMinute: int(begins[i]), EndMinute: int(ends[i]),
			})
		}
		out = append(out, day)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) PutCalendarDays(ctx context.Context, days []domain.CalendarDay) error {
	if len(days) == 0 {
		return nil
	}
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("put calendar days: begin tx: %w", err)
	}
	for _, day := range days {
		begins := make(pq.Int64Array, len(day.Sessions))
		ends := make(pq.Int64Array, len(day.Sessions))
		for i, w := range day.Sessions {
			begins[i] = int64(w.BeginMinute)
			ends[i] = int64(w.EndMinute)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO trading_calendar (market, trade_date, session_begin_minutes, session_end_minutes, is_half_day)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (market, trade_date) DO UPDATE SET
				session_begin_minutes = EXCLUDED.session_begin_minutes,
				session_end_minutes = EXCLUDED.session_end_minutes,
				is_half_day = EXCLUDED.is_half_day
		`, string(day.Market), day.TradeDate, begins, ends, day.IsHalfDay)
		if err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("put calendar days: insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (ps *PostgresStore) GetDailyPnL(ctx context.Context, date time.Time) (decimal.Decimal, error) {
	var realized string
	err := ps.pool.QueryRow(ctx, `
		SELECT realized_pnl FROM daily_pnl WHERE trade_date = $1
	`, date).Scan(&realized)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get daily pnl: %w", err)
	}
	d, _ := decimal.NewFromString(realized)
	return d, nil
}

func (ps *PostgresStore) SaveDailyPnL(ctx context.Context, date time.Time, realized decimal.Decimal) error {
	_, err := ps.pool.Exec(ctx, `
		INSERT INTO daily_pnl (trade_date, realized_pnl) VALUES ($1,$2)
		ON CONFLICT (trade_date) DO UPDATE SET realized_pnl = EXCLUDED.realized_pnl
	`, date, realized.String())
	if err != nil {
		return fmt.Errorf("save daily pnl: %w", err)
	}
	return nil
}

package db

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// Order statuses as stored in the orders table.
const (
	OrderStatusNew       = "NEW"
	OrderStatusSubmitted = "SUBMITTED"
	OrderStatusFilled    = "FILLED"
	OrderStatusFailed    = "FAILED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusDryRun    = "DRY_RUN"
)

// Order represents an order attempt made by the execution manager.
type Order struct {
	ID              string
	SignalID        string
	AgentID         string
	Symbol          string
	Side            string
	OrderType       string
	Price           float64
	Qty             float64
	FilledQty       float64
	Status          string
	Fingerprint     string
	ExchangeOrderID string
	DryRun          bool
	CreatedAt       time.Time
}

// Execution represents a fill reported by the exchange.
type Execution struct {
	ID        string
	OrderID   string
	Symbol    string
	Side      string
	Price     float64
	Qty       float64
	Fee       float64
	CreatedAt time.Time
}

// Position tracks net position per symbol.
type Position struct {
	Symbol      string
	Qty         float64
	AvgPrice    float64
	RealizedPnL float64
	DayQty      float64
	UpdatedAt   time.Time
}

// AgentInstance represents a configured strategy agent row.
type AgentInstance struct {
	ID         string
	Name       string
	AgentType  string
	Symbol     string
	Interval   string
	Parameters string
	AssetClass string
	IsActive   bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// User represents an operator account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, signal_id, agent_id, symbol, side, order_type, price, qty, filled_qty,
			status, fingerprint, exchange_order_id, dry_run, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		o.ID, o.SignalID, o.AgentID, o.Symbol, o.Side, o.OrderType, o.Price, o.Qty, o.FilledQty,
		o.Status, o.Fingerprint, o.ExchangeOrderID, o.DryRun, o.CreatedAt,
	)
	return err
}

// CreateExecution inserts a new fill row.
func (d *Database) CreateExecution(ctx context.Context, e Execution) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO executions (
			id, order_id, symbol, side, price, qty, fee, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		e.ID, e.OrderID, e.Symbol, e.Side, e.Price, e.Qty, e.Fee, e.CreatedAt,
	)
	return err
}

// UpdateOrderStatus sets the status of an order.
func (d *Database) UpdateOrderStatus(ctx context.Context, id, status string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE orders SET status = ? WHERE id = ?`, status, id)
	return err
}

// UpdateOrderFill sets status, filled quantity and the exchange order id.
func (d *Database) UpdateOrderFill(ctx context.Context, id, status string, filledQty float64, exchangeOrderID string) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE orders
		SET status = ?, filled_qty = ?, exchange_order_id = ?
		WHERE id = ?
	`, status, filledQty, exchangeOrderID, id)
	return err
}

// UpsertPosition stores the latest position for a symbol.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (symbol, qty, avg_price, realized_pnl, day_qty, updated_at)
		VALUES (?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
		ON CONFLICT(symbol) DO UPDATE SET
			qty = excluded.qty,
			avg_price = excluded.avg_price,
			realized_pnl = excluded.realized_pnl,
			day_qty = excluded.day_qty,
			updated_at = COALESCE(excluded.updated_at, CURRENT_TIMESTAMP)
	`, p.Symbol, p.Qty, p.AvgPrice, p.RealizedPnL, p.DayQty, p.UpdatedAt)
	return err
}

// ListOpenOrders returns orders that are not in a terminal state.
func (d *Database) ListOpenOrders(ctx context.Context) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, signal_id, COALESCE(agent_id, ''), symbol, side, order_type, price, qty,
		       COALESCE(filled_qty, 0), status, fingerprint, COALESCE(exchange_order_id, ''),
		       COALESCE(dry_run, 0), created_at
		FROM orders WHERE status NOT IN ('FILLED','CANCELLED','FAILED','DRY_RUN')
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.SignalID, &o.AgentID, &o.Symbol, &o.Side, &o.OrderType, &o.Price, &o.Qty,
			&o.FilledQty, &o.Status, &o.Fingerprint, &o.ExchangeOrderID, &o.DryRun, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ListPositions returns all current positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT symbol, qty, avg_price, realized_pnl, day_qty, updated_at
		FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Position
	for rows.Next() {
		var p Position
		if err := rows.Scan(&p.Symbol, &p.Qty, &p.AvgPrice, &p.RealizedPnL, &p.DayQty, &p.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpsertAgentInstance stores an agent's configured row by id.
func (d *Database) UpsertAgentInstance(ctx context.Context, a AgentInstance) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO agent_instances (id, name, agent_type, symbol, interval, parameters, asset_class, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			agent_type = excluded.agent_type,
			symbol = excluded.symbol,
			interval = excluded.interval,
			parameters = excluded.parameters,
			asset_class = excluded.asset_class,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`, a.ID, a.Name, a.AgentType, a.Symbol, a.Interval, a.Parameters, a.AssetClass, a.IsActive)
	return err
}

// ListAgentInstances returns all configured agents.
func (d *Database) ListAgentInstances(ctx context.Context) ([]AgentInstance, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, name, agent_type, symbol, interval, parameters, COALESCE(asset_class, 'crypto'), is_active, created_at, updated_at
		FROM agent_instances
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AgentInstance
	for rows.Next() {
		var a AgentInstance
		if err := rows.Scan(&a.ID, &a.Name, &a.AgentType, &a.Symbol, &a.Interval, &a.Parameters, &a.AssetClass, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// SaveAgentState persists an agent's serialized state blob.
func (d *Database) SaveAgentState(ctx context.Context, agentID, stateJSON string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO agent_states (agent_instance_id, state_data, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(agent_instance_id) DO UPDATE SET
			state_data = excluded.state_data,
			updated_at = CURRENT_TIMESTAMP
	`, agentID, stateJSON)
	return err
}

// LoadAgentState returns an agent's serialized state, or ErrNotFound.
func (d *Database) LoadAgentState(ctx context.Context, agentID string) (string, error) {
	var state string
	err := d.DB.QueryRowContext(ctx, `
		SELECT state_data FROM agent_states WHERE agent_instance_id = ?
	`, agentID).Scan(&state)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return state, nil
}

// CreateUser inserts a new operator account.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Username), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByUsername returns a user by name or nil if not found.
func (d *Database) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at, updated_at
		FROM users WHERE username = ?
	`, strings.ToLower(username))
	var u User
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// CountUsers reports how many operator accounts exist.
func (d *Database) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

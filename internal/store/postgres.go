package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/outcome-ledger/internal/model"
)

//go:embed migrations/001_init.sql
var migrationSQL string

// PostgreSQL error codes the store translates into the domain taxonomy.
const (
	pgLockNotAvailable = "55P03"
	pgUniqueViolation  = "23505"
	pgCheckViolation   = "23514"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Critical sections are row locks (SELECT ... FOR UPDATE) inside one
// database transaction.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const userColumns = `id, username, balance, starting_balance, created_at`

const marketColumns = `id, name, description, category, yes_price, no_price, status,
	total_yes_shares, total_no_shares, resolved_outcome, resolution_date, created_at`

const positionColumns = `id, user_id, market_id, outcome, shares, average_cost, updated_at`

const transactionColumns = `id, user_id, market_id, transaction_type, outcome, shares,
	price_per_share, total_cost, timestamp`

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Username, u.Balance, u.StartingBalance, u.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create user %s: %w", u.Username, translate(err))
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, translate(err))
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []model.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *PostgresStore) CreateMarket(ctx context.Context, m *model.Market) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (`+marketColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.Name, m.Description, m.Category, m.YesPrice, m.NoPrice, string(m.Status),
		m.TotalYesShares, m.TotalNoShares, outcomeArg(m.ResolvedOutcome), m.ResolutionDate,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create market %s: %w", m.ID, translate(err))
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(s.pool.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", id, translate(err))
	}
	return m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context, category string) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE $1 = '' OR category = $1
		 ORDER BY created_at DESC, id`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	markets := []model.Market{}
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, *m)
	}
	return markets, rows.Err()
}

// Snapshot reads the user, open positions and markets inside one
// read-only repeatable-read transaction.
func (s *PostgresStore) Snapshot(ctx context.Context, userID string) (*model.AccountSnapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	u, err := scanUser(tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("snapshot user %s: %w", userID, translate(err))
	}

	snap := &model.AccountSnapshot{User: *u, Markets: make(map[string]model.Market)}

	rows, err := tx.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND shares > 0
		 ORDER BY market_id, outcome`, userID)
	if err != nil {
		return nil, err
	}
	snap.Positions, err = collectPositions(rows)
	if err != nil {
		return nil, err
	}

	mrows, err := tx.Query(ctx,
		`SELECT `+marketColumns+` FROM markets
		 WHERE id IN (SELECT market_id FROM positions WHERE user_id = $1 AND shares > 0)`, userID)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()
	for mrows.Next() {
		m, err := scanMarket(mrows)
		if err != nil {
			return nil, err
		}
		snap.Markets[m.ID] = *m
	}
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	return snap, tx.Commit(ctx)
}

func (s *PostgresStore) ListUserTransactions(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE user_id = $1 ORDER BY timestamp DESC, seq DESC`, userID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (s *PostgresStore) ListMarketTransactions(ctx context.Context, marketID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		 WHERE market_id = $1 ORDER BY timestamp, seq`, marketID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// RunInTx wraps fn in a read-committed transaction. Row locks taken by
// LockMarket/LockUser are released at commit or rollback.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("set lock timeout: %w", err)
		}
	}

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translate(err))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockMarket(ctx context.Context, id string) (*model.Market, error) {
	m, err := scanMarket(t.tx.QueryRow(ctx,
		`SELECT `+marketColumns+` FROM markets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock market %s: %w", id, translate(err))
	}
	return m, nil
}

func (t *pgTx) LockUser(ctx context.Context, id string) (*model.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, fmt.Errorf("lock user %s: %w", id, translate(err))
	}
	return u, nil
}

func (t *pgTx) GetPosition(ctx context.Context, key model.PositionKey) (*model.Position, error) {
	p, err := scanPosition(t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND market_id = $2 AND outcome = $3`,
		key.UserID, key.MarketID, string(key.Outcome)))
	if err != nil {
		return nil, fmt.Errorf("get position %s/%s/%s: %w", key.UserID, key.MarketID, key.Outcome, translate(err))
	}
	return p, nil
}

func (t *pgTx) ListMarketPositions(ctx context.Context, marketID string) ([]model.Position, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE market_id = $1 ORDER BY user_id, outcome FOR UPDATE`, marketID)
	if err != nil {
		return nil, fmt.Errorf("list positions for market %s: %w", marketID, translate(err))
	}
	return collectPositions(rows)
}

func (t *pgTx) SaveMarket(ctx context.Context, m *model.Market) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE markets
		 SET name = $2, description = $3, category = $4, yes_price = $5, no_price = $6,
		     status = $7, total_yes_shares = $8, total_no_shares = $9,
		     resolved_outcome = $10, resolution_date = $11
		 WHERE id = $1`,
		m.ID, m.Name, m.Description, m.Category, m.YesPrice, m.NoPrice, string(m.Status),
		m.TotalYesShares, m.TotalNoShares, outcomeArg(m.ResolvedOutcome), m.ResolutionDate,
	)
	if err != nil {
		return fmt.Errorf("save market %s: %w", m.ID, translate(err))
	}
	return nil
}

func (t *pgTx) SaveUser(ctx context.Context, u *model.User) error {
	_, err := t.tx.Exec(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, u.ID, u.Balance)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.ID, translate(err))
	}
	return nil
}

func (t *pgTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (`+positionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, market_id, outcome)
		 DO UPDATE SET shares = EXCLUDED.shares,
		               average_cost = EXCLUDED.average_cost,
		               updated_at = EXCLUDED.updated_at`,
		p.ID, p.UserID, p.MarketID, string(p.Outcome), p.Shares, p.AverageCost, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s: %w", p.ID, translate(err))
	}
	return nil
}

func (t *pgTx) AppendTransaction(ctx context.Context, e *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (`+transactionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.UserID, e.MarketID, string(e.Type), string(e.Outcome), e.Shares,
		e.PricePerShare, e.TotalCost, e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", e.ID, translate(err))
	}
	return nil
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	if err := row.Scan(&u.ID, &u.Username, &u.Balance, &u.StartingBalance, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func scanMarket(row rowScanner) (*model.Market, error) {
	var m model.Market
	var status string
	var resolved *string
	if err := row.Scan(&m.ID, &m.Name, &m.Description, &m.Category, &m.YesPrice, &m.NoPrice,
		&status, &m.TotalYesShares, &m.TotalNoShares, &resolved, &m.ResolutionDate,
		&m.CreatedAt); err != nil {
		return nil, err
	}
	m.Status = model.MarketStatus(status)
	if resolved != nil {
		o := model.Outcome(*resolved)
		m.ResolvedOutcome = &o
	}
	return &m, nil
}

func scanPosition(row rowScanner) (*model.Position, error) {
	var p model.Position
	var outcome string
	if err := row.Scan(&p.ID, &p.UserID, &p.MarketID, &outcome, &p.Shares, &p.AverageCost,
		&p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Outcome = model.Outcome(outcome)
	return &p, nil
}

func collectPositions(rows pgx.Rows) ([]model.Position, error) {
	defer rows.Close()
	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func collectTransactions(rows pgx.Rows) ([]model.Transaction, error) {
	defer rows.Close()
	entries := []model.Transaction{}
	for rows.Next() {
		var e model.Transaction
		var typ, outcome string
		if err := rows.Scan(&e.ID, &e.UserID, &e.MarketID, &typ, &outcome, &e.Shares,
			&e.PricePerShare, &e.TotalCost, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = model.TransactionType(typ)
		e.Outcome = model.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func outcomeArg(o *model.Outcome) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}

// translate maps driver errors onto the domain taxonomy.
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return fmt.Errorf("%w: %s", model.ErrLockTimeout, pgErr.Message)
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", model.ErrConflict, pgErr.ConstraintName)
		case pgCheckViolation:
			if pgErr.ConstraintName == "users_balance_check" {
				return model.ErrInsufficientBalance
			}
			return fmt.Errorf("%w: %s", model.ErrValidation, pgErr.ConstraintName)
		}
	}
	return err
}

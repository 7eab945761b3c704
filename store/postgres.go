package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db     *sql.DB
	limits Limits
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore connects, pings and migrates the schema.
func NewPostgresStore(config *PostgresConfig, limits Limits) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db, limits: limits}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		name_key VARCHAR(128) PRIMARY KEY,
		name VARCHAR(128) NOT NULL,
		role VARCHAR(16) NOT NULL,
		address VARCHAR(256) NOT NULL,
		control_port INTEGER NOT NULL,
		reliable_port INTEGER NOT NULL,
		seq BIGINT NOT NULL,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS auctions (
		item_key VARCHAR(128) PRIMARY KEY,
		item VARCHAR(128) NOT NULL,
		seller VARCHAR(128) NOT NULL,
		description TEXT NOT NULL,
		starting_price DOUBLE PRECISION NOT NULL,
		current_price DOUBLE PRECISION NOT NULL,
		highest_bidder VARCHAR(128) NOT NULL,
		duration_ns BIGINT NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		negotiation_sent BOOLEAN NOT NULL DEFAULT FALSE,
		seq BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		item_key VARCHAR(128) NOT NULL,
		buyer_key VARCHAR(128) NOT NULL,
		buyer VARCHAR(128) NOT NULL,
		PRIMARY KEY (item_key, buyer_key)
	);

	CREATE TABLE IF NOT EXISTS sequence_counter (
		id INTEGER PRIMARY KEY,
		last_seq BIGINT NOT NULL
	);
	INSERT INTO sequence_counter (id, last_seq) VALUES (1, 0) ON CONFLICT DO NOTHING;
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) Accounts() AccountDirectory       { return (*pgAccounts)(s) }
func (s *PostgresStore) Auctions() AuctionCatalog         { return (*pgAuctions)(s) }
func (s *PostgresStore) Subscriptions() SubscriptionIndex { return (*pgSubs)(s) }
func (s *PostgresStore) Sequence() SequenceCounter        { return (*pgSeq)(s) }

// Close closes the database connection.
func (s *PostgresStore) Close() error { return s.db.Close() }

func opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

type pgAccounts PostgresStore

func (s *pgAccounts) Get(name string) (*Participant, error) {
	ctx, cancel := opCtx()
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT name, role, address, control_port, reliable_port, seq
		FROM accounts WHERE name_key = $1`, key(name))
	return scanParticipant(row)
}

func scanParticipant(row *sql.Row) (*Participant, error) {
	p := new(Participant)
	err := row.Scan(&p.Name, &p.Role, &p.Address, &p.ControlPort, &p.ReliablePort, &p.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *pgAccounts) Put(p *Participant) error {
	ctx, cancel := opCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return err
	}
	if count >= s.limits.MaxAccounts {
		return ErrCapacityReached
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounts (name_key, name, role, address, control_port, reliable_port, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key(p.Name), p.Name, string(p.Role), p.Address, p.ControlPort, p.ReliablePort, p.Seq)
	if isUniqueViolation(err) {
		return ErrDuplicateName
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgAccounts) Remove(name string) error {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE name_key = $1`, key(name))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *pgAccounts) All() ([]*Participant, error) {
	ctx, cancel := opCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, role, address, control_port, reliable_port, seq
		FROM accounts ORDER BY name_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Participant
	for rows.Next() {
		p := new(Participant)
		if err := rows.Scan(&p.Name, &p.Role, &p.Address, &p.ControlPort, &p.ReliablePort, &p.Seq); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type pgAuctions PostgresStore

const auctionColumns = `item, seller, description, starting_price, current_price,
	highest_bidder, duration_ns, started_at, negotiation_sent, seq`

func scanAuction(sc interface {
	Scan(dest ...any) error
}) (*Auction, error) {
	a := new(Auction)
	var durationNS int64
	err := sc.Scan(&a.Item, &a.Seller, &a.Description, &a.StartingPrice, &a.CurrentPrice,
		&a.HighestBidder, &durationNS, &a.StartedAt, &a.NegotiationSent, &a.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Duration = time.Duration(durationNS)
	return a, nil
}

func (s *pgAuctions) Get(item string) (*Auction, error) {
	ctx, cancel := opCtx()
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE item_key = $1`, key(item))
	return scanAuction(row)
}

func (s *pgAuctions) Put(a *Auction) error {
	ctx, cancel := opCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM auctions`).Scan(&count); err != nil {
		return err
	}
	if count >= s.limits.MaxItems {
		return ErrItemLimitReached
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO auctions (item_key, item, seller, description, starting_price,
			current_price, highest_bidder, duration_ns, started_at, negotiation_sent, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		key(a.Item), a.Item, a.Seller, a.Description, a.StartingPrice,
		a.CurrentPrice, a.HighestBidder, int64(a.Duration), a.StartedAt, a.NegotiationSent, a.Seq)
	if isUniqueViolation(err) {
		return ErrDuplicateItem
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *pgAuctions) Update(item string, fn func(*Auction) error) (*Auction, error) {
	ctx, cancel := opCtx()
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE item_key = $1 FOR UPDATE`, key(item))
	a, err := scanAuction(row)
	if err != nil {
		return nil, err
	}

	if err := fn(a); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE auctions SET seller = $2, description = $3, starting_price = $4,
			current_price = $5, highest_bidder = $6, duration_ns = $7,
			started_at = $8, negotiation_sent = $9, seq = $10
		WHERE item_key = $1`,
		key(item), a.Seller, a.Description, a.StartingPrice,
		a.CurrentPrice, a.HighestBidder, int64(a.Duration), a.StartedAt, a.NegotiationSent, a.Seq)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *pgAuctions) Remove(item string) error {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM auctions WHERE item_key = $1`, key(item))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *pgAuctions) All() ([]*Auction, error) {
	ctx, cancel := opCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions ORDER BY item_key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type pgSubs PostgresStore

func (s *pgSubs) Add(item, buyer string) error {
	ctx, cancel := opCtx()
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (item_key, buyer_key, buyer) VALUES ($1, $2, $3)`,
		key(item), key(buyer), buyer)
	if isUniqueViolation(err) {
		return ErrAlreadySubscribed
	}
	return err
}

func (s *pgSubs) Remove(item, buyer string) error {
	ctx, cancel := opCtx()
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE item_key = $1 AND buyer_key = $2`, key(item), key(buyer))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotSubscribed
	}
	return nil
}

func (s *pgSubs) IsSubscribed(item, buyer string) (bool, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE item_key = $1 AND buyer_key = $2`,
		key(item), key(buyer)).Scan(&count)
	return count > 0, err
}

func (s *pgSubs) Subscribers(item string) ([]string, error) {
	ctx, cancel := opCtx()
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT buyer FROM subscriptions WHERE item_key = $1 ORDER BY buyer_key`, key(item))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var buyer string
		if err := rows.Scan(&buyer); err != nil {
			return nil, err
		}
		out = append(out, buyer)
	}
	return out, rows.Err()
}

type pgSeq PostgresStore

func (s *pgSeq) Next() (uint64, error) {
	ctx, cancel := opCtx()
	defer cancel()

	var next uint64
	err := s.db.QueryRowContext(ctx, `
		UPDATE sequence_counter SET last_seq = last_seq + 1 WHERE id = 1
		RETURNING last_seq`).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

// isUniqueViolation matches Postgres unique-constraint errors without
// depending on driver-specific error types.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}

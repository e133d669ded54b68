package auction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const auctionSchema = `
CREATE SEQUENCE IF NOT EXISTS auction_ids START 1;
CREATE TABLE IF NOT EXISTS auctions (
	id             BIGINT PRIMARY KEY,
	seller         TEXT NOT NULL,
	asset_registry TEXT NOT NULL,
	item_id        TEXT NOT NULL,
	currency       TEXT NOT NULL,
	starting_price NUMERIC(78, 0) NOT NULL,
	start_time     TIMESTAMPTZ NOT NULL,
	end_time       TIMESTAMPTZ NOT NULL,
	highest_bid    NUMERIC(78, 0) NOT NULL DEFAULT 0,
	highest_bidder TEXT NOT NULL DEFAULT '',
	bid_count      INTEGER NOT NULL DEFAULT 0,
	status         SMALLINT NOT NULL,
	settlement     JSONB,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS auctions_seller_idx ON auctions (seller);
CREATE INDEX IF NOT EXISTS auctions_status_idx ON auctions (status);
`

const auctionColumns = `id, seller, asset_registry, item_id, currency, starting_price,
	start_time, end_time, highest_bid, highest_bidder, bid_count, status, settlement,
	created_at, updated_at`

// PostgresStore keeps auctions in Postgres. Ids come from a sequence.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the sequence and table if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, auctionSchema); err != nil {
		return fmt.Errorf("failed to create auction schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) NextID(ctx context.Context) (uint64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval('auction_ids')`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to allocate auction id: %w", err)
	}
	return uint64(id), nil
}

func (s *PostgresStore) Insert(ctx context.Context, a *Auction) error {
	settlement, err := encodeSettlement(a.Settlement)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO auctions (`+auctionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		int64(a.ID), a.Seller, a.Asset.Registry, a.Asset.ItemID, a.Currency, a.StartingPrice,
		a.StartTime, a.EndTime, a.HighestBid, a.HighestBidder, a.BidCount, int(a.Status), settlement,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

// Update writes the mutable columns. Seller, asset, currency, price and
// times are immutable after insert.
func (s *PostgresStore) Update(ctx context.Context, a *Auction) error {
	settlement, err := encodeSettlement(a.Settlement)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE auctions SET highest_bid = $1, highest_bidder = $2, bid_count = $3,
		 status = $4, settlement = $5, updated_at = $6 WHERE id = $7`,
		a.HighestBid, a.HighestBidder, a.BidCount, int(a.Status), settlement, a.UpdatedAt, int64(a.ID),
	)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %d", ErrAuctionNotFound, a.ID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uint64) (*Auction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, int64(id))
	a, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrAuctionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Auction, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Seller != "" {
		args = append(args, f.Seller)
		where = append(where, fmt.Sprintf("seller = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, int(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + auctionColumns + ` FROM auctions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var out []*Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Count(ctx context.Context) (uint64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM auctions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count auctions: %w", err)
	}
	return uint64(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row scanner) (*Auction, error) {
	var (
		a          Auction
		id         int64
		status     int
		settlement []byte
		starting   decimal.Decimal
		highest    decimal.Decimal
	)
	err := row.Scan(&id, &a.Seller, &a.Asset.Registry, &a.Asset.ItemID, &a.Currency, &starting,
		&a.StartTime, &a.EndTime, &highest, &a.HighestBidder, &a.BidCount, &status, &settlement,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.ID = uint64(id)
	a.Status = Status(status)
	a.StartingPrice = starting
	a.HighestBid = highest
	if len(settlement) > 0 {
		var st Settlement
		if err := json.Unmarshal(settlement, &st); err != nil {
			return nil, fmt.Errorf("failed to decode settlement: %w", err)
		}
		a.Settlement = &st
	}
	return &a, nil
}

func encodeSettlement(st *Settlement) (interface{}, error) {
	if st == nil {
		return nil, nil
	}
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode settlement: %w", err)
	}
	return string(b), nil
}

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/songify/partyqueue/internal/party"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	opts := cbor.CoreDetEncOptions()
	// Unix seconds would drop the sub-second part of join and vote times.
	opts.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = opts.EncMode()
	if err != nil {
		panic("database: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("database: CBOR decoder initialization failed: " + err.Error())
	}
}

// PartyRepository stores parties in SQLite. Each row keeps the full party
// state as a CBOR document; code and timestamps are columns for lookups.
type PartyRepository struct {
	db *sql.DB
}

var _ party.Backend = (*PartyRepository)(nil)

// NewPartyRepository wraps a migrated database.
func NewPartyRepository(db *sql.DB) *PartyRepository {
	return &PartyRepository{db: db}
}

func (r *PartyRepository) Insert(ctx context.Context, p *party.Party) error {
	state, err := encMode.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode party: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO parties (code, host, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING
	`, p.Code, p.Host, state, p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("insert party: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check insert result: %w", err)
	}
	if n == 0 {
		return party.ErrCodeTaken
	}
	return nil
}

func (r *PartyRepository) Load(ctx context.Context, code string) (*party.Party, error) {
	var state []byte
	err := r.db.QueryRowContext(ctx, `SELECT state FROM parties WHERE code = ?`, code).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, party.ErrPartyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query party: %w", err)
	}

	var p party.Party
	if err := decMode.Unmarshal(state, &p); err != nil {
		return nil, fmt.Errorf("decode party %s: %w", code, err)
	}
	if p.Members == nil {
		p.Members = []party.Member{}
	}
	if p.Queue == nil {
		p.Queue = []party.QueueEntry{}
	}
	return &p, nil
}

func (r *PartyRepository) Save(ctx context.Context, p *party.Party) error {
	state, err := encMode.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode party: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE parties SET state = ?, updated_at = ? WHERE code = ?
	`, state, p.UpdatedAt.UnixNano(), p.Code)
	if err != nil {
		return fmt.Errorf("update party: %w", err)
	}
	return requireRow(res)
}

func (r *PartyRepository) Delete(ctx context.Context, code string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM parties WHERE code = ?`, code)
	if err != nil {
		return fmt.Errorf("delete party: %w", err)
	}
	return requireRow(res)
}

func (r *PartyRepository) IdleSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code FROM parties WHERE updated_at < ?`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query idle parties: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scan party code: %w", err)
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return party.ErrPartyNotFound
	}
	return nil
}

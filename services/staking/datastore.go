package staking

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redpepe-labs/stakemint/libs/clients/chain"
	"github.com/redpepe-labs/stakemint/libs/datastore"
	errorutils "github.com/redpepe-labs/stakemint/libs/errors"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// MintFunc performs the mint for a claim; it runs inside the claim critical section
type MintFunc func(ctx context.Context) (*chain.MintResult, error)

// Datastore abstracts over the underlying datastore
type Datastore interface {
	datastore.Datastore
	// GetWallet returns the record for an address, nil when unregistered
	GetWallet(ctx context.Context, address string) (*WalletRecord, error)
	// UpsertSnapshot creates or re-registers a wallet with a fresh balance snapshot and zeroed points
	UpsertSnapshot(ctx context.Context, address string, balance decimal.Decimal, nftCount int64, now time.Time) (*WalletRecord, error)
	// UpdateAccrual persists an accrual result; returns false if the wallet claimed in the meantime
	UpdateAccrual(ctx context.Context, rec *WalletRecord) (bool, error)
	// ListAddresses returns every registered wallet address
	ListAddresses(ctx context.Context) ([]string, error)
	// ClaimWallet runs mint inside the per-wallet claim critical section, guaranteeing at most one mint
	ClaimWallet(ctx context.Context, address string, mint MintFunc) (*chain.MintResult, error)
	// ForceEligible marks a wallet eligible at the points target (admin override)
	ForceEligible(ctx context.Context, address string, points decimal.Decimal, now time.Time) error
}

// ReadOnlyDatastore includes all database methods that can be made with a read only db connection
type ReadOnlyDatastore interface {
	datastore.Datastore
	// GetWallet returns the record for an address, nil when unregistered
	GetWallet(ctx context.Context, address string) (*WalletRecord, error)
	// ListAddresses returns every registered wallet address
	ListAddresses(ctx context.Context) ([]string, error)
}

// Postgres is a Datastore wrapper around a postgres database
type Postgres struct {
	datastore.Postgres
}

// NewDB creates a new Postgres Datastore
func NewDB(databaseURL string, performMigration bool) (Datastore, error) {
	pg, err := datastore.NewPostgres(databaseURL, performMigration)
	if pg != nil {
		return &Postgres{*pg}, err
	}
	return nil, err
}

// NewPostgres creates new postgres connections
func NewPostgres() (Datastore, ReadOnlyDatastore, error) {
	var roPg ReadOnlyDatastore
	pg, err := NewDB("", true)
	if err != nil {
		sentry.CaptureException(err)
		log.Panic().Err(err).Msg("Must be able to init postgres connection to start")
	}
	roDB := os.Getenv("RO_DATABASE_URL")
	if len(roDB) > 0 {
		roPg, err = NewDB(roDB, false)
		if err != nil {
			sentry.CaptureException(err)
			log.Error().Err(err).Msg("Could not start reader postgres connection")
		}
	}
	if roPg == nil {
		roPg = pg
	}
	return pg, roPg, err
}

// GetWallet returns the record for an address, nil when unregistered
func (pg *Postgres) GetWallet(ctx context.Context, address string) (*WalletRecord, error) {
	statement := `select * from staking_wallets where address = $1`
	records := []WalletRecord{}
	err := pg.RawDB().SelectContext(ctx, &records, statement, address)
	if err != nil {
		return nil, err
	}

	if len(records) > 0 {
		return &records[0], nil
	}

	return nil, nil
}

// UpsertSnapshot creates or re-registers a wallet with a fresh balance snapshot and zeroed
// points. A claimed wallet is terminal and is returned unchanged.
func (pg *Postgres) UpsertSnapshot(ctx context.Context, address string, balance decimal.Decimal, nftCount int64, now time.Time) (*WalletRecord, error) {
	statement := `
	insert into staking_wallets (address, snapshot_balance, nft_count, accrued_points, last_update, eligible, claimed)
	values ($1, $2, $3, 0, $4, false, false)
	on conflict (address) do update set
		snapshot_balance = excluded.snapshot_balance,
		nft_count = excluded.nft_count,
		accrued_points = 0,
		last_update = excluded.last_update,
		eligible = false
	where staking_wallets.claimed = false
	returning *`
	records := []WalletRecord{}
	err := pg.RawDB().SelectContext(ctx, &records, statement, address, balance, nftCount, now)
	if err != nil {
		return nil, err
	}

	if len(records) > 0 {
		return &records[0], nil
	}

	// claimed wallet, conditional upsert did not apply
	return pg.GetWallet(ctx, address)
}

// UpdateAccrual persists an accrual result, conditional on the wallet not having
// claimed since the record was read. Returns whether the update applied.
func (pg *Postgres) UpdateAccrual(ctx context.Context, rec *WalletRecord) (bool, error) {
	statement := `
	update staking_wallets set
		accrued_points = $2,
		nft_count = $3,
		last_update = $4,
		eligible = $5
	where address = $1 and claimed = false`
	result, err := pg.RawDB().ExecContext(ctx, statement,
		rec.Address, rec.AccruedPoints, rec.NFTCount, rec.LastUpdate, rec.Eligible)
	if err != nil {
		return false, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListAddresses returns every registered wallet address
func (pg *Postgres) ListAddresses(ctx context.Context) ([]string, error) {
	addresses := []string{}
	err := pg.RawDB().SelectContext(ctx, &addresses,
		`select address from staking_wallets order by address`)
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

// ClaimWallet locks the wallet row, re-checks eligibility, runs the mint and
// persists the claim result in one transaction. The row lock serializes
// concurrent claimers; the conditional update is a final guard so the claimed
// flag can only ever transition false to true once.
func (pg *Postgres) ClaimWallet(ctx context.Context, address string, mint MintFunc) (*chain.MintResult, error) {
	tx, err := pg.RawDB().BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer pg.RollbackTx(tx)

	records := []WalletRecord{}
	err = tx.SelectContext(ctx, &records,
		`select * from staking_wallets where address = $1 for update`, address)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotRegistered
	}
	rec := records[0]
	if rec.Claimed {
		return nil, ErrAlreadyClaimed
	}
	if !rec.Eligible {
		return nil, ErrNotEligible
	}

	// mint while holding the row lock; a failure here rolls back and the
	// record is untouched, so the caller can retry
	result, err := mint(ctx)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
	update staking_wallets set
		claimed = true,
		claim_tx_hash = $2,
		claim_token_ids = $3,
		claimed_at = $4
	where address = $1 and claimed = false`,
		address, result.TxHash, strings.Join(result.TokenIDs, ","), time.Now())
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to persist claim result")
	}
	count, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrAlreadyClaimed
	}

	if err := tx.Commit(); err != nil {
		// mint confirmed but the claim flag did not persist; surface loudly,
		// this is the manual reconciliation window
		sentry.CaptureException(err)
		return nil, errorutils.Wrap(err, "mint confirmed but claim result failed to persist")
	}

	return result, nil
}

// ForceEligible marks a wallet eligible at the points target (admin override)
func (pg *Postgres) ForceEligible(ctx context.Context, address string, points decimal.Decimal, now time.Time) error {
	result, err := pg.RawDB().ExecContext(ctx, `
	update staking_wallets set
		accrued_points = $2,
		eligible = true,
		last_update = $3
	where address = $1 and claimed = false`,
		address, points, now)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrNotRegistered
	}
	return nil
}

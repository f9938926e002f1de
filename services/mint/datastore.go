package mint

import (
	"context"
	"time"

	"github.com/redpepe-labs/stakemint/libs/datastore"
)

// Datastore abstracts over the underlying datastore
type Datastore interface {
	datastore.Datastore
	// RecordPayment reserves a payment transaction for a purchase; returns false if already used
	RecordPayment(ctx context.Context, txHash, address string, quantity int64) (bool, error)
	// ReleasePayment frees a reserved payment transaction after a failed mint
	ReleasePayment(ctx context.Context, txHash string) error
	// FinalizePayment stores the mint result against the reserved payment
	FinalizePayment(ctx context.Context, txHash, mintTxHash string) error
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

// RecordPayment reserves a payment transaction for a purchase. The primary key
// on payment_tx_hash makes reuse of the same payment a losing conditional
// insert rather than a double mint.
func (pg *Postgres) RecordPayment(ctx context.Context, txHash, address string, quantity int64) (bool, error) {
	result, err := pg.RawDB().ExecContext(ctx, `
	insert into mint_payments (payment_tx_hash, address, quantity, created_at)
	values ($1, $2, $3, $4)
	on conflict (payment_tx_hash) do nothing`,
		txHash, address, quantity, time.Now())
	if err != nil {
		return false, err
	}
	count, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ReleasePayment frees a reserved payment transaction after a failed mint
func (pg *Postgres) ReleasePayment(ctx context.Context, txHash string) error {
	_, err := pg.RawDB().ExecContext(ctx,
		`delete from mint_payments where payment_tx_hash = $1 and mint_tx_hash is null`, txHash)
	return err
}

// FinalizePayment stores the mint result against the reserved payment
func (pg *Postgres) FinalizePayment(ctx context.Context, txHash, mintTxHash string) error {
	_, err := pg.RawDB().ExecContext(ctx,
		`update mint_payments set mint_tx_hash = $2 where payment_tx_hash = $1`, txHash, mintTxHash)
	return err
}

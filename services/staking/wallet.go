package staking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAddress - the supplied wallet address is malformed
	ErrInvalidAddress = errors.New("invalid wallet address")
	// ErrNotRegistered - the wallet has no staking record
	ErrNotRegistered = errors.New("wallet not registered")
	// ErrNotEligible - the wallet has not reached the points target
	ErrNotEligible = errors.New("wallet not eligible")
	// ErrAlreadyClaimed - the wallet has already claimed its reward
	ErrAlreadyClaimed = errors.New("wallet already claimed")
)

// WalletRecord is the staking state for a single wallet, keyed by normalized address
type WalletRecord struct {
	Address         string          `db:"address"`
	SnapshotBalance decimal.Decimal `db:"snapshot_balance"`
	NFTCount        int64           `db:"nft_count"`
	AccruedPoints   decimal.Decimal `db:"accrued_points"`
	LastUpdate      time.Time       `db:"last_update"`
	Eligible        bool            `db:"eligible"`
	Claimed         bool            `db:"claimed"`
	ClaimTxHash     *string         `db:"claim_tx_hash"`
	ClaimTokenIDs   *string         `db:"claim_token_ids"`
	CreatedAt       time.Time       `db:"created_at"`
	ClaimedAt       pq.NullTime     `db:"claimed_at"`
}

// TokenIDs splits the stored comma-joined claim token ids
func (rec *WalletRecord) TokenIDs() []string {
	if rec.ClaimTokenIDs == nil || *rec.ClaimTokenIDs == "" {
		return []string{}
	}
	return strings.Split(*rec.ClaimTokenIDs, ",")
}

// NormalizeAddress lower-cases a wallet address after validating it is a hex address
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(address), nil
}

// Address is a wallet address input taken from a query or url parameter
type Address string

// Decode normalizes the raw input into the address
func (a *Address) Decode(ctx context.Context, input []byte) error {
	normalized, err := NormalizeAddress(string(input))
	if err != nil {
		return err
	}
	*a = Address(normalized)
	return nil
}

// Validate checks that a decoded address is present
func (a *Address) Validate(ctx context.Context) error {
	if *a == "" {
		return ErrInvalidAddress
	}
	return nil
}

func (a Address) String() string {
	return string(a)
}

package staking

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redpepe-labs/stakemint/libs/clients/chain"
	errorutils "github.com/redpepe-labs/stakemint/libs/errors"
	"github.com/redpepe-labs/stakemint/libs/logging"
	"github.com/shopspring/decimal"
)

var (
	// countClaimsTotal counts claim attempts broken down by outcome
	countClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_claims_total",
			Help: "count of claim attempts ( since last start ) broken down by outcome",
		},
		[]string{"outcome"},
	)

	// countAccrualWalletsTotal counts wallets seen by the accrual pass broken down by result
	countAccrualWalletsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staking_accrual_wallets_total",
			Help: "count of wallets processed by accrual passes ( since last start ) broken down by result",
		},
		[]string{"result"},
	)

	// eligibleWalletsGauge holds the eligible wallet count seen by the last accrual pass
	eligibleWalletsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "staking_eligible_wallets",
			Help: "eligible unclaimed wallet count as of the last accrual pass",
		},
	)
)

func init() {
	prometheus.MustRegister(countClaimsTotal, countAccrualWalletsTotal, eligibleWalletsGauge)
}

// Service contains datastore and chain client connections
type Service struct {
	Datastore   Datastore
	RoDatastore ReadOnlyDatastore
	chain       chain.Client
	cfg         Config
}

// InitService creates a service using the passed datastore and chain client
func InitService(ctx context.Context, datastore Datastore, roDatastore ReadOnlyDatastore, chainClient chain.Client, cfg Config) (*Service, error) {
	service := &Service{
		Datastore:   datastore,
		RoDatastore: roDatastore,
		chain:       chainClient,
		cfg:         cfg,
	}
	return service, nil
}

// ReadableDatastore returns a read-only datastore if available, otherwise a normal datastore
func (service *Service) ReadableDatastore() ReadOnlyDatastore {
	if service.RoDatastore != nil {
		return service.RoDatastore
	}
	return service.Datastore
}

// RegistrationResult is the outcome of registering a wallet
type RegistrationResult struct {
	Address  string          `json:"address"`
	Balance  decimal.Decimal `json:"balance"`
	NFTCount int64           `json:"nftCount"`
}

// RegisterWallet snapshots the wallet's current holdings and creates or resets
// its staking record with zeroed points
func (service *Service) RegisterWallet(ctx context.Context, address string) (*RegistrationResult, error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	balance, err := service.chain.TokenBalance(ctx, address)
	if err != nil {
		return nil, errorutils.Wrap(err, "error reading token balance")
	}
	nftCount, err := service.chain.NFTCount(ctx, address)
	if err != nil {
		return nil, errorutils.Wrap(err, "error reading nft count")
	}

	rec, err := service.Datastore.UpsertSnapshot(ctx, address, balance, nftCount, time.Now())
	if err != nil {
		return nil, errorutils.Wrap(err, "error persisting wallet snapshot")
	}
	if rec != nil && rec.Claimed {
		return nil, ErrAlreadyClaimed
	}

	return &RegistrationResult{
		Address:  address,
		Balance:  balance,
		NFTCount: nftCount,
	}, nil
}

// WalletStatus is the client-facing view of a wallet's staking progress
type WalletStatus struct {
	Address         string          `json:"address"`
	Eligible        bool            `json:"eligible"`
	Claimed         bool            `json:"claimed"`
	TxHash          *string         `json:"txHash,omitempty"`
	TokenIDs        []string        `json:"tokenIds,omitempty"`
	AccruedPoints   decimal.Decimal `json:"accruedPoints"`
	ProjectedPoints decimal.Decimal `json:"projectedPoints"`
	LastUpdate      *time.Time      `json:"lastUpdate,omitempty"`
}

// GetWalletStatus returns the staking progress for a wallet. An unregistered
// wallet gets all-false zero defaults, not an error.
func (service *Service) GetWalletStatus(ctx context.Context, address string) (*WalletStatus, error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	rec, err := service.ReadableDatastore().GetWallet(ctx, address)
	if err != nil {
		return nil, errorutils.Wrap(err, "error fetching wallet record")
	}
	if rec == nil {
		return &WalletStatus{
			Address:         address,
			AccruedPoints:   decimal.Zero,
			ProjectedPoints: decimal.Zero,
			TokenIDs:        []string{},
		}, nil
	}

	lastUpdate := rec.LastUpdate
	return &WalletStatus{
		Address:         address,
		Eligible:        rec.Eligible,
		Claimed:         rec.Claimed,
		TxHash:          rec.ClaimTxHash,
		TokenIDs:        rec.TokenIDs(),
		AccruedPoints:   rec.AccruedPoints,
		ProjectedPoints: service.cfg.ProjectPoints(*rec, time.Now()),
		LastUpdate:      &lastUpdate,
	}, nil
}

// Claim mints the free NFT for an eligible wallet exactly once
func (service *Service) Claim(ctx context.Context, address string) (*chain.MintResult, error) {
	logger := logging.Logger(ctx, "staking.Claim")

	address, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	result, err := service.Datastore.ClaimWallet(ctx, address, func(ctx context.Context) (*chain.MintResult, error) {
		return service.chain.Mint(ctx, address, 1)
	})
	if err != nil {
		countClaimsTotal.With(prometheus.Labels{"outcome": claimOutcome(err)}).Inc()
		return nil, err
	}

	countClaimsTotal.With(prometheus.Labels{"outcome": "success"}).Inc()
	logger.Info().
		Str("address", address).
		Str("tx", result.TxHash).
		Msg("claim minted")
	return result, nil
}

func claimOutcome(err error) string {
	switch err {
	case ErrNotRegistered:
		return "not_registered"
	case ErrNotEligible:
		return "not_eligible"
	case ErrAlreadyClaimed:
		return "already_claimed"
	default:
		return "error"
	}
}

// ForceEligible marks a wallet eligible at the points target (admin override)
func (service *Service) ForceEligible(ctx context.Context, address string) error {
	address, err := NormalizeAddress(address)
	if err != nil {
		return err
	}

	rec, err := service.Datastore.GetWallet(ctx, address)
	if err != nil {
		return errorutils.Wrap(err, "error fetching wallet record")
	}
	if rec == nil {
		return ErrNotRegistered
	}
	if rec.Claimed {
		return ErrAlreadyClaimed
	}

	return service.Datastore.ForceEligible(ctx, address, service.cfg.TargetPoints, time.Now())
}

// AccrualSummary reports the outcome of one accrual pass
type AccrualSummary struct {
	Processed     int `json:"processed"`
	Updated       int `json:"updated"`
	EligibleCount int `json:"eligibleCount"`
	Failed        int `json:"failed"`
}

// RunAccrualPass recomputes points for every registered wallet, sequentially to
// bound load on the rpc endpoint. A failure on one wallet never aborts the
// pass; it is counted and the pass continues.
func (service *Service) RunAccrualPass(ctx context.Context) (*AccrualSummary, error) {
	logger := logging.Logger(ctx, "staking.RunAccrualPass")

	addresses, err := service.Datastore.ListAddresses(ctx)
	if err != nil {
		return nil, errorutils.Wrap(err, "error listing wallets for accrual pass")
	}

	summary := &AccrualSummary{}
	for _, address := range addresses {
		summary.Processed++
		eligible, updated, err := service.accrueWallet(ctx, address)
		if err != nil {
			summary.Failed++
			countAccrualWalletsTotal.With(prometheus.Labels{"result": "failed"}).Inc()
			logger.Warn().Err(err).Str("address", address).Msg("accrual failed for wallet")
			continue
		}
		if updated {
			summary.Updated++
		}
		if eligible {
			summary.EligibleCount++
		}
		countAccrualWalletsTotal.With(prometheus.Labels{"result": "ok"}).Inc()
	}

	eligibleWalletsGauge.Set(float64(summary.EligibleCount))
	logger.Info().
		Int("processed", summary.Processed).
		Int("updated", summary.Updated).
		Int("eligible", summary.EligibleCount).
		Int("failed", summary.Failed).
		Msg("accrual pass complete")
	return summary, nil
}

func (service *Service) accrueWallet(ctx context.Context, address string) (eligible bool, updated bool, err error) {
	rec, err := service.Datastore.GetWallet(ctx, address)
	if err != nil {
		return false, false, err
	}
	if rec == nil || rec.Claimed {
		// claim is terminal; nothing to accrue
		return false, false, nil
	}

	balance, err := service.chain.TokenBalance(ctx, address)
	if err != nil {
		return false, false, errorutils.Wrap(err, "error reading token balance")
	}
	nftCount, err := service.chain.NFTCount(ctx, address)
	if err != nil {
		return false, false, errorutils.Wrap(err, "error reading nft count")
	}

	next := service.cfg.Accrue(*rec, balance, nftCount, time.Now())
	if next.LastUpdate.Equal(rec.LastUpdate) {
		// throttled, under an hour since the last accrual
		return rec.Eligible, false, nil
	}

	applied, err := service.Datastore.UpdateAccrual(ctx, &next)
	if err != nil {
		return false, false, errorutils.Wrap(err, "error persisting accrual")
	}
	if !applied {
		// wallet claimed between read and write; the claim wins
		return false, false, nil
	}
	return next.Eligible, true, nil
}

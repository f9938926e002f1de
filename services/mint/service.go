package mint

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redpepe-labs/stakemint/libs/clients/chain"
	errorutils "github.com/redpepe-labs/stakemint/libs/errors"
	"github.com/redpepe-labs/stakemint/libs/logging"
	"github.com/redpepe-labs/stakemint/services/staking"
	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidQuantity - the requested mint quantity is out of range
	ErrInvalidQuantity = errors.New("invalid mint quantity")
	// ErrPaymentAlreadyUsed - the referenced payment transaction already paid for a mint
	ErrPaymentAlreadyUsed = errors.New("payment transaction already used")

	countMintsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "purchase_mints_total",
			Help: "count of direct-purchase mint attempts ( since last start ) broken down by outcome",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(countMintsTotal)
}

// Config holds the purchase pricing rules
type Config struct {
	// PricePerUnit - expected payment per minted token
	PricePerUnit decimal.Decimal
	// MaxQuantity - largest quantity a single purchase may mint
	MaxQuantity int64
}

// Service contains datastore and chain client connections
type Service struct {
	Datastore Datastore
	chain     chain.Client
	cfg       Config
}

// InitService creates a service using the passed datastore and chain client
func InitService(ctx context.Context, datastore Datastore, chainClient chain.Client, cfg Config) (*Service, error) {
	return &Service{
		Datastore: datastore,
		chain:     chainClient,
		cfg:       cfg,
	}, nil
}

// Purchase verifies the referenced payment and mints the purchased quantity.
// Each payment transaction can pay for at most one mint.
func (service *Service) Purchase(ctx context.Context, address string, quantity int64, method chain.PaymentMethod, paymentTxHash string) (*chain.MintResult, error) {
	logger := logging.Logger(ctx, "mint.Purchase")

	address, err := staking.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if quantity < 1 || quantity > service.cfg.MaxQuantity {
		return nil, ErrInvalidQuantity
	}

	expected := service.cfg.PricePerUnit.Mul(decimal.NewFromInt(quantity))
	if err := service.chain.VerifyPayment(ctx, address, paymentTxHash, expected, method); err != nil {
		countMintsTotal.With(prometheus.Labels{"outcome": "payment_rejected"}).Inc()
		return nil, err
	}

	// reserve the payment before minting so a concurrent reuse of the same
	// payment transaction loses the conditional insert
	reserved, err := service.Datastore.RecordPayment(ctx, paymentTxHash, address, quantity)
	if err != nil {
		return nil, errorutils.Wrap(err, "error reserving payment")
	}
	if !reserved {
		countMintsTotal.With(prometheus.Labels{"outcome": "payment_reused"}).Inc()
		return nil, ErrPaymentAlreadyUsed
	}

	result, err := service.chain.Mint(ctx, address, quantity)
	if err != nil {
		// free the payment so the buyer can retry
		if relErr := service.Datastore.ReleasePayment(ctx, paymentTxHash); relErr != nil {
			logger.Error().Err(relErr).Str("payment_tx", paymentTxHash).Msg("failed to release payment reservation")
		}
		countMintsTotal.With(prometheus.Labels{"outcome": "mint_failed"}).Inc()
		return nil, err
	}

	if err := service.Datastore.FinalizePayment(ctx, paymentTxHash, result.TxHash); err != nil {
		// mint succeeded; log and return the result anyway
		logger.Error().Err(err).Str("payment_tx", paymentTxHash).Msg("failed to finalize payment record")
	}

	countMintsTotal.With(prometheus.Labels{"outcome": "success"}).Inc()
	logger.Info().
		Str("address", address).
		Int64("quantity", quantity).
		Str("tx", result.TxHash).
		Msg("purchase minted")
	return result, nil
}

package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	errorutils "github.com/redpepe-labs/stakemint/libs/errors"
	"github.com/redpepe-labs/stakemint/libs/logging"
	"github.com/shopspring/decimal"
)

const (
	// erc20ABI is the minimal ABI needed to read token balances
	erc20ABI = `[{"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`
	// mintABI covers the owner-only mint entrypoint on the drop contract
	mintABI = `[{"inputs":[{"name":"to","type":"address"},{"name":"quantity","type":"uint256"}],"name":"adminMint","outputs":[],"stateMutability":"nonpayable","type":"function"}]`

	tokenDecimals = 18
)

var (
	// ErrPaymentNotFound - the referenced payment transaction does not exist
	ErrPaymentNotFound = errors.New("payment transaction not found")
	// ErrPaymentUnconfirmed - the referenced payment transaction is still pending
	ErrPaymentUnconfirmed = errors.New("payment transaction not yet confirmed")
	// ErrPaymentInvalid - the referenced payment does not match the expected transfer
	ErrPaymentInvalid = errors.New("payment transaction does not match expected transfer")
	// ErrTxReverted - a submitted transaction was mined but reverted
	ErrTxReverted = errors.New("transaction reverted")

	transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// PaymentMethod identifies how a direct purchase was paid for
type PaymentMethod string

const (
	// PaymentNative - payment via a native coin transfer to the treasury
	PaymentNative PaymentMethod = "avax"
	// PaymentERC20 - payment via an ERC-20 transfer to the treasury
	PaymentERC20 PaymentMethod = "erc20"
)

// MintResult holds the confirmed outcome of a mint transaction
type MintResult struct {
	TxHash   string   `json:"txHash"`
	TokenIDs []string `json:"tokenIds"`
}

// Client abstracts the on-chain collaborator for snapshot reads, minting and payment checks
type Client interface {
	// TokenBalance reads the current token balance for an address
	TokenBalance(ctx context.Context, address string) (decimal.Decimal, error)
	// NFTCount reads the companion NFT count for an address
	NFTCount(ctx context.Context, address string) (int64, error)
	// Mint submits a mint transaction and waits for confirmation
	Mint(ctx context.Context, to string, quantity int64) (*MintResult, error)
	// VerifyPayment checks that the referenced transaction pays the treasury the expected amount
	VerifyPayment(ctx context.Context, payer, txHash string, expected decimal.Decimal, method PaymentMethod) error
}

// Config holds the rpc endpoint, contract addresses and signing credential
type Config struct {
	RPCURL          string
	ChainID         int64
	TokenAddress    string
	NFTAddress      string
	MintAddress     string
	TreasuryAddress string
	MintPrivateKey  string
	ConfirmTimeout  time.Duration
}

type client struct {
	ec       *ethclient.Client
	cfg      Config
	chainID  *big.Int
	token    common.Address
	nft      common.Address
	mint     common.Address
	treasury common.Address
	balABI   abi.ABI
	mintABI  abi.ABI
	contract *bind.BoundContract
	opts     *bind.TransactOpts
}

// New dials the rpc endpoint and prepares contract bindings
func New(cfg Config) (Client, error) {
	ec, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to dial rpc endpoint")
	}

	balABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to parse balance abi")
	}
	mABI, err := abi.JSON(strings.NewReader(mintABI))
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to parse mint abi")
	}

	c := &client{
		ec:       ec,
		cfg:      cfg,
		chainID:  big.NewInt(cfg.ChainID),
		token:    common.HexToAddress(cfg.TokenAddress),
		nft:      common.HexToAddress(cfg.NFTAddress),
		mint:     common.HexToAddress(cfg.MintAddress),
		treasury: common.HexToAddress(cfg.TreasuryAddress),
		balABI:   balABI,
		mintABI:  mABI,
	}
	c.contract = bind.NewBoundContract(c.mint, mABI, ec, ec, ec)

	if cfg.MintPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.MintPrivateKey, "0x"))
		if err != nil {
			return nil, errorutils.Wrap(err, "invalid mint private key")
		}
		c.opts, err = bind.NewKeyedTransactorWithChainID(key, c.chainID)
		if err != nil {
			return nil, errorutils.Wrap(err, "failed to create transactor")
		}
	}

	return c, nil
}

func (c *client) balanceOf(ctx context.Context, contract, owner common.Address) (*big.Int, error) {
	data, err := c.balABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to pack balanceOf call")
	}
	out, err := c.ec.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, errorutils.Wrap(err, "balanceOf call failed")
	}
	res, err := c.balABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to unpack balanceOf result")
	}
	bal, ok := res[0].(*big.Int)
	if !ok {
		return nil, errors.New("unexpected balanceOf result type")
	}
	return bal, nil
}

// TokenBalance reads the current token balance for an address
func (c *client) TokenBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	raw, err := c.balanceOf(ctx, c.token, common.HexToAddress(address))
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromBigInt(raw, -tokenDecimals), nil
}

// NFTCount reads the companion NFT count for an address
func (c *client) NFTCount(ctx context.Context, address string) (int64, error) {
	raw, err := c.balanceOf(ctx, c.nft, common.HexToAddress(address))
	if err != nil {
		return 0, err
	}
	return raw.Int64(), nil
}

// Mint submits an adminMint transaction and waits for it to be mined
func (c *client) Mint(ctx context.Context, to string, quantity int64) (*MintResult, error) {
	logger := logging.Logger(ctx, "chain.Mint")

	if c.opts == nil {
		return nil, errors.New("chain client has no signing credential")
	}

	recipient := common.HexToAddress(to)

	opts := *c.opts
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, "adminMint", recipient, big.NewInt(quantity))
	if err != nil {
		return nil, errorutils.Wrap(err, "failed to submit mint transaction")
	}

	waitCtx := ctx
	if c.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
		defer cancel()
	}

	receipt, err := bind.WaitMined(waitCtx, c.ec, tx)
	if err != nil {
		return nil, errorutils.Wrap(err, "timed out waiting for mint confirmation")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, ErrTxReverted
	}

	tokenIDs := ExtractMintedTokenIDs(receipt.Logs, c.mint, recipient)
	logger.Info().
		Str("tx", tx.Hash().Hex()).
		Strs("token_ids", tokenIDs).
		Msg("mint confirmed")

	return &MintResult{
		TxHash:   tx.Hash().Hex(),
		TokenIDs: tokenIDs,
	}, nil
}

// ExtractMintedTokenIDs collects the token ids of ERC-721 Transfer events emitted by
// the given contract to the given recipient. Logs that do not parse as such
// transfers are skipped.
func ExtractMintedTokenIDs(logs []*types.Log, contract, to common.Address) []string {
	tokenIDs := []string{}
	for _, l := range logs {
		if l == nil || l.Address != contract {
			continue
		}
		// ERC-721 Transfer carries the token id as a third indexed topic
		if len(l.Topics) != 4 || l.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != to {
			continue
		}
		tokenIDs = append(tokenIDs, new(big.Int).SetBytes(l.Topics[3].Bytes()).String())
	}
	return tokenIDs
}

// VerifyPayment checks that the referenced transaction pays the treasury the expected amount
func (c *client) VerifyPayment(ctx context.Context, payer, txHash string, expected decimal.Decimal, method PaymentMethod) error {
	hash := common.HexToHash(txHash)
	from := common.HexToAddress(payer)
	expectedWei := expected.Shift(tokenDecimals).BigInt()

	tx, pending, err := c.ec.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return ErrPaymentNotFound
		}
		return errorutils.Wrap(err, "failed to fetch payment transaction")
	}
	if pending {
		return ErrPaymentUnconfirmed
	}

	receipt, err := c.ec.TransactionReceipt(ctx, hash)
	if err != nil {
		return errorutils.Wrap(err, "failed to fetch payment receipt")
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%w: payment transaction reverted", ErrPaymentInvalid)
	}

	switch method {
	case PaymentNative:
		sender, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
		if err != nil {
			return errorutils.Wrap(err, "failed to recover payment sender")
		}
		if sender != from {
			return fmt.Errorf("%w: sender mismatch", ErrPaymentInvalid)
		}
		if tx.To() == nil || *tx.To() != c.treasury {
			return fmt.Errorf("%w: destination mismatch", ErrPaymentInvalid)
		}
		if tx.Value().Cmp(expectedWei) < 0 {
			return fmt.Errorf("%w: insufficient amount", ErrPaymentInvalid)
		}
		return nil
	case PaymentERC20:
		if VerifyERC20Transfer(receipt.Logs, c.token, from, c.treasury, expectedWei) {
			return nil
		}
		return fmt.Errorf("%w: no matching token transfer", ErrPaymentInvalid)
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrPaymentInvalid, method)
	}
}

// VerifyERC20Transfer scans receipt logs for a Transfer of at least the expected
// amount from payer to treasury on the given token contract.
func VerifyERC20Transfer(logs []*types.Log, token, from, to common.Address, expected *big.Int) bool {
	for _, l := range logs {
		if l == nil || l.Address != token {
			continue
		}
		// ERC-20 Transfer carries the amount in the data segment
		if len(l.Topics) != 3 || l.Topics[0] != transferTopic {
			continue
		}
		if common.BytesToAddress(l.Topics[1].Bytes()) != from {
			continue
		}
		if common.BytesToAddress(l.Topics[2].Bytes()) != to {
			continue
		}
		if new(big.Int).SetBytes(l.Data).Cmp(expected) >= 0 {
			return true
		}
	}
	return false
}

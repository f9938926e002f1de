package mint

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/redpepe-labs/stakemint/libs/clients/chain"
	"github.com/redpepe-labs/stakemint/libs/datastore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

const testAddress = "0x00000000000000000000000000000000000000aa"

type mockChainClient struct {
	verifyErr    error
	mintErr      error
	mintCalls    int
	lastExpected decimal.Decimal
}

func (m *mockChainClient) TokenBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (m *mockChainClient) NFTCount(ctx context.Context, address string) (int64, error) {
	return 0, nil
}

func (m *mockChainClient) Mint(ctx context.Context, to string, quantity int64) (*chain.MintResult, error) {
	if m.mintErr != nil {
		return nil, m.mintErr
	}
	m.mintCalls++
	return &chain.MintResult{TxHash: "0xminted", TokenIDs: []string{"7"}}, nil
}

func (m *mockChainClient) VerifyPayment(ctx context.Context, payer, txHash string, expected decimal.Decimal, method chain.PaymentMethod) error {
	m.lastExpected = expected
	return m.verifyErr
}

type paymentRecord struct {
	address    string
	quantity   int64
	mintTxHash string
}

// mockDatastore keeps payment reservations in memory with the same conditional
// insert semantics as the postgres implementation.
type mockDatastore struct {
	datastore.Datastore
	mu       sync.Mutex
	payments map[string]paymentRecord
}

func newMockDatastore() *mockDatastore {
	return &mockDatastore{payments: map[string]paymentRecord{}}
}

func (m *mockDatastore) RecordPayment(ctx context.Context, txHash, address string, quantity int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payments[txHash]; ok {
		return false, nil
	}
	m.payments[txHash] = paymentRecord{address: address, quantity: quantity}
	return true, nil
}

func (m *mockDatastore) ReleasePayment(ctx context.Context, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.payments[txHash]; ok && rec.mintTxHash == "" {
		delete(m.payments, txHash)
	}
	return nil
}

func (m *mockDatastore) FinalizePayment(ctx context.Context, txHash, mintTxHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.payments[txHash]
	rec.mintTxHash = mintTxHash
	m.payments[txHash] = rec
	return nil
}

type MintServiceTestSuite struct {
	suite.Suite
	ds      *mockDatastore
	chain   *mockChainClient
	service *Service
}

func TestMintServiceTestSuite(t *testing.T) {
	suite.Run(t, new(MintServiceTestSuite))
}

func (suite *MintServiceTestSuite) SetupTest() {
	suite.ds = newMockDatastore()
	suite.chain = &mockChainClient{}
	service, err := InitService(context.Background(), suite.ds, suite.chain, Config{
		PricePerUnit: decimal.RequireFromString("1.5"),
		MaxQuantity:  10,
	})
	suite.Require().NoError(err)
	suite.service = service
}

func (suite *MintServiceTestSuite) TestPurchase() {
	result, err := suite.service.Purchase(context.Background(), testAddress, 3, chain.PaymentNative, "0xpayment")
	suite.Require().NoError(err)
	suite.Require().Equal("0xminted", result.TxHash)

	// expected payment is price times quantity
	suite.Require().True(suite.chain.lastExpected.Equal(decimal.RequireFromString("4.5")))

	rec := suite.ds.payments["0xpayment"]
	suite.Require().Equal("0xminted", rec.mintTxHash)
	suite.Require().Equal(int64(3), rec.quantity)
}

func (suite *MintServiceTestSuite) TestPurchaseInvalidQuantity() {
	_, err := suite.service.Purchase(context.Background(), testAddress, 0, chain.PaymentNative, "0xpayment")
	suite.Require().ErrorIs(err, ErrInvalidQuantity)

	_, err = suite.service.Purchase(context.Background(), testAddress, 11, chain.PaymentNative, "0xpayment")
	suite.Require().ErrorIs(err, ErrInvalidQuantity)
}

func (suite *MintServiceTestSuite) TestPurchaseInvalidAddress() {
	_, err := suite.service.Purchase(context.Background(), "not-an-address", 1, chain.PaymentNative, "0xpayment")
	suite.Require().Error(err)
	suite.Require().Equal(0, suite.chain.mintCalls)
}

func (suite *MintServiceTestSuite) TestPurchasePaymentRejected() {
	suite.chain.verifyErr = chain.ErrPaymentInvalid

	_, err := suite.service.Purchase(context.Background(), testAddress, 1, chain.PaymentNative, "0xpayment")
	suite.Require().ErrorIs(err, chain.ErrPaymentInvalid)
	suite.Require().Equal(0, suite.chain.mintCalls)
	suite.Require().Empty(suite.ds.payments)
}

func (suite *MintServiceTestSuite) TestPurchasePaymentReplayRejected() {
	_, err := suite.service.Purchase(context.Background(), testAddress, 1, chain.PaymentNative, "0xpayment")
	suite.Require().NoError(err)

	_, err = suite.service.Purchase(context.Background(), testAddress, 1, chain.PaymentNative, "0xpayment")
	suite.Require().ErrorIs(err, ErrPaymentAlreadyUsed)
	suite.Require().Equal(1, suite.chain.mintCalls)
}

func (suite *MintServiceTestSuite) TestPurchaseMintFailureReleasesPayment() {
	suite.chain.mintErr = errors.New("rpc unavailable")

	_, err := suite.service.Purchase(context.Background(), testAddress, 1, chain.PaymentNative, "0xpayment")
	suite.Require().Error(err)
	suite.Require().Empty(suite.ds.payments)

	// the buyer can retry with the same payment once the mint path recovers
	suite.chain.mintErr = nil
	_, err = suite.service.Purchase(context.Background(), testAddress, 1, chain.PaymentNative, "0xpayment")
	suite.Require().NoError(err)
}

package staking

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/redpepe-labs/stakemint/libs/clients/chain"
	"github.com/redpepe-labs/stakemint/libs/datastore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type PostgresTestSuite struct {
	suite.Suite
	pg   *Postgres
	mock sqlmock.Sqlmock
}

func TestPostgresTestSuite(t *testing.T) {
	suite.Run(t, new(PostgresTestSuite))
}

func (suite *PostgresTestSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	suite.Require().NoError(err)
	suite.mock = mock
	suite.pg = &Postgres{datastore.Postgres{DB: sqlx.NewDb(db, "postgres")}}
}

func (suite *PostgresTestSuite) TearDownTest() {
	suite.Require().NoError(suite.mock.ExpectationsWereMet())
	suite.mock.ExpectClose()
	suite.Require().NoError(suite.pg.RawDB().Close())
}

func walletColumns() []string {
	return []string{
		"address", "snapshot_balance", "nft_count", "accrued_points",
		"last_update", "eligible", "claimed", "claim_tx_hash",
		"claim_token_ids", "created_at", "claimed_at",
	}
}

func walletRow(address string, eligible, claimed bool) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(walletColumns()).
		AddRow(address, "100000", 3, "6942", now, eligible, claimed, nil, nil, now, nil)
}

func (suite *PostgresTestSuite) TestGetWalletUnregistered() {
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select * from staking_wallets where address = $1`)).
		WithArgs(testAddress).
		WillReturnRows(sqlmock.NewRows(walletColumns()))

	rec, err := suite.pg.GetWallet(context.Background(), testAddress)
	suite.Require().NoError(err)
	suite.Require().Nil(rec)
}

func (suite *PostgresTestSuite) TestGetWallet() {
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select * from staking_wallets where address = $1`)).
		WithArgs(testAddress).
		WillReturnRows(walletRow(testAddress, true, false))

	rec, err := suite.pg.GetWallet(context.Background(), testAddress)
	suite.Require().NoError(err)
	suite.Require().NotNil(rec)
	suite.Require().Equal(testAddress, rec.Address)
	suite.Require().True(rec.Eligible)
	suite.Require().True(rec.SnapshotBalance.Equal(decimal.RequireFromString("100000")))
}

func (suite *PostgresTestSuite) TestUpsertSnapshot() {
	suite.mock.ExpectQuery(regexp.QuoteMeta(`insert into staking_wallets`)).
		WithArgs(testAddress, sqlmock.AnyArg(), int64(3), sqlmock.AnyArg()).
		WillReturnRows(walletRow(testAddress, false, false))

	rec, err := suite.pg.UpsertSnapshot(context.Background(), testAddress,
		decimal.RequireFromString("100000"), 3, time.Now())
	suite.Require().NoError(err)
	suite.Require().NotNil(rec)
	suite.Require().False(rec.Claimed)
}

func (suite *PostgresTestSuite) TestUpsertSnapshotClaimedFallsBackToRead() {
	// the conditional upsert does not apply to a claimed wallet
	suite.mock.ExpectQuery(regexp.QuoteMeta(`insert into staking_wallets`)).
		WithArgs(testAddress, sqlmock.AnyArg(), int64(0), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(walletColumns()))
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select * from staking_wallets where address = $1`)).
		WithArgs(testAddress).
		WillReturnRows(walletRow(testAddress, true, true))

	rec, err := suite.pg.UpsertSnapshot(context.Background(), testAddress,
		decimal.RequireFromString("50"), 0, time.Now())
	suite.Require().NoError(err)
	suite.Require().NotNil(rec)
	suite.Require().True(rec.Claimed)
}

func (suite *PostgresTestSuite) TestUpdateAccrualApplied() {
	suite.mock.ExpectExec(regexp.QuoteMeta(`update staking_wallets`)).
		WithArgs(testAddress, sqlmock.AnyArg(), int64(3), sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := suite.pg.UpdateAccrual(context.Background(), &WalletRecord{
		Address:       testAddress,
		AccruedPoints: decimal.RequireFromString("6942"),
		NFTCount:      3,
		LastUpdate:    time.Now(),
		Eligible:      true,
	})
	suite.Require().NoError(err)
	suite.Require().True(applied)
}

func (suite *PostgresTestSuite) TestUpdateAccrualLosesToClaim() {
	suite.mock.ExpectExec(regexp.QuoteMeta(`update staking_wallets`)).
		WithArgs(testAddress, sqlmock.AnyArg(), int64(0), sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := suite.pg.UpdateAccrual(context.Background(), &WalletRecord{
		Address:       testAddress,
		AccruedPoints: decimal.Zero,
		LastUpdate:    time.Now(),
	})
	suite.Require().NoError(err)
	suite.Require().False(applied)
}

func (suite *PostgresTestSuite) TestListAddresses() {
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select address from staking_wallets order by address`)).
		WillReturnRows(sqlmock.NewRows([]string{"address"}).
			AddRow(testAddress).
			AddRow(otherTestAddress))

	addresses, err := suite.pg.ListAddresses(context.Background())
	suite.Require().NoError(err)
	suite.Require().Equal([]string{testAddress, otherTestAddress}, addresses)
}

func (suite *PostgresTestSuite) TestClaimWallet() {
	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select * from staking_wallets where address = $1 for update`)).
		WithArgs(testAddress).
		WillReturnRows(walletRow(testAddress, true, false))
	suite.mock.ExpectExec(regexp.QuoteMeta(`update staking_wallets`)).
		WithArgs(testAddress, "0xminted", "42,43", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	suite.mock.ExpectCommit()

	result, err := suite.pg.ClaimWallet(context.Background(), testAddress,
		func(ctx context.Context) (*chain.MintResult, error) {
			return &chain.MintResult{TxHash: "0xminted", TokenIDs: []string{"42", "43"}}, nil
		})
	suite.Require().NoError(err)
	suite.Require().Equal("0xminted", result.TxHash)
}

func (suite *PostgresTestSuite) TestClaimWalletNotRegistered() {
	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select * from staking_wallets where address = $1 for update`)).
		WithArgs(testAddress).
		WillReturnRows(sqlmock.NewRows(walletColumns()))
	suite.mock.ExpectRollback()

	_, err := suite.pg.ClaimWallet(context.Background(), testAddress, nil)
	suite.Require().ErrorIs(err, ErrNotRegistered)
}

func (suite *PostgresTestSuite) TestClaimWalletNotEligible() {
	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select * from staking_wallets where address = $1 for update`)).
		WithArgs(testAddress).
		WillReturnRows(walletRow(testAddress, false, false))
	suite.mock.ExpectRollback()

	_, err := suite.pg.ClaimWallet(context.Background(), testAddress, nil)
	suite.Require().ErrorIs(err, ErrNotEligible)
}

func (suite *PostgresTestSuite) TestClaimWalletAlreadyClaimed() {
	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select * from staking_wallets where address = $1 for update`)).
		WithArgs(testAddress).
		WillReturnRows(walletRow(testAddress, true, true))
	suite.mock.ExpectRollback()

	_, err := suite.pg.ClaimWallet(context.Background(), testAddress, nil)
	suite.Require().ErrorIs(err, ErrAlreadyClaimed)
}

func (suite *PostgresTestSuite) TestClaimWalletMintFailureRollsBack() {
	suite.mock.ExpectBegin()
	suite.mock.ExpectQuery(regexp.QuoteMeta(`select * from staking_wallets where address = $1 for update`)).
		WithArgs(testAddress).
		WillReturnRows(walletRow(testAddress, true, false))
	suite.mock.ExpectRollback()

	mintErr := errors.New("rpc unavailable")
	_, err := suite.pg.ClaimWallet(context.Background(), testAddress,
		func(ctx context.Context) (*chain.MintResult, error) {
			return nil, mintErr
		})
	suite.Require().ErrorIs(err, mintErr)
}

func (suite *PostgresTestSuite) TestForceEligibleUnregistered() {
	suite.mock.ExpectExec(regexp.QuoteMeta(`update staking_wallets`)).
		WithArgs(testAddress, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := suite.pg.ForceEligible(context.Background(), testAddress,
		decimal.NewFromInt(6942), time.Now())
	suite.Require().ErrorIs(err, ErrNotRegistered)
}

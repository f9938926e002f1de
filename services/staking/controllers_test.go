package staking

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redpepe-labs/stakemint/libs/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type ControllersTestSuite struct {
	suite.Suite
	ds      *mockDatastore
	chain   *mockChainClient
	service *Service
}

func TestControllersTestSuite(t *testing.T) {
	suite.Run(t, new(ControllersTestSuite))
}

func (suite *ControllersTestSuite) SetupTest() {
	suite.ds = newMockDatastore()
	suite.chain = newMockChainClient()
	service, err := InitService(context.Background(), suite.ds, nil, suite.chain, DefaultConfig())
	suite.Require().NoError(err)
	suite.service = service
}

func (suite *ControllersTestSuite) postJSON(handler http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	suite.Require().NoError(err)
	req, err := http.NewRequest("POST", path, bytes.NewBuffer(payload))
	suite.Require().NoError(err)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func (suite *ControllersTestSuite) errorCode(rr *httptest.ResponseRecorder) string {
	var appErr struct {
		ErrorCode string `json:"errorCode"`
	}
	suite.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &appErr))
	return appErr.ErrorCode
}

func (suite *ControllersTestSuite) TestRegisterWallet() {
	suite.chain.balances[testAddress] = decimal.RequireFromString("100000")
	suite.chain.nftCounts[testAddress] = 2

	rr := suite.postJSON(RegisterWallet(suite.service), "/v1/staking/register",
		WalletRequest{Address: testAddress})

	suite.Require().Equal(http.StatusOK, rr.Code)

	var result RegistrationResult
	suite.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &result))
	suite.Require().Equal(testAddress, result.Address)
	suite.Require().Equal(int64(2), result.NFTCount)
}

func (suite *ControllersTestSuite) TestRegisterWalletInvalidAddress() {
	rr := suite.postJSON(RegisterWallet(suite.service), "/v1/staking/register",
		WalletRequest{Address: "not-an-address"})

	suite.Require().Equal(http.StatusBadRequest, rr.Code)
	suite.Require().Equal("invalid_input", suite.errorCode(rr))
}

func (suite *ControllersTestSuite) TestRegisterWalletMissingAddress() {
	rr := suite.postJSON(RegisterWallet(suite.service), "/v1/staking/register",
		map[string]string{})

	suite.Require().Equal(http.StatusBadRequest, rr.Code)
}

func (suite *ControllersTestSuite) TestGetWalletStatusUnregistered() {
	req, err := http.NewRequest("GET", "/v1/staking/status?address="+testAddress, nil)
	suite.Require().NoError(err)
	rr := httptest.NewRecorder()
	GetWalletStatus(suite.service).ServeHTTP(rr, req)

	suite.Require().Equal(http.StatusOK, rr.Code)

	var status WalletStatus
	suite.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &status))
	suite.Require().False(status.Eligible)
	suite.Require().False(status.Claimed)
	suite.Require().True(status.AccruedPoints.IsZero())
}

func (suite *ControllersTestSuite) TestGetWalletStatusMissingAddress() {
	req, err := http.NewRequest("GET", "/v1/staking/status", nil)
	suite.Require().NoError(err)
	rr := httptest.NewRecorder()
	GetWalletStatus(suite.service).ServeHTTP(rr, req)

	suite.Require().Equal(http.StatusBadRequest, rr.Code)
}

func (suite *ControllersTestSuite) TestClaimRewardNotEligible() {
	suite.ds.setWallet(WalletRecord{
		Address:         testAddress,
		SnapshotBalance: decimal.RequireFromString("100000"),
		AccruedPoints:   decimal.RequireFromString("100"),
	})

	rr := suite.postJSON(ClaimReward(suite.service), "/v1/staking/claim",
		WalletRequest{Address: testAddress})

	suite.Require().Equal(http.StatusForbidden, rr.Code)
	suite.Require().Equal("not_eligible", suite.errorCode(rr))
}

func (suite *ControllersTestSuite) TestClaimReward() {
	rec := WalletRecord{
		Address:         testAddress,
		SnapshotBalance: decimal.RequireFromString("100000"),
		AccruedPoints:   decimal.NewFromInt(6942),
		Eligible:        true,
	}
	suite.ds.setWallet(rec)

	rr := suite.postJSON(ClaimReward(suite.service), "/v1/staking/claim",
		WalletRequest{Address: testAddress})

	suite.Require().Equal(http.StatusOK, rr.Code)

	var result struct {
		TxHash   string   `json:"txHash"`
		TokenIDs []string `json:"tokenIds"`
	}
	suite.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &result))
	suite.Require().Equal("0xminted", result.TxHash)
	suite.Require().Equal([]string{"42"}, result.TokenIDs)

	// a second claim conflicts
	rr = suite.postJSON(ClaimReward(suite.service), "/v1/staking/claim",
		WalletRequest{Address: testAddress})
	suite.Require().Equal(http.StatusConflict, rr.Code)
	suite.Require().Equal("already_claimed", suite.errorCode(rr))
}

func (suite *ControllersTestSuite) TestCronAccrueRequiresToken() {
	router := Router(suite.service)
	handler := middleware.BearerToken(router)

	req, err := http.NewRequest("POST", "/cron/accrue", nil)
	suite.Require().NoError(err)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	suite.Require().Equal(http.StatusForbidden, rr.Code)
}

func (suite *ControllersTestSuite) TestCronAccrueAuthorized() {
	previous := middleware.TokenList
	middleware.TokenList = []string{"cron-secret"}
	defer func() { middleware.TokenList = previous }()

	suite.ds.setWallet(WalletRecord{
		Address:         testAddress,
		SnapshotBalance: decimal.RequireFromString("100000"),
		LastUpdate:      time.Now().Add(-2 * time.Hour),
	})
	suite.chain.balances[testAddress] = decimal.RequireFromString("100000")

	router := Router(suite.service)
	handler := middleware.BearerToken(router)

	req, err := http.NewRequest("POST", "/cron/accrue", nil)
	suite.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer cron-secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	suite.Require().Equal(http.StatusOK, rr.Code)

	var summary AccrualSummary
	suite.Require().NoError(json.Unmarshal(rr.Body.Bytes(), &summary))
	suite.Require().Equal(1, summary.Processed)
	suite.Require().Equal(1, summary.Updated)
}

func (suite *ControllersTestSuite) TestForceEligibleEndpoint() {
	previous := middleware.TokenList
	middleware.TokenList = []string{"admin-secret"}
	defer func() { middleware.TokenList = previous }()

	suite.ds.setWallet(WalletRecord{
		Address:         testAddress,
		SnapshotBalance: decimal.RequireFromString("100000"),
	})

	router := Router(suite.service)
	handler := middleware.BearerToken(router)

	payload, err := json.Marshal(WalletRequest{Address: testAddress})
	suite.Require().NoError(err)
	req, err := http.NewRequest("POST", "/force-eligible", bytes.NewBuffer(payload))
	suite.Require().NoError(err)
	req.Header.Set("Authorization", "Bearer admin-secret")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	suite.Require().Equal(http.StatusOK, rr.Code)

	rec, err := suite.ds.GetWallet(context.Background(), testAddress)
	suite.Require().NoError(err)
	suite.Require().True(rec.Eligible)
}

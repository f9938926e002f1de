package staking

import (
	"errors"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi"
	"github.com/redpepe-labs/stakemint/libs/clients/chain"
	"github.com/redpepe-labs/stakemint/libs/handlers"
	"github.com/redpepe-labs/stakemint/libs/inputs"
	"github.com/redpepe-labs/stakemint/libs/middleware"
	"github.com/redpepe-labs/stakemint/libs/requestutils"
)

// Router for staking endpoints
func Router(service *Service) chi.Router {
	r := chi.NewRouter()
	r.Method("POST", "/register", middleware.InstrumentHandler("RegisterWallet", RegisterWallet(service)))
	r.Method("GET", "/status", middleware.InstrumentHandler("GetWalletStatus", GetWalletStatus(service)))
	r.Method("POST", "/claim", middleware.InstrumentHandler("ClaimReward", ClaimReward(service)))
	r.Method("GET", "/cron/accrue", middleware.SimpleTokenAuthorizedOnly(middleware.InstrumentHandler("RunAccrualPass", RunAccrualPass(service))))
	r.Method("POST", "/cron/accrue", middleware.SimpleTokenAuthorizedOnly(middleware.InstrumentHandler("RunAccrualPass", RunAccrualPass(service))))
	r.Method("POST", "/force-eligible", middleware.SimpleTokenAuthorizedOnly(middleware.InstrumentHandler("ForceEligible", ForceEligible(service))))
	return r
}

// WalletRequest holds the wallet address posted to registration, claim and admin endpoints
type WalletRequest struct {
	Address string `json:"address" valid:"required"`
}

// appError maps service errors onto the wire error model
func appError(err error) *handlers.AppError {
	switch {
	case errors.Is(err, ErrInvalidAddress):
		return &handlers.AppError{
			Cause:     err,
			Message:   "invalid wallet address",
			ErrorCode: "invalid_input",
			Code:      http.StatusBadRequest,
		}
	case errors.Is(err, ErrNotRegistered):
		return &handlers.AppError{
			Cause:     err,
			Message:   "wallet not registered or not tracked yet",
			ErrorCode: "not_registered",
			Code:      http.StatusBadRequest,
		}
	case errors.Is(err, ErrNotEligible):
		return &handlers.AppError{
			Cause:     err,
			Message:   "not eligible yet",
			ErrorCode: "not_eligible",
			Code:      http.StatusForbidden,
		}
	case errors.Is(err, ErrAlreadyClaimed):
		return &handlers.AppError{
			Cause:     err,
			Message:   "already claimed",
			ErrorCode: "already_claimed",
			Code:      http.StatusConflict,
		}
	case errors.Is(err, chain.ErrTxReverted):
		return &handlers.AppError{
			Cause:     err,
			Message:   "mint transaction failed",
			ErrorCode: "upstream_mint_failure",
			Code:      http.StatusBadGateway,
		}
	default:
		return &handlers.AppError{
			Cause:     err,
			Message:   "request failed",
			ErrorCode: "upstream_error",
			Code:      http.StatusBadGateway,
		}
	}
}

// RegisterWallet is the handler for registering a wallet for staking
func RegisterWallet(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var req WalletRequest
		err := requestutils.ReadJSON(r.Context(), r.Body, &req)
		if err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}
		_, err = govalidator.ValidateStruct(req)
		if err != nil {
			return handlers.WrapValidationError(err)
		}

		result, err := service.RegisterWallet(r.Context(), req.Address)
		if err != nil {
			return appError(err)
		}
		return handlers.RenderContent(r.Context(), result, w, http.StatusOK)
	})
}

// GetWalletStatus is the handler for reading a wallet's staking progress
func GetWalletStatus(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var address Address
		if err := inputs.DecodeAndValidateString(r.Context(), &address, r.URL.Query().Get("address")); err != nil {
			return handlers.ValidationError("request query parameter", map[string]string{
				"address": "address must be a valid wallet address",
			})
		}

		status, err := service.GetWalletStatus(r.Context(), address.String())
		if err != nil {
			return appError(err)
		}
		return handlers.RenderContent(r.Context(), status, w, http.StatusOK)
	})
}

// ClaimReward is the handler for the one-way free-mint claim
func ClaimReward(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var req WalletRequest
		err := requestutils.ReadJSON(r.Context(), r.Body, &req)
		if err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}
		_, err = govalidator.ValidateStruct(req)
		if err != nil {
			return handlers.WrapValidationError(err)
		}

		result, err := service.Claim(r.Context(), req.Address)
		if err != nil {
			return appError(err)
		}
		return handlers.RenderContent(r.Context(), result, w, http.StatusOK)
	})
}

// RunAccrualPass is the handler backing the scheduled accrual trigger
func RunAccrualPass(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		summary, err := service.RunAccrualPass(r.Context())
		if err != nil {
			// the pass could not start at all
			return handlers.WrapError(err, "accrual pass failed", http.StatusInternalServerError)
		}
		return handlers.RenderContent(r.Context(), summary, w, http.StatusOK)
	})
}

// ForceEligible is the handler for the admin eligibility override
func ForceEligible(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var req WalletRequest
		err := requestutils.ReadJSON(r.Context(), r.Body, &req)
		if err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}
		_, err = govalidator.ValidateStruct(req)
		if err != nil {
			return handlers.WrapValidationError(err)
		}

		if err := service.ForceEligible(r.Context(), req.Address); err != nil {
			return appError(err)
		}
		return handlers.RenderContent(r.Context(), map[string]bool{"success": true}, w, http.StatusOK)
	})
}

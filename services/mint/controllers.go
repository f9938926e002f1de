package mint

import (
	"errors"
	"net/http"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi"
	"github.com/redpepe-labs/stakemint/libs/clients/chain"
	"github.com/redpepe-labs/stakemint/libs/handlers"
	"github.com/redpepe-labs/stakemint/libs/middleware"
	"github.com/redpepe-labs/stakemint/libs/requestutils"
	"github.com/redpepe-labs/stakemint/services/staking"
)

// Router for direct-purchase mint endpoints
func Router(service *Service) chi.Router {
	r := chi.NewRouter()
	r.Method("POST", "/", middleware.InstrumentHandler("PurchaseMint", PurchaseMint(service)))
	return r
}

// PurchaseRequest is a direct-purchase mint order referencing its payment
type PurchaseRequest struct {
	Address       string `json:"address" valid:"required"`
	Quantity      int64  `json:"quantity" valid:"required"`
	PaymentMethod string `json:"paymentMethod" valid:"in(avax|erc20)"`
	PaymentTxHash string `json:"paymentTxHash" valid:"required"`
}

// PurchaseMint is the handler for paid mints
func PurchaseMint(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		var req PurchaseRequest
		err := requestutils.ReadJSON(r.Context(), r.Body, &req)
		if err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}
		_, err = govalidator.ValidateStruct(req)
		if err != nil {
			return handlers.WrapValidationError(err)
		}
		method := chain.PaymentMethod(req.PaymentMethod)
		if method == "" {
			method = chain.PaymentNative
		}

		result, err := service.Purchase(r.Context(), req.Address, req.Quantity, method, req.PaymentTxHash)
		if err != nil {
			return purchaseError(err)
		}
		return handlers.RenderContent(r.Context(), result, w, http.StatusOK)
	})
}

func purchaseError(err error) *handlers.AppError {
	switch {
	case errors.Is(err, staking.ErrInvalidAddress), errors.Is(err, ErrInvalidQuantity):
		return &handlers.AppError{
			Cause:     err,
			Message:   "invalid purchase request",
			ErrorCode: "invalid_input",
			Code:      http.StatusBadRequest,
		}
	case errors.Is(err, ErrPaymentAlreadyUsed):
		return &handlers.AppError{
			Cause:     err,
			Message:   "payment transaction already used",
			ErrorCode: "payment_already_used",
			Code:      http.StatusConflict,
		}
	case errors.Is(err, chain.ErrPaymentNotFound),
		errors.Is(err, chain.ErrPaymentUnconfirmed),
		errors.Is(err, chain.ErrPaymentInvalid):
		return &handlers.AppError{
			Cause:     err,
			Message:   "payment could not be verified",
			ErrorCode: "payment_rejected",
			Code:      http.StatusPaymentRequired,
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
			Message:   "mint failed",
			ErrorCode: "upstream_error",
			Code:      http.StatusBadGateway,
		}
	}
}

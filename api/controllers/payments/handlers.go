package payments

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/api/controllers/callercontext"
	"github.com/angelmondragon/payrecon/api/responses"
	"github.com/angelmondragon/payrecon/api/validators"
	paymentsvc "github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/pagination"
)

// Service is the payment surface used by the HTTP layer.
type Service interface {
	PublicConfig() paymentsvc.PublicConfig
	Initiate(ctx context.Context, in paymentsvc.InitiateInput) (*paymentsvc.InitiateResult, error)
	ChargeCard(ctx context.Context, in paymentsvc.ChargeCardInput) (*paymentsvc.ChargeCardResult, error)
	Get(ctx context.Context, userID uuid.UUID, reference string) (*models.Payment, error)
	List(ctx context.Context, params paymentsvc.ListParams) (*paymentsvc.ListResult, error)
}

// Verifier pulls a transaction from the processor and applies it.
type Verifier interface {
	VerifyByTransactionID(ctx context.Context, userID uuid.UUID, transactionID string) (*models.Payment, error)
}

// PaymentConfig exposes the browser-safe gateway settings.
func PaymentConfig(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}
		responses.WriteSuccess(w, svc.PublicConfig())
	}
}

// PaymentInitiate stores a PENDING payment and returns the signed widget parameters.
func PaymentInitiate(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload initiateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Initiate(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// PaymentChargeCard charges a tokenized card without the checkout widget.
func PaymentChargeCard(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload chargeCardRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		input, err := payload.toInput(userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ChargeCard(r.Context(), paymentsvc.ChargeCardInput{
			InitiateInput:   input,
			CardToken:       payload.CardToken,
			AcceptanceToken: payload.AcceptanceToken,
			Installments:    payload.Installments,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := chargeCardResponse{Payment: newPaymentResponse(result.Payment)}
		if result.Transaction != nil {
			resp.TransactionID = result.Transaction.ID.String()
			resp.StatusMessage = result.Transaction.StatusMessage
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, resp)
	}
}

// PaymentList pages through the caller's payments.
func PaymentList(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := validators.ParseQueryEnum(r, "status", enums.ParsePaymentStatus)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		productType, err := validators.ParseQueryEnum(r, "product_type", enums.ParseProductType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		createdFrom, err := validators.ParseQueryTime(r, "created_from")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		createdTo, err := validators.ParseQueryTime(r, "created_to")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.List(r.Context(), paymentsvc.ListParams{
			UserID:      userID,
			Status:      string(status),
			ProductType: string(productType),
			CreatedFrom: createdFrom,
			CreatedTo:   createdTo,
			Params: pagination.Params{
				Limit:  limit,
				Cursor: validators.SanitizeString(r.URL.Query().Get("cursor"), 256),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := paymentListResponse{
			Payments:   make([]paymentResponse, 0, len(result.Payments)),
			NextCursor: result.NextCursor,
		}
		for i := range result.Payments {
			resp.Payments = append(resp.Payments, newPaymentResponse(&result.Payments[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

// PaymentGet returns one of the caller's payments by reference.
func PaymentGet(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), userID, chi.URLParam(r, "reference"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

// PaymentVerify reconciles a payment from the processor's record when the
// caller returns from checkout before the webhook arrives.
func PaymentVerify(verifier Verifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment verification unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := verifier.VerifyByTransactionID(r.Context(), userID, chi.URLParam(r, "transactionId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newPaymentResponse(payment))
	}
}

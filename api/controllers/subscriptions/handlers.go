package subscriptions

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/api/controllers/callercontext"
	"github.com/angelmondragon/payrecon/api/responses"
	"github.com/angelmondragon/payrecon/api/validators"
	subsvc "github.com/angelmondragon/payrecon/internal/subscriptions"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

const subscriptionIDParam = "subscriptionId"

// Service is the subscription surface used by the HTTP layer.
type Service interface {
	Get(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	Cancel(ctx context.Context, userID, id uuid.UUID, immediate bool) (*models.Subscription, error)
	Renew(ctx context.Context, userID, id uuid.UUID) (*subsvc.RenewalResult, error)
	Pause(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error)
	Resume(ctx context.Context, userID, id uuid.UUID) (*models.Subscription, error)
	UpdatePaymentSource(ctx context.Context, userID, id uuid.UUID, cardToken, acceptanceToken string) (*models.Subscription, error)
}

// SubscriptionList returns the caller's subscriptions.
func SubscriptionList(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subs, err := svc.ListForUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := make([]subscriptionResponse, 0, len(subs))
		for i := range subs {
			resp = append(resp, newSubscriptionResponse(&subs[i]))
		}
		responses.WriteSuccess(w, resp)
	}
}

// SubscriptionFetch returns one of the caller's subscriptions.
func SubscriptionFetch(svc Service, logg *logger.Logger) http.HandlerFunc {
	return subscriptionAction(svc, logg, func(r *http.Request, userID, id uuid.UUID) (*models.Subscription, error) {
		return svc.Get(r.Context(), userID, id)
	})
}

// SubscriptionCancel cancels now when immediate is set, otherwise at period end.
func SubscriptionCancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return subscriptionAction(svc, logg, func(r *http.Request, userID, id uuid.UUID) (*models.Subscription, error) {
		var payload cancelRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				return nil, err
			}
		}
		return svc.Cancel(r.Context(), userID, id, payload.Immediate)
	})
}

// SubscriptionPause stops renewals.
func SubscriptionPause(svc Service, logg *logger.Logger) http.HandlerFunc {
	return subscriptionAction(svc, logg, func(r *http.Request, userID, id uuid.UUID) (*models.Subscription, error) {
		return svc.Pause(r.Context(), userID, id)
	})
}

// SubscriptionResume restarts renewals.
func SubscriptionResume(svc Service, logg *logger.Logger) http.HandlerFunc {
	return subscriptionAction(svc, logg, func(r *http.Request, userID, id uuid.UUID) (*models.Subscription, error) {
		return svc.Resume(r.Context(), userID, id)
	})
}

// SubscriptionPaymentSource replaces the card on file.
func SubscriptionPaymentSource(svc Service, logg *logger.Logger) http.HandlerFunc {
	return subscriptionAction(svc, logg, func(r *http.Request, userID, id uuid.UUID) (*models.Subscription, error) {
		var payload paymentSourceRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.UpdatePaymentSource(r.Context(), userID, id, payload.CardToken, payload.AcceptanceToken)
	})
}

// SubscriptionRenew charges the subscription now. A charge the processor has
// not decided yet answers 202; the webhook completes it.
func SubscriptionRenew(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := callercontext.PathUUID(r, subscriptionIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Renew(r.Context(), userID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := renewalResponse{Outcome: string(result.Outcome), Success: result.Success()}
		if result.Payment != nil {
			resp.PaymentReference = result.Payment.Reference
			resp.PaymentStatus = string(result.Payment.Status)
		}
		if result.Subscription != nil {
			sub := newSubscriptionResponse(result.Subscription)
			resp.Subscription = &sub
		}
		status := http.StatusOK
		if result.Outcome == subsvc.RenewalPending {
			status = http.StatusAccepted
		}
		responses.WriteSuccessStatus(w, status, resp)
	}
}

func subscriptionAction(svc Service, logg *logger.Logger, fn func(r *http.Request, userID, id uuid.UUID) (*models.Subscription, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		id, err := callercontext.PathUUID(r, subscriptionIDParam)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := fn(r, userID, id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newSubscriptionResponse(sub))
	}
}

package purchases

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/api/controllers/callercontext"
	"github.com/angelmondragon/payrecon/api/responses"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
)

// Service answers ownership questions for one-time products.
type Service interface {
	HasPurchased(ctx context.Context, userID, productID uuid.UUID, productType enums.ProductType) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Purchase, error)
}

type purchaseResponse struct {
	ID           uuid.UUID `json:"id"`
	ProductID    uuid.UUID `json:"product_id"`
	ProductType  string    `json:"product_type"`
	PaymentID    uuid.UUID `json:"payment_id"`
	PriceInCents int64     `json:"price_in_cents"`
	PurchasedAt  time.Time `json:"purchased_at"`
}

type ownershipResponse struct {
	ProductID   uuid.UUID `json:"product_id"`
	ProductType string    `json:"product_type"`
	Purchased   bool      `json:"purchased"`
}

// PurchaseList returns the caller's purchases.
func PurchaseList(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := svc.ListForUser(r.Context(), userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp := make([]purchaseResponse, 0, len(rows))
		for _, p := range rows {
			resp = append(resp, purchaseResponse{
				ID:           p.ID,
				ProductID:    p.ProductID,
				ProductType:  string(p.ProductType),
				PaymentID:    p.PaymentID,
				PriceInCents: p.PriceInCents,
				PurchasedAt:  p.PurchasedAt,
			})
		}
		responses.WriteSuccess(w, resp)
	}
}

// PurchaseOwnership reports whether the caller owns a product.
func PurchaseOwnership(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "purchase service unavailable"))
			return
		}

		userID, err := callercontext.ResolveUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productType, err := enums.ParseProductType(chi.URLParam(r, "productType"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product type"))
			return
		}
		productID, err := callercontext.PathUUID(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		owned, err := svc.HasPurchased(r.Context(), userID, productID, productType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, ownershipResponse{
			ProductID:   productID,
			ProductType: string(productType),
			Purchased:   owned,
		})
	}
}

package payments

import (
	"strings"
	"time"

	"github.com/google/uuid"

	paymentsvc "github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
)

type initiateRequest struct {
	ProductType         string     `json:"product_type" validate:"required,product_type"`
	PlanID              *uuid.UUID `json:"plan_id,omitempty"`
	ProductID           *uuid.UUID `json:"product_id,omitempty"`
	BillingCycle        string     `json:"billing_cycle,omitempty" validate:"omitempty,billing_cycle"`
	PlanType            string     `json:"plan_type,omitempty"`
	CustomerEmail       string     `json:"customer_email" validate:"required,email"`
	CustomerName        string     `json:"customer_name,omitempty" validate:"max=255"`
	CustomerPhone       string     `json:"customer_phone,omitempty" validate:"max=32"`
	CustomerLegalID     string     `json:"customer_legal_id,omitempty" validate:"max=64"`
	CustomerLegalIDType string     `json:"customer_legal_id_type,omitempty" validate:"max=16"`
	RedirectURL         string     `json:"redirect_url,omitempty" validate:"omitempty,url"`
}

func (r initiateRequest) toInput(userID uuid.UUID) (paymentsvc.InitiateInput, error) {
	productType, err := enums.ParseProductType(r.ProductType)
	if err != nil {
		return paymentsvc.InitiateInput{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product type").
			WithDetails(map[string]any{"field": "product_type"})
	}
	return paymentsvc.InitiateInput{
		UserID:              userID,
		ProductType:         productType,
		PlanID:              r.PlanID,
		ProductID:           r.ProductID,
		BillingCycle:        strings.TrimSpace(r.BillingCycle),
		PlanType:            strings.TrimSpace(r.PlanType),
		CustomerEmail:       r.CustomerEmail,
		CustomerName:        r.CustomerName,
		CustomerPhone:       r.CustomerPhone,
		CustomerLegalID:     r.CustomerLegalID,
		CustomerLegalIDType: r.CustomerLegalIDType,
		RedirectURL:         r.RedirectURL,
	}, nil
}

type chargeCardRequest struct {
	initiateRequest
	CardToken       string `json:"card_token" validate:"required"`
	AcceptanceToken string `json:"acceptance_token" validate:"required"`
	Installments    int    `json:"installments,omitempty" validate:"min=0,max=36"`
}

type paymentResponse struct {
	ID                uuid.UUID  `json:"id"`
	Reference         string     `json:"reference"`
	Status            string     `json:"status"`
	AmountInCents     int64      `json:"amount_in_cents"`
	Currency          string     `json:"currency"`
	ProductType       string     `json:"product_type"`
	ProductID         *uuid.UUID `json:"product_id,omitempty"`
	PlanID            *uuid.UUID `json:"plan_id,omitempty"`
	BillingCycle      *string    `json:"billing_cycle,omitempty"`
	SubscriptionID    *uuid.UUID `json:"subscription_id,omitempty"`
	TransactionID     *string    `json:"transaction_id,omitempty"`
	PaymentMethodType *string    `json:"payment_method_type,omitempty"`
	CustomerEmail     string     `json:"customer_email"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func newPaymentResponse(p *models.Payment) paymentResponse {
	resp := paymentResponse{
		ID:                p.ID,
		Reference:         p.Reference,
		Status:            string(p.Status),
		AmountInCents:     p.AmountInCents,
		Currency:          p.Currency,
		ProductType:       string(p.ProductType),
		ProductID:         p.ProductID,
		PlanID:            p.PlanID,
		SubscriptionID:    p.SubscriptionID,
		TransactionID:     p.TransactionID,
		PaymentMethodType: p.PaymentMethodType,
		CustomerEmail:     p.CustomerEmail,
		FinalizedAt:       p.FinalizedAt,
		CreatedAt:         p.CreatedAt,
	}
	if p.BillingCycle != nil {
		cycle := string(*p.BillingCycle)
		resp.BillingCycle = &cycle
	}
	return resp
}

type paymentListResponse struct {
	Payments   []paymentResponse `json:"payments"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type chargeCardResponse struct {
	Payment       paymentResponse `json:"payment"`
	TransactionID string          `json:"transaction_id,omitempty"`
	StatusMessage string          `json:"status_message,omitempty"`
}

// Package payments creates payments and hands the gateway the parameters it
// needs to collect them.
package payments

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/internal/pricing"
	"github.com/angelmondragon/payrecon/pkg/config"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
	"github.com/angelmondragon/payrecon/pkg/logger"
	"github.com/angelmondragon/payrecon/pkg/pagination"
)

// PriceResolver resolves the authoritative amount for a request.
type PriceResolver interface {
	Resolve(ctx context.Context, req pricing.Request) (*pricing.Quote, error)
}

// Signer produces the integrity signature for widget parameters.
type Signer interface {
	IntegritySignature(reference string, amountInCents int64, currency string, expiration *time.Time) string
}

// CardGateway is the part of the gateway client used by the direct-card path.
type CardGateway interface {
	CreatePaymentSource(ctx context.Context, cardToken, customerEmail, acceptanceToken string) (*gateway.PaymentSource, error)
	WaitForPaymentSourceAvailable(ctx context.Context, sourceID gateway.ID) (*gateway.PaymentSource, error)
	ChargeWithPaymentSource(ctx context.Context, req gateway.ChargeRequest) (*gateway.Transaction, error)
}

// TransactionApplier reconciles a gateway transaction into local state.
type TransactionApplier interface {
	ApplyTransaction(ctx context.Context, tx gateway.Transaction) (*models.Payment, error)
}

// Metrics records initiation counts.
type Metrics interface {
	PaymentInitiated(productType string)
}

// ServiceParams groups dependencies for the payment service.
type ServiceParams struct {
	Repo     Repository
	Resolver PriceResolver
	Signer   Signer
	Gateway  CardGateway
	Applier  TransactionApplier
	Config   config.GatewayConfig
	Metrics  Metrics
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service initiates payments.
type Service struct {
	repo     Repository
	resolver PriceResolver
	signer   Signer
	gateway  CardGateway
	applier  TransactionApplier
	cfg      config.GatewayConfig
	metrics  Metrics
	logg     *logger.Logger
	now      func() time.Time
}

// NewService builds a payment service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("payment repo is required")
	}
	if params.Resolver == nil {
		return nil, errors.New("price resolver is required")
	}
	if params.Signer == nil {
		return nil, errors.New("signer is required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     params.Repo,
		resolver: params.Resolver,
		signer:   params.Signer,
		gateway:  params.Gateway,
		applier:  params.Applier,
		cfg:      params.Config,
		metrics:  params.Metrics,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// InitiateInput is a request to pay for a plan or course.
type InitiateInput struct {
	UserID              uuid.UUID
	ProductType         enums.ProductType
	PlanID              *uuid.UUID
	ProductID           *uuid.UUID
	BillingCycle        string
	PlanType            string
	CustomerEmail       string
	CustomerName        string
	CustomerPhone       string
	CustomerLegalID     string
	CustomerLegalIDType string
	RedirectURL         string
}

// WidgetParams are handed to the browser checkout widget.
type WidgetParams struct {
	PublicKey     string                `json:"public_key"`
	Currency      string                `json:"currency"`
	AmountInCents int64                 `json:"amount_in_cents"`
	Reference     string                `json:"reference"`
	Signature     WidgetSignature       `json:"signature"`
	RedirectURL   string                `json:"redirect_url,omitempty"`
	CustomerData  *gateway.CustomerData `json:"customer_data,omitempty"`
	CustomerEmail string                `json:"customer_email"`
}

// WidgetSignature carries the integrity hash under the key the widget expects.
type WidgetSignature struct {
	Integrity string `json:"integrity"`
}

// InitiateResult is returned by Initiate.
type InitiateResult struct {
	PaymentID uuid.UUID       `json:"payment_id"`
	Reference string          `json:"reference"`
	Widget    WidgetParams    `json:"widget"`
	Payment   *models.Payment `json:"-"`
}

// PublicConfig is the browser-safe gateway configuration.
type PublicConfig struct {
	PublicKey   string `json:"public_key"`
	Currency    string `json:"currency"`
	Environment string `json:"environment"`
	RedirectURL string `json:"redirect_url,omitempty"`
}

// PublicConfig returns the gateway settings safe to expose to clients.
func (s *Service) PublicConfig() PublicConfig {
	return PublicConfig{
		PublicKey:   s.cfg.PublicKey,
		Currency:    s.currency(),
		Environment: s.cfg.Environment(),
		RedirectURL: strings.TrimSpace(s.cfg.RedirectURL),
	}
}

// Initiate resolves the price, stores a PENDING payment and builds the
// signed widget parameters. No gateway call is made.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*InitiateResult, error) {
	if in.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user is required")
	}
	email, err := normalizeEmail(in.CustomerEmail)
	if err != nil {
		return nil, err
	}

	quote, err := s.resolver.Resolve(ctx, pricing.Request{
		ProductType:  in.ProductType,
		PlanID:       in.PlanID,
		ProductID:    in.ProductID,
		BillingCycle: in.BillingCycle,
		PlanType:     in.PlanType,
	})
	if err != nil {
		return nil, err
	}

	redirect := firstNonEmpty(in.RedirectURL, s.cfg.RedirectURL)
	payment := &models.Payment{
		Reference:           NewReference(s.now()),
		UserID:              in.UserID,
		AmountInCents:       quote.AmountInCents,
		Currency:            quote.Currency,
		Status:              enums.PaymentStatusPending,
		ProductType:         quote.ProductType,
		ProductID:           quote.ProductID,
		PlanID:              quote.PlanID,
		BillingCycle:        quote.BillingCycle,
		CustomerEmail:       email,
		CustomerName:        optional(in.CustomerName),
		CustomerPhone:       optional(in.CustomerPhone),
		CustomerLegalID:     optional(in.CustomerLegalID),
		CustomerLegalIDType: optional(in.CustomerLegalIDType),
		RedirectURL:         optional(redirect),
	}
	if err := s.repo.Create(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment")
	}
	if s.metrics != nil {
		s.metrics.PaymentInitiated(string(payment.ProductType))
	}
	if s.logg != nil {
		logCtx := s.logg.WithPaymentReference(ctx, payment.Reference)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"user_id":         payment.UserID.String(),
			"product_type":    payment.ProductType,
			"amount_in_cents": payment.AmountInCents,
		})
		s.logg.Info(logCtx, "payment initiated")
	}

	return &InitiateResult{
		PaymentID: payment.ID,
		Reference: payment.Reference,
		Widget:    s.widgetParams(payment),
		Payment:   payment,
	}, nil
}

// ChargeCardInput charges a tokenized card directly instead of using the widget.
type ChargeCardInput struct {
	InitiateInput
	CardToken       string
	AcceptanceToken string
	Installments    int
}

// ChargeCardResult reports the payment after the gateway responded.
type ChargeCardResult struct {
	Payment     *models.Payment
	Transaction *gateway.Transaction
}

// ChargeCard initiates a payment, registers the card as a reusable source,
// waits for it to become chargeable and charges it. The gateway's answer is
// applied through the same path as webhooks.
func (s *Service) ChargeCard(ctx context.Context, in ChargeCardInput) (*ChargeCardResult, error) {
	if s.gateway == nil || s.applier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "direct card payments are not configured")
	}
	if strings.TrimSpace(in.CardToken) == "" || strings.TrimSpace(in.AcceptanceToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card token and acceptance token are required")
	}

	initiated, err := s.Initiate(ctx, in.InitiateInput)
	if err != nil {
		return nil, err
	}
	payment := initiated.Payment

	source, err := s.gateway.CreatePaymentSource(ctx, in.CardToken, payment.CustomerEmail, in.AcceptanceToken)
	if err != nil {
		return nil, err
	}
	source, err = s.gateway.WaitForPaymentSourceAvailable(ctx, source.ID)
	if err != nil {
		return nil, err
	}
	sourceID := source.ID.String()
	payment.PaymentSourceID = &sourceID
	if err := s.repo.Update(ctx, payment); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payment source")
	}

	txn, err := s.gateway.ChargeWithPaymentSource(ctx, gateway.ChargeRequest{
		PaymentSourceID: source.ID,
		AmountInCents:   payment.AmountInCents,
		Currency:        payment.Currency,
		Reference:       payment.Reference,
		CustomerEmail:   payment.CustomerEmail,
		Installments:    in.Installments,
	})
	if err != nil {
		return nil, err
	}
	if txn.Reference == "" {
		txn.Reference = payment.Reference
	}
	if txn.PaymentSourceID == "" {
		txn.PaymentSourceID = source.ID
	}
	if txn.PaymentMethodType == "" {
		txn.PaymentMethodType = string(enums.PaymentMethodCard)
	}

	applied, err := s.applier.ApplyTransaction(ctx, *txn)
	if err != nil {
		return nil, err
	}
	return &ChargeCardResult{Payment: applied, Transaction: txn}, nil
}

// Get returns the caller's payment by reference.
func (s *Service) Get(ctx context.Context, userID uuid.UUID, reference string) (*models.Payment, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	payment, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if payment == nil || payment.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	return payment, nil
}

// ListParams are the caller-facing list filters.
type ListParams struct {
	UserID      uuid.UUID
	Status      string
	ProductType string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	pagination.Params
}

// ListResult is one page of payments.
type ListResult struct {
	Payments   []models.Payment
	NextCursor string
}

// List pages through the caller's payments, newest first.
func (s *Service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user is required")
	}
	if params.CreatedFrom != nil && params.CreatedTo != nil && !params.CreatedFrom.Before(*params.CreatedTo) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "created_from must be before created_to")
	}
	query := ListQuery{
		UserID:      params.UserID,
		Limit:       params.Limit,
		CreatedFrom: params.CreatedFrom,
		CreatedTo:   params.CreatedTo,
	}
	if params.Status != "" {
		status, err := enums.ParsePaymentStatus(params.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		query.Status = &status
	}
	if params.ProductType != "" {
		productType, err := enums.ParseProductType(params.ProductType)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product type filter")
		}
		query.ProductType = &productType
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	query.Cursor = cursor

	rows, next, err := s.repo.ListByUser(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payments")
	}
	result := &ListResult{Payments: rows}
	if next != nil {
		result.NextCursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func (s *Service) widgetParams(p *models.Payment) WidgetParams {
	params := WidgetParams{
		PublicKey:     s.cfg.PublicKey,
		Currency:      p.Currency,
		AmountInCents: p.AmountInCents,
		Reference:     p.Reference,
		Signature: WidgetSignature{
			Integrity: s.signer.IntegritySignature(p.Reference, p.AmountInCents, p.Currency, nil),
		},
		CustomerEmail: p.CustomerEmail,
	}
	if p.RedirectURL != nil {
		params.RedirectURL = *p.RedirectURL
	}
	if p.CustomerName != nil || p.CustomerPhone != nil || p.CustomerLegalID != nil {
		params.CustomerData = &gateway.CustomerData{
			FullName:    deref(p.CustomerName),
			PhoneNumber: deref(p.CustomerPhone),
			LegalID:     deref(p.CustomerLegalID),
			LegalIDType: deref(p.CustomerLegalIDType),
		}
	}
	return params
}

func (s *Service) currency() string {
	if c := strings.ToUpper(strings.TrimSpace(s.cfg.Currency)); c != "" {
		return c
	}
	return "COP"
}

func normalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "customer email is required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeValidation, err, "customer email is invalid")
	}
	return strings.ToLower(addr.Address), nil
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

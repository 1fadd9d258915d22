// Package gateway is the REST client for the external payment processor.
// It owns no business state; callers persist whatever it returns.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/payrecon/pkg/config"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/sethvargo/go-retry"
)

const (
	defaultTimeout             = 15 * time.Second
	defaultPollInterval        = time.Second
	defaultPollAttempts        = 10
	defaultInstallments        = 1
	responseBodyReadLimit int64 = 2048
)

var errSourceNotAvailable = errors.New("payment source not available yet")

// Signer produces the integrity signature attached to charges.
type Signer interface {
	IntegritySignature(reference string, amountInCents int64, currency string, expiration *time.Time) string
}

// Client wraps the processor endpoints used for card-on-file billing.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	publicKey    string
	privateKey   string
	currency     string
	signer       Signer
	pollInterval time.Duration
	pollAttempts int
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the environment base URL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

// WithPolling overrides the payment source availability poll.
func WithPolling(interval time.Duration, attempts int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if attempts > 0 {
			c.pollAttempts = attempts
		}
	}
}

// NewClient builds the gateway client from configuration.
func NewClient(cfg config.GatewayConfig, signer Signer, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return nil, errors.New("gateway private key is required")
	}
	if signer == nil {
		return nil, errors.New("gateway signer is required")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := &Client{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      cfg.ResolvedBaseURL(),
		publicKey:    strings.TrimSpace(cfg.PublicKey),
		privateKey:   strings.TrimSpace(cfg.PrivateKey),
		currency:     strings.ToUpper(strings.TrimSpace(cfg.Currency)),
		signer:       signer,
		pollInterval: cfg.SourcePollInterval,
		pollAttempts: cfg.SourcePollAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.pollInterval <= 0 {
		client.pollInterval = defaultPollInterval
	}
	if client.pollAttempts <= 0 {
		client.pollAttempts = defaultPollAttempts
	}
	return client, nil
}

// CreatePaymentSource exchanges a one-time card token for a reusable source.
// The returned source is usually not chargeable until it becomes AVAILABLE.
func (c *Client) CreatePaymentSource(ctx context.Context, cardToken, customerEmail, acceptanceToken string) (*PaymentSource, error) {
	if strings.TrimSpace(cardToken) == "" || strings.TrimSpace(acceptanceToken) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "card token and acceptance token are required")
	}
	body := createSourceRequest{
		Type:            paymentSourceTypeCard,
		Token:           strings.TrimSpace(cardToken),
		CustomerEmail:   strings.TrimSpace(customerEmail),
		AcceptanceToken: strings.TrimSpace(acceptanceToken),
	}
	var out envelope[PaymentSource]
	if err := c.do(ctx, http.MethodPost, "payment_sources", body, &out); err != nil {
		return nil, err
	}
	if out.Data.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway returned payment source without id")
	}
	return &out.Data, nil
}

// GetPaymentSource fetches a payment source by id.
func (c *Client) GetPaymentSource(ctx context.Context, sourceID ID) (*PaymentSource, error) {
	if sourceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source id is required")
	}
	var out envelope[PaymentSource]
	if err := c.do(ctx, http.MethodGet, "payment_sources/"+url.PathEscape(sourceID.String()), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// WaitForPaymentSourceAvailable polls at a fixed interval until the source is
// AVAILABLE. Exhausting the attempts yields a retryable GATEWAY_TIMEOUT error;
// ctx cancellation stops the wait early.
func (c *Client) WaitForPaymentSourceAvailable(ctx context.Context, sourceID ID) (*PaymentSource, error) {
	var source *PaymentSource
	backoff := retry.WithMaxRetries(uint64(c.pollAttempts-1), retry.NewConstant(c.pollInterval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		current, err := c.GetPaymentSource(ctx, sourceID)
		if err != nil {
			if pkgerrors.IsRetryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		if !current.Available() {
			return retry.RetryableError(errSourceNotAvailable)
		}
		source = current
		return nil
	})
	if err == nil {
		return source, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, ctxErr, "payment source wait canceled")
	}
	if errors.Is(err, errSourceNotAvailable) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayTimeout, err, fmt.Sprintf("payment source %s not available after %d attempts", sourceID, c.pollAttempts))
	}
	return nil, err
}

// ChargeWithPaymentSource initiates an immediate charge against a reusable source.
func (c *Client) ChargeWithPaymentSource(ctx context.Context, req ChargeRequest) (*Transaction, error) {
	if req.PaymentSourceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment source id is required")
	}
	if strings.TrimSpace(req.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	if req.AmountInCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = c.currency
	}
	installments := req.Installments
	if installments <= 0 {
		installments = defaultInstallments
	}
	body := chargeRequest{
		AmountInCents:   req.AmountInCents,
		Currency:        currency,
		CustomerEmail:   strings.TrimSpace(req.CustomerEmail),
		PaymentMethod:   paymentMethod{Installments: installments},
		Reference:       req.Reference,
		PaymentSourceID: req.PaymentSourceID.wireValue(),
		Signature:       c.signer.IntegritySignature(req.Reference, req.AmountInCents, currency, nil),
	}
	var out envelope[Transaction]
	if err := c.do(ctx, http.MethodPost, "transactions", body, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// GetTransaction fetches a transaction by its gateway id.
func (c *Client) GetTransaction(ctx context.Context, transactionID string) (*Transaction, error) {
	trimmed := strings.TrimSpace(transactionID)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	var out envelope[Transaction]
	if err := c.do(ctx, http.MethodGet, "transactions/"+url.PathEscape(trimmed), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

// FindTransactionByReference returns the most recent transaction for a
// payment reference, or a NOT_FOUND error when the gateway has none.
func (c *Client) FindTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	var out envelope[[]Transaction]
	if err := c.do(ctx, http.MethodGet, "transactions?reference="+url.QueryEscape(trimmed), nil, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no gateway transaction for reference")
	}
	return &out.Data[len(out.Data)-1], nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal gateway request")
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path), reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "build gateway request")
	}
	req.Header.Set("Authorization", "Bearer "+c.privateKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "execute gateway request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decode gateway response")
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
	detail := strings.TrimSpace(string(raw))
	var parsed apiError
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Type != "" {
		detail = parsed.Error.Type
		if parsed.Error.Reason != "" {
			detail += ": " + parsed.Error.Reason
		} else if len(parsed.Error.Messages) > 0 {
			detail += ": " + string(parsed.Error.Messages)
		}
	}
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, detail)
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, cause, "gateway resource not found")
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, cause, "gateway rejected request")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeDependency, cause, "gateway request failed")
	}
}

func (c *Client) buildURL(path string) string {
	return fmt.Sprintf("%s/%s", strings.TrimRight(c.baseURL, "/"), strings.TrimLeft(path, "/"))
}

// PublicKey exposes the key safe to hand to the browser widget.
func (c *Client) PublicKey() string { return c.publicKey }

// Currency is the default charge currency.
func (c *Client) Currency() string { return c.currency }

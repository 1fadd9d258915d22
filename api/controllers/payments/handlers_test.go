package payments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/api/middleware"
	paymentsvc "github.com/angelmondragon/payrecon/internal/payments"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/gateway"
)

func TestPaymentInitiateRequiresUser(t *testing.T) {
	svc := &fakeService{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"product_type":"COURSE","customer_email":"payer@example.com"}`))
	rec := httptest.NewRecorder()

	PaymentInitiate(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if svc.initiateCalls != 0 {
		t.Fatal("service should not be called without a user")
	}
}

func TestPaymentInitiateMapsRequest(t *testing.T) {
	userID := uuid.New()
	courseID := uuid.New()
	svc := &fakeService{
		initiateResult: &paymentsvc.InitiateResult{
			PaymentID: uuid.New(),
			Reference: "01J0REF",
			Widget:    paymentsvc.WidgetParams{PublicKey: "pub_test", Currency: "COP", AmountInCents: 5000000, Reference: "01J0REF"},
		},
	}
	body := `{"product_type":"course","product_id":"` + courseID.String() + `","customer_email":"payer@example.com"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body)), userID)
	rec := httptest.NewRecorder()

	PaymentInitiate(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastInitiate.UserID != userID || svc.lastInitiate.ProductType != enums.ProductTypeCourse {
		t.Fatalf("unexpected input %+v", svc.lastInitiate)
	}
	if svc.lastInitiate.ProductID == nil || *svc.lastInitiate.ProductID != courseID {
		t.Fatalf("expected product id %s, got %v", courseID, svc.lastInitiate.ProductID)
	}

	var envelope struct {
		Data struct {
			Reference string `json:"reference"`
			Widget    struct {
				AmountInCents int64 `json:"amount_in_cents"`
			} `json:"widget"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Data.Reference != "01J0REF" || envelope.Data.Widget.AmountInCents != 5000000 {
		t.Fatalf("unexpected response %+v", envelope.Data)
	}
}

func TestPaymentInitiateRejectsUnknownProductType(t *testing.T) {
	svc := &fakeService{}
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"product_type":"BUNDLE","customer_email":"payer@example.com"}`)), uuid.New())
	rec := httptest.NewRecorder()

	PaymentInitiate(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.initiateCalls != 0 {
		t.Fatal("service should not be called for an unknown product type")
	}
}

func TestPaymentInitiateRejectsAmountField(t *testing.T) {
	svc := &fakeService{}
	body := `{"product_type":"COURSE","customer_email":"payer@example.com","amount_in_cents":1}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(body)), uuid.New())
	rec := httptest.NewRecorder()

	PaymentInitiate(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected caller-supplied amount to be rejected, got %d", rec.Code)
	}
}

func TestPaymentChargeCardReturnsAppliedPayment(t *testing.T) {
	userID := uuid.New()
	svc := &fakeService{
		chargeResult: &paymentsvc.ChargeCardResult{
			Payment:     &models.Payment{ID: uuid.New(), Reference: "01J0CARD", Status: enums.PaymentStatusApproved, ProductType: enums.ProductTypePlan},
			Transaction: &gateway.Transaction{ID: "15113-1", Status: "APPROVED"},
		},
	}
	body := `{"product_type":"PLAN","plan_id":"` + uuid.NewString() + `","billing_cycle":"monthly","customer_email":"payer@example.com","card_token":"tok_test","acceptance_token":"acc_test"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/card", strings.NewReader(body)), userID)
	rec := httptest.NewRecorder()

	PaymentChargeCard(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastCharge.CardToken != "tok_test" || svc.lastCharge.AcceptanceToken != "acc_test" {
		t.Fatalf("unexpected charge input %+v", svc.lastCharge)
	}
	if !strings.Contains(rec.Body.String(), `"status":"APPROVED"`) || !strings.Contains(rec.Body.String(), `"transaction_id":"15113-1"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestPaymentChargeCardRequiresTokens(t *testing.T) {
	svc := &fakeService{}
	body := `{"product_type":"PLAN","customer_email":"payer@example.com"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/card", strings.NewReader(body)), uuid.New())
	rec := httptest.NewRecorder()

	PaymentChargeCard(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPaymentListPassesFilters(t *testing.T) {
	userID := uuid.New()
	svc := &fakeService{
		listResult: &paymentsvc.ListResult{
			Payments:   []models.Payment{{ID: uuid.New(), Reference: "a", Status: enums.PaymentStatusPending}},
			NextCursor: "next",
		},
	}
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/payments?limit=10&status=APPROVED&cursor=abc", nil), userID)
	rec := httptest.NewRecorder()

	PaymentList(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastList.Limit != 10 || svc.lastList.Status != "APPROVED" || svc.lastList.Cursor != "abc" || svc.lastList.UserID != userID {
		t.Fatalf("unexpected list params %+v", svc.lastList)
	}
	if !strings.Contains(rec.Body.String(), `"next_cursor":"next"`) {
		t.Fatalf("expected next cursor in body, got %s", rec.Body.String())
	}
}

func TestPaymentListParsesCreatedRange(t *testing.T) {
	svc := &fakeService{listResult: &paymentsvc.ListResult{}}
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/payments?created_from=2026-03-01&created_to=2026-04-01", nil), uuid.New())
	rec := httptest.NewRecorder()

	PaymentList(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastList.CreatedFrom == nil || svc.lastList.CreatedFrom.Format("2006-01-02") != "2026-03-01" {
		t.Fatalf("unexpected created_from %v", svc.lastList.CreatedFrom)
	}
	if svc.lastList.CreatedTo == nil || svc.lastList.CreatedTo.Format("2006-01-02") != "2026-04-01" {
		t.Fatalf("unexpected created_to %v", svc.lastList.CreatedTo)
	}
}

func TestPaymentListRejectsMalformedDate(t *testing.T) {
	svc := &fakeService{}
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/payments?created_from=last-week", nil), uuid.New())
	rec := httptest.NewRecorder()

	PaymentList(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPaymentListRejectsUnknownStatusFilter(t *testing.T) {
	svc := &fakeService{}
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/payments?status=LOST", nil), uuid.New())
	rec := httptest.NewRecorder()

	PaymentList(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if svc.lastList.UserID != uuid.Nil {
		t.Fatal("service should not be called for an unknown status")
	}
}

func TestPaymentListRejectsOversizedLimit(t *testing.T) {
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/payments?limit=1000", nil), uuid.New())
	rec := httptest.NewRecorder()

	PaymentList(&fakeService{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPaymentGetNotFound(t *testing.T) {
	svc := &fakeService{getErr: pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")}
	req := withParam(authed(httptest.NewRequest(http.MethodGet, "/api/v1/payments/missing", nil), uuid.New()), "reference", "missing")
	rec := httptest.NewRecorder()

	PaymentGet(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if svc.lastReference != "missing" {
		t.Fatalf("expected reference from path, got %q", svc.lastReference)
	}
}

func TestPaymentVerifyUsesTransactionID(t *testing.T) {
	userID := uuid.New()
	verifier := &fakeVerifier{payment: &models.Payment{ID: uuid.New(), Reference: "01J0", Status: enums.PaymentStatusDeclined}}
	req := withParam(authed(httptest.NewRequest(http.MethodPost, "/api/v1/payments/verify/15113-9", nil), userID), "transactionId", "15113-9")
	rec := httptest.NewRecorder()

	PaymentVerify(verifier, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if verifier.transactionID != "15113-9" || verifier.userID != userID {
		t.Fatalf("unexpected verify call %q %s", verifier.transactionID, verifier.userID)
	}
}

func TestPaymentConfig(t *testing.T) {
	svc := &fakeService{config: paymentsvc.PublicConfig{PublicKey: "pub_test_1", Currency: "COP", Environment: "sandbox"}}
	rec := httptest.NewRecorder()

	PaymentConfig(svc, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/config", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"public_key":"pub_test_1"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func authed(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func withParam(req *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

type fakeService struct {
	config         paymentsvc.PublicConfig
	initiateResult *paymentsvc.InitiateResult
	initiateCalls  int
	lastInitiate   paymentsvc.InitiateInput
	chargeResult   *paymentsvc.ChargeCardResult
	lastCharge     paymentsvc.ChargeCardInput
	listResult     *paymentsvc.ListResult
	lastList       paymentsvc.ListParams
	getErr         error
	lastReference  string
}

func (f *fakeService) PublicConfig() paymentsvc.PublicConfig { return f.config }

func (f *fakeService) Initiate(_ context.Context, in paymentsvc.InitiateInput) (*paymentsvc.InitiateResult, error) {
	f.initiateCalls++
	f.lastInitiate = in
	return f.initiateResult, nil
}

func (f *fakeService) ChargeCard(_ context.Context, in paymentsvc.ChargeCardInput) (*paymentsvc.ChargeCardResult, error) {
	f.lastCharge = in
	return f.chargeResult, nil
}

func (f *fakeService) Get(_ context.Context, _ uuid.UUID, reference string) (*models.Payment, error) {
	f.lastReference = reference
	if f.getErr != nil {
		return nil, f.getErr
	}
	return &models.Payment{Reference: reference}, nil
}

func (f *fakeService) List(_ context.Context, params paymentsvc.ListParams) (*paymentsvc.ListResult, error) {
	f.lastList = params
	return f.listResult, nil
}

type fakeVerifier struct {
	payment       *models.Payment
	userID        uuid.UUID
	transactionID string
}

func (f *fakeVerifier) VerifyByTransactionID(_ context.Context, userID uuid.UUID, transactionID string) (*models.Payment, error) {
	f.userID = userID
	f.transactionID = transactionID
	return f.payment, nil
}

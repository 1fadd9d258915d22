package purchases

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/payrecon/api/middleware"
	"github.com/angelmondragon/payrecon/pkg/db/models"
	"github.com/angelmondragon/payrecon/pkg/enums"
)

func TestPurchaseOwnership(t *testing.T) {
	userID := uuid.New()
	courseID := uuid.New()
	svc := &fakeService{owned: true}
	req := request(http.MethodGet, "/api/v1/purchases/course/"+courseID.String(), userID, map[string]string{
		"productType": "course",
		"productId":   courseID.String(),
	})
	rec := httptest.NewRecorder()

	PurchaseOwnership(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.productType != enums.ProductTypeCourse || svc.productID != courseID || svc.userID != userID {
		t.Fatalf("unexpected lookup %s %s %s", svc.productType, svc.productID, svc.userID)
	}
	if !strings.Contains(rec.Body.String(), `"purchased":true`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestPurchaseOwnershipRejectsBadParams(t *testing.T) {
	cases := map[string]map[string]string{
		"product type": {"productType": "bundle", "productId": uuid.NewString()},
		"product id":   {"productType": "COURSE", "productId": "not-a-uuid"},
	}
	for name, params := range cases {
		svc := &fakeService{}
		rec := httptest.NewRecorder()
		PurchaseOwnership(svc, nil).ServeHTTP(rec, request(http.MethodGet, "/", uuid.New(), params))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, rec.Code)
		}
		if svc.calls != 0 {
			t.Fatalf("%s: service should not be called", name)
		}
	}
}

func TestPurchaseList(t *testing.T) {
	svc := &fakeService{rows: []models.Purchase{{
		ID:           uuid.New(),
		ProductID:    uuid.New(),
		ProductType:  enums.ProductTypeCourse,
		PaymentID:    uuid.New(),
		PriceInCents: 5000000,
		PurchasedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}}}
	rec := httptest.NewRecorder()

	PurchaseList(svc, nil).ServeHTTP(rec, request(http.MethodGet, "/api/v1/purchases", uuid.New(), nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"price_in_cents":5000000`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestPurchaseListPropagatesError(t *testing.T) {
	svc := &fakeService{err: errors.New("db down")}
	rec := httptest.NewRecorder()

	PurchaseList(svc, nil).ServeHTTP(rec, request(http.MethodGet, "/api/v1/purchases", uuid.New(), nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func request(method, target string, userID uuid.UUID, params map[string]string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	ctx := middleware.WithUserID(req.Context(), userID)
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(ctx, chi.RouteCtxKey, rc))
}

type fakeService struct {
	owned       bool
	rows        []models.Purchase
	err         error
	calls       int
	userID      uuid.UUID
	productID   uuid.UUID
	productType enums.ProductType
}

func (f *fakeService) HasPurchased(_ context.Context, userID, productID uuid.UUID, productType enums.ProductType) (bool, error) {
	f.calls++
	f.userID = userID
	f.productID = productID
	f.productType = productType
	return f.owned, f.err
}

func (f *fakeService) ListForUser(_ context.Context, _ uuid.UUID) ([]models.Purchase, error) {
	f.calls++
	return f.rows, f.err
}

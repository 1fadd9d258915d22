package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/payrecon/api/responses"
	pkgerrors "github.com/angelmondragon/payrecon/pkg/errors"
	"github.com/angelmondragon/payrecon/pkg/logger"
	pkgredis "github.com/angelmondragon/payrecon/pkg/redis"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"

	paymentReplayTTL = 24 * time.Hour
	renewalReplayTTL = 7 * 24 * time.Hour
	// inFlightTTL bounds how long a crashed request keeps its key claimed.
	inFlightTTL = 2 * time.Minute
)

// ReplayStore is the Redis surface the replay guard needs.
type ReplayStore interface {
	pkgredis.IdempotencyStore
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// replayRoute is a money-moving endpoint whose responses are replayed.
// Segments equal to "*" match any single path segment.
type replayRoute struct {
	method   string
	segments []string
	ttl      time.Duration
}

var replayRoutes = []replayRoute{
	newReplayRoute(http.MethodPost, "/api/v1/payments", paymentReplayTTL),
	newReplayRoute(http.MethodPost, "/api/v1/payments/card", paymentReplayTTL),
	newReplayRoute(http.MethodPost, "/api/v1/subscriptions/*/renew", renewalReplayTTL),
}

func newReplayRoute(method, path string, ttl time.Duration) replayRoute {
	return replayRoute{method: method, segments: splitPath(path), ttl: ttl}
}

func (rr replayRoute) matches(method string, segments []string) bool {
	if rr.method != method || len(rr.segments) != len(segments) {
		return false
	}
	for i, want := range rr.segments {
		if want != "*" && want != segments[i] {
			return false
		}
	}
	return true
}

type replayState string

const (
	stateInFlight  replayState = "in_flight"
	stateCompleted replayState = "completed"
)

type replayRecord struct {
	State       replayState       `json:"state"`
	Fingerprint string            `json:"fingerprint"`
	Status      int               `json:"status,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        []byte            `json:"body,omitempty"`
}

var replayedHeaders = []string{"Content-Type", "Location"}

// Idempotency makes payment initiation and manual renewal safe to retry. The
// first request with a key claims it before the handler runs; a duplicate
// that arrives while the claim is open gets 409, a completed one gets the
// stored response, and one with a different body is rejected. Server errors
// release the claim so the client may retry with the same key.
func Idempotency(store ReplayStore, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ttl, ok := replayTTL(r.Method, r.URL.Path)
			if !ok || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			if clientKey == "" {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			fingerprint := requestFingerprint(r.Method, r.URL.Path, body)
			key := store.IdempotencyKey(replayScope(ctx), clientKey)

			claimed, err := claim(ctx, store, key, fingerprint)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if !claimed {
				replayExisting(ctx, store, logg, w, key, fingerprint)
				return
			}

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			// the handler may have honoured cancellation; the claim must
			// still be settled
			settleCtx := context.WithoutCancel(ctx)
			if rec.statusCode() >= http.StatusInternalServerError {
				if delErr := store.Del(settleCtx, key); delErr != nil {
					logError(settleCtx, logg, "release idempotency claim", delErr)
				}
				return
			}
			record := replayRecord{
				State:       stateCompleted,
				Fingerprint: fingerprint,
				Status:      rec.statusCode(),
				Body:        rec.body.Bytes(),
				Headers:     capturedHeaders(rec.Header()),
			}
			if setErr := storeRecord(settleCtx, store, key, record, ttl); setErr != nil {
				logError(settleCtx, logg, "persist idempotent response", setErr)
			}
		})
	}
}

func claim(ctx context.Context, store ReplayStore, key, fingerprint string) (bool, error) {
	payload, err := json.Marshal(replayRecord{State: stateInFlight, Fingerprint: fingerprint})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode idempotency claim")
	}
	ok, err := store.SetNX(ctx, key, string(payload), inFlightTTL)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim idempotency key")
	}
	return ok, nil
}

func replayExisting(ctx context.Context, store ReplayStore, logg *logger.Logger, w http.ResponseWriter, key, fingerprint string) {
	stored, err := store.Get(ctx, key)
	switch {
	case pkgredis.IsNil(err) || (err == nil && stored == ""):
		// claim expired between SetNX and Get
		writeInFlight(ctx, logg, w)
		return
	case err != nil:
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read idempotency record"))
		return
	}

	var record replayRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode idempotency record"))
		return
	}
	if record.Fingerprint != fingerprint {
		responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different request"))
		return
	}
	if record.State != stateCompleted {
		writeInFlight(ctx, logg, w)
		return
	}

	for name, value := range record.Headers {
		w.Header().Set(name, value)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(record.Status)
	_, _ = w.Write(record.Body)
}

func writeInFlight(ctx context.Context, logg *logger.Logger, w http.ResponseWriter) {
	w.Header().Set("Retry-After", strconv.Itoa(int(inFlightTTL.Seconds())))
	responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "a request with this Idempotency-Key is still being processed"))
}

func storeRecord(ctx context.Context, store ReplayStore, key string, record replayRecord, ttl time.Duration) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, key, string(payload), ttl)
}

// replayScope keeps keys from different payers apart.
func replayScope(ctx context.Context) string {
	userID, ok := UserIDFromContext(ctx)
	if !ok {
		return "http:anonymous"
	}
	return "http:" + userID.String()
}

func requestFingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func capturedHeaders(header http.Header) map[string]string {
	var out map[string]string
	for _, name := range replayedHeaders {
		value := header.Get(name)
		if value == "" {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(replayedHeaders))
		}
		out[name] = value
	}
	return out
}

// replayTTL matches the raw request path; chi's route pattern is still
// partial while mounted sub-routers resolve.
func replayTTL(method, path string) (time.Duration, bool) {
	segments := splitPath(path)
	for _, route := range replayRoutes {
		if route.matches(method, segments) {
			return route.ttl, true
		}
	}
	return 0, false
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

func (r *responseCapture) statusCode() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func logError(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if logg == nil || err == nil {
		return
	}
	logg.Error(ctx, msg, err)
}

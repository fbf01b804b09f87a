package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/warp/allocation-engine/cache"
	"github.com/warp/allocation-engine/generic"
	"github.com/warp/allocation-engine/logger"
)

const (
	headerOrganization = "X-Organization-ID"
	headerActor        = "X-Actor-ID"
	headerIdempotency  = "Idempotency-Key"
	headerReplayed     = "Idempotent-Replayed"
)

// =============================================================================
// REQUEST CONTEXT
// =============================================================================

type actorKey struct{}

// ActorFrom returns the actor the Tenant middleware attached.
func ActorFrom(ctx context.Context) generic.Actor {
	if a, ok := ctx.Value(actorKey{}).(generic.Actor); ok {
		return a
	}
	return generic.Actor{}
}

// Tenant scopes the request to the organization named in
// X-Organization-ID. Requests without it are rejected.
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get(headerOrganization))
		if tenant == "" {
			writeError(w, http.StatusBadRequest, headerOrganization+" header is required", generic.ErrTenantRequired)
			return
		}
		actorID := strings.TrimSpace(r.Header.Get(headerActor))
		if actorID == "" {
			actorID = "anonymous"
		}
		actor := generic.Actor{TenantID: generic.TenantID(tenant), ID: actorID, Kind: "api"}

		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		ctx = logger.WithFields(ctx, map[string]any{"tenant_id": tenant, "actor_id": actorID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// =============================================================================
// LOGGING
// =============================================================================

// RequestLogger attaches the chi request ID to the log context and writes
// one line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logger.WithFields(r.Context(), map[string]any{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
		})
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ctx = logger.WithFields(ctx, map[string]any{
			"status":      status,
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if status >= http.StatusInternalServerError {
			logger.Warn(ctx, "request failed")
			return
		}
		logger.Info(ctx, "request complete")
	})
}

// =============================================================================
// IDEMPOTENCY - Response replay for retried POSTs
// =============================================================================

type idempotencyRecord struct {
	Pending     bool              `json:"pending,omitempty"`
	Status      int               `json:"status,omitempty"`
	Body        string            `json:"body,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	RequestHash string            `json:"request_hash"`
}

// pendingTTL caps how long a reservation outlives a crashed request.
const pendingTTL = time.Minute

// Idempotency replays the stored response when a request repeats an
// Idempotency-Key it already used. The key is reserved before the handler
// runs, so a repeat that arrives while the first is still running gets 409
// instead of running twice. The same key with a different body is also a
// conflict. Requests without the header pass through; so does every
// request when no store is configured. Only 2xx responses are recorded, so
// a request rejected for capacity can be retried with the same key.
func Idempotency(store cache.IdempotencyStore, ttl time.Duration) func(http.Handler) http.Handler {
	reserveTTL := pendingTTL
	if ttl > 0 && ttl < reserveTTL {
		reserveTTL = ttl
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(headerIdempotency))
			if store == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Failed to read request body", err)
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashBody(body)
			redisKey := store.IdempotencyKey(buildScope(r), key)

			pending, err := json.Marshal(idempotencyRecord{Pending: true, RequestHash: requestHash})
			if err != nil {
				writeError(w, http.StatusInternalServerError, "Failed to reserve idempotency key", err)
				return
			}
			reserved, err := store.SetNX(r.Context(), redisKey, string(pending), reserveTTL)
			if err != nil {
				logger.Error(r.Context(), "idempotency reservation failed", err)
				writeError(w, http.StatusServiceUnavailable, "Idempotency store unavailable", err)
				return
			}
			if !reserved {
				replayExisting(w, r, store, redisKey, requestHash)
				return
			}

			completed := false
			defer func() {
				if completed {
					return
				}
				// Free the key so a failed request can be retried.
				if err := store.Del(context.WithoutCancel(r.Context()), redisKey); err != nil {
					logger.Error(r.Context(), "release idempotency key", err)
				}
			}()

			rec := &responseCapture{ResponseWriter: w}
			next.ServeHTTP(rec, r)

			status := rec.status
			if status == 0 {
				status = http.StatusOK
			}
			if status < 200 || status >= 300 {
				return
			}
			record := idempotencyRecord{
				Status:      status,
				Body:        base64.StdEncoding.EncodeToString(rec.body.Bytes()),
				RequestHash: requestHash,
			}
			if ct := rec.Header().Get("Content-Type"); ct != "" {
				record.Headers = map[string]string{"Content-Type": ct}
			}
			payload, err := json.Marshal(record)
			if err != nil {
				logger.Error(r.Context(), "marshal idempotency record", err)
				return
			}
			if err := store.Set(context.WithoutCancel(r.Context()), redisKey, string(payload), ttl); err != nil {
				logger.Error(r.Context(), "persist idempotency record", err)
				return
			}
			completed = true
		})
	}
}

// replayExisting answers a request whose key is already taken.
func replayExisting(w http.ResponseWriter, r *http.Request, store cache.IdempotencyStore, redisKey, requestHash string) {
	stored, err := store.Get(r.Context(), redisKey)
	switch {
	case cache.IsMiss(err):
		// The holder failed and released the key between our calls.
		writeError(w, http.StatusConflict, "Request with this Idempotency-Key is still in progress", generic.ErrDuplicateIdempotencyKey)
		return
	case err != nil:
		logger.Error(r.Context(), "idempotency lookup failed", err)
		writeError(w, http.StatusServiceUnavailable, "Idempotency store unavailable", err)
		return
	}

	var record idempotencyRecord
	if err := json.Unmarshal([]byte(stored), &record); err != nil {
		writeError(w, http.StatusInternalServerError, "Corrupt idempotency record", err)
		return
	}
	switch {
	case record.RequestHash != requestHash:
		writeError(w, http.StatusConflict, "Idempotency key reused with a different request body", generic.ErrDuplicateIdempotencyKey)
	case record.Pending:
		writeError(w, http.StatusConflict, "Request with this Idempotency-Key is still in progress", generic.ErrDuplicateIdempotencyKey)
	default:
		writeStoredResponse(w, record)
	}
}

func buildScope(r *http.Request) string {
	actor := ActorFrom(r.Context())
	return strings.Join([]string{string(actor.TenantID), r.Method, r.URL.Path}, "|")
}

func writeStoredResponse(w http.ResponseWriter, record idempotencyRecord) {
	if ct := record.Headers["Content-Type"]; ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set(headerReplayed, "true")
	w.WriteHeader(record.Status)
	if decoded, err := base64.StdEncoding.DecodeString(record.Body); err == nil {
		_, _ = w.Write(decoded)
	}
}

func hashBody(payload []byte) string {
	sum := sha256.Sum256(payload)
	return base64.StdEncoding.EncodeToString(sum[:])
}

type responseCapture struct {
	http.ResponseWriter
	body   bytes.Buffer
	status int
}

func (r *responseCapture) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseCapture) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}

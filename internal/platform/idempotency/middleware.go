package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/garage-pos/settlement/internal/platform/httpx"
	"github.com/garage-pos/settlement/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	anonymousIdentity = "anonymous"
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

type middlewareConfig struct {
	headerName   string
	ttl          time.Duration
	methods      map[string]struct{}
	clock        clockFunc
	logger       Logger
	maxBodyBytes int64
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareConfig)

// WithHeader overrides the header name used to extract the idempotency key.
func WithHeader(name string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		name = strings.TrimSpace(name)
		if name != "" {
			cfg.headerName = name
		}
	}
}

// WithTTL configures how long completed idempotency records are retained.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithMethods restricts the HTTP methods guarded by the middleware.
func WithMethods(methods ...string) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if len(methods) == 0 {
			return
		}
		cfg.methods = make(map[string]struct{}, len(methods))
		for _, method := range methods {
			method = strings.ToUpper(strings.TrimSpace(method))
			if method == "" {
				continue
			}
			cfg.methods[method] = struct{}{}
		}
	}
}

// WithLogger injects a logger for background persistence errors.
func WithLogger(logger Logger) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.logger = logger
	}
}

// WithMaxBodyBytes caps how much of the request body is buffered for fingerprinting.
func WithMaxBodyBytes(limit int64) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if limit > 0 {
			cfg.maxBodyBytes = limit
		}
	}
}

// WithClock overrides the time source, primarily for testing.
func WithClock(clock clockFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// Middleware constructs an HTTP middleware enforcing idempotency semantics for mutating
// requests that carry the key header. Requests without the header pass through untouched.
// Server errors are not stored, so a retry with the same key runs again.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	cfg := middlewareConfig{
		headerName: defaultHeaderName,
		ttl:        DefaultTTL,
		methods: map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		},
		clock: time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.ttl <= 0 {
		cfg.ttl = DefaultTTL
	}
	if len(cfg.methods) == 0 {
		cfg.methods = map[string]struct{}{
			http.MethodPost:   {},
			http.MethodPut:    {},
			http.MethodPatch:  {},
			http.MethodDelete: {},
		}
	}
	if cfg.clock == nil {
		cfg.clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := cfg.methods[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(cfg.headerName))
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := requestctx.WithIdempotencyKey(r.Context(), key)
			ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("idempotency_key", sanitizeKey(key))))
			r = r.WithContext(ctx)

			body, err := readAndReplayBody(w, r, cfg.maxBodyBytes)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					respondError(r, w, http.StatusBadRequest, "request_too_large", "Request body too large")
					return
				}
				respondError(r, w, http.StatusBadRequest, "invalid_body", "Unable to read request body")
				return
			}

			fingerprint := requestFingerprint(r, body, anonymousIdentity)
			scopedKey := scopedKey(key, anonymousIdentity)
			now := cfg.clock().UTC()

			reservation, err := store.Reserve(ctx, scopedKey, fingerprint, now, cfg.ttl)
			if err != nil {
				handleStoreError(r, w, cfg.logger, err)
				return
			}

			switch reservation.State {
			case ReservationStateCompleted:
				writeStoredResponse(w, reservation.Record)
				return
			case ReservationStatePending:
				respondError(r, w, http.StatusConflict, "idempotency_in_progress", "Another request is processing this idempotency key")
				return
			case ReservationStateNew:
			default:
				respondError(r, w, http.StatusInternalServerError, "idempotency_unknown_state", "Unexpected idempotency state")
				return
			}

			recorder := newResponseRecorder(w)
			next.ServeHTTP(recorder, r)

			response := Response{
				Status:  recorder.Status(),
				Headers: recorder.HeaderSnapshot(),
				Body:    recorder.Body(),
			}

			if response.Status >= http.StatusInternalServerError {
				if err := store.Release(ctx, scopedKey, fingerprint); err != nil && cfg.logger != nil {
					cfg.logger.Printf("idempotency: failed to release key %s after server error: %v", sanitizeKey(key), err)
				}
			} else if err := store.SaveResponse(ctx, scopedKey, fingerprint, response, cfg.clock().UTC(), cfg.ttl); err != nil {
				if cfg.logger != nil {
					cfg.logger.Printf("idempotency: failed to persist response for key %s: %v", sanitizeKey(key), err)
				}
				if releaseErr := store.Release(ctx, scopedKey, fingerprint); releaseErr != nil && cfg.logger != nil {
					cfg.logger.Printf("idempotency: failed to release key %s after save failure: %v", sanitizeKey(key), releaseErr)
				}
			}

			if err := recorder.Commit(); err != nil && cfg.logger != nil {
				cfg.logger.Printf("idempotency: failed to flush response for key %s: %v", sanitizeKey(key), err)
			}
		})
	}
}

func readAndReplayBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	var src io.ReadCloser = r.Body
	if limit > 0 {
		src = http.MaxBytesReader(w, r.Body, limit)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requestFingerprint(r *http.Request, body []byte, identity string) string {
	builder := strings.Builder{}
	builder.WriteString(strings.ToUpper(r.Method))
	builder.WriteString("|")
	builder.WriteString(r.URL.Path)
	builder.WriteString("|")
	builder.WriteString(r.URL.RawQuery)
	builder.WriteString("|")
	builder.WriteString(r.Host)
	builder.WriteString("|")
	builder.WriteString(r.Header.Get("Content-Type"))
	builder.WriteString("|")
	builder.WriteString(identity)
	builder.WriteString("|")
	builder.WriteString(hashBody(body))

	return sha256Hex([]byte(builder.String()))
}

func hashBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	return sha256Hex(body)
}

func scopedKey(key, identity string) string {
	key = strings.TrimSpace(key)
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = anonymousIdentity
	}
	if key == "" {
		return identity
	}
	return key + "|" + identity
}

func handleStoreError(r *http.Request, w http.ResponseWriter, logger Logger, err error) {
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		respondError(r, w, http.StatusConflict, "idempotency_key_conflict", "Idempotency key already used for a different request")
	default:
		if logger != nil {
			logger.Printf("idempotency: store error: %v", err)
		}
		respondError(r, w, http.StatusInternalServerError, "idempotency_store_error", "Unable to process idempotency key")
	}
}

func writeStoredResponse(w http.ResponseWriter, record Record) {
	headers := headersFromRecord(record.ResponseHeaders)
	for key := range w.Header() {
		w.Header().Del(key)
	}
	for key, values := range headers {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func respondError(r *http.Request, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func sanitizeKey(key string) string {
	return httpx.Truncate(key, 64)
}

type responseRecorder struct {
	parent http.ResponseWriter
	header http.Header
	status int
	body   bytes.Buffer
}

func newResponseRecorder(parent http.ResponseWriter) *responseRecorder {
	return &responseRecorder{
		parent: parent,
		header: make(http.Header),
	}
}

func (r *responseRecorder) Header() http.Header {
	return r.header
}

func (r *responseRecorder) WriteHeader(status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	r.status = status
}

func (r *responseRecorder) Write(data []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(data)
}

func (r *responseRecorder) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

func (r *responseRecorder) Body() []byte {
	if r.body.Len() == 0 {
		return nil
	}
	return r.body.Bytes()
}

func (r *responseRecorder) HeaderSnapshot() http.Header {
	return cloneHeader(r.header)
}

func (r *responseRecorder) Commit() error {
	dst := r.parent.Header()
	for key := range dst {
		dst.Del(key)
	}
	for key, values := range r.header {
		for _, value := range values {
			dst.Add(key, value)
		}
	}

	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	r.parent.WriteHeader(status)
	if r.body.Len() == 0 {
		return nil
	}
	_, err := r.parent.Write(r.body.Bytes())
	return err
}

func cloneHeader(src http.Header) http.Header {
	if len(src) == 0 {
		return http.Header{}
	}
	dst := make(http.Header, len(src))
	for key, values := range src {
		copied := make([]string, len(values))
		copy(copied, values)
		dst[key] = copied
	}
	return dst
}

package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFallbackPath = ".secrets.local"
	metricNamespace     = "github.com/garage-pos/settlement/internal/platform/secrets"
)

// ErrClientUnavailable reports that the fetcher runs without a Secret Manager client.
var ErrClientUnavailable = errors.New("secrets: secret manager client unavailable")

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

// Fetcher resolves secret:// references using Google Secret Manager with local caching and a
// file fallback for development machines.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool

	logger        *zap.Logger
	defaultProjID string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]string

	latency   metric.Float64Histogram
	cacheHits metric.Int64Counter
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

type fetcherConfig struct {
	logger       *zap.Logger
	defaultProj  string
	fallbackPath string
	meter        metric.Meter
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger sets the logger used for diagnostic output.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithDefaultProject configures the project used when a reference carries no project override.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithFallbackFile overrides the path to the local fallback secrets file.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			cfg.fallbackPath = trimmed
		}
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(cfg *fetcherConfig) {
		cfg.meter = m
	}
}

// WithSecretManagerClient injects a preconfigured Secret Manager client (primarily for tests).
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions forwards Cloud client options when constructing the Secret Manager client.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher builds a Fetcher. A Secret Manager client that cannot be created leaves the
// fetcher in fallback-only mode rather than failing startup.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		logger:       zap.NewNop(),
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	meter := cfg.meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	f := &Fetcher{
		logger:        cfg.logger,
		defaultProjID: cfg.defaultProj,
		fallbackPath:  cfg.fallbackPath,
		cache:         make(map[string]string),
	}

	if latency, err := meter.Float64Histogram(
		"secrets.fetch.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds for secret fetch attempts"),
	); err == nil {
		f.latency = latency
	} else {
		cfg.logger.Warn("secrets: unable to register latency metric", zap.Error(err))
	}
	if hits, err := meter.Int64Counter(
		"secrets.fetch.cache_hits",
		metric.WithDescription("Count of cache hits when resolving secrets"),
	); err == nil {
		f.cacheHits = hits
	} else {
		cfg.logger.Warn("secrets: unable to register cache hit metric", zap.Error(err))
	}

	if cfg.client != nil {
		f.client = cfg.client
	} else {
		client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
		if err != nil {
			cfg.logger.Warn("secrets: secret manager client unavailable; operating in fallback mode", zap.Error(err))
		} else {
			f.client = client
			f.ownsClient = true
		}
	}
	return f, nil
}

// Close releases resources held by the fetcher.
func (f *Fetcher) Close() error {
	if f.ownsClient && f.client != nil {
		return f.client.Close()
	}
	return nil
}

// Check reports whether remote lookups are possible. Used as a readiness probe.
func (f *Fetcher) Check(context.Context) error {
	if f == nil || f.client == nil {
		return ErrClientUnavailable
	}
	return nil
}

// ResolveSecret satisfies config.SecretResolver.
func (f *Fetcher) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f.Resolve(ctx, ref)
}

// Resolve retrieves the secret value for the supplied reference, consulting cache and fallbacks as needed.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	start := time.Now()
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}
	key := cacheKey(parsed.Canonical, parsed.Version)

	if value, ok := f.lookupCache(key); ok {
		f.recordCacheHit(ctx, parsed)
		f.recordLatency(ctx, time.Since(start), "cache")
		return value, nil
	}

	projectID := parsed.ProjectOverride
	if projectID == "" {
		projectID = f.defaultProjID
	}

	if projectID != "" && f.client != nil {
		value, fetchErr := f.fetchRemote(ctx, projectID, parsed.Secret, parsed.Version)
		if fetchErr == nil {
			f.storeCache(key, value)
			f.recordLatency(ctx, time.Since(start), "remote")
			return value, nil
		}
		if !isFallbackError(fetchErr) {
			f.recordLatency(ctx, time.Since(start), "error")
			return "", fmt.Errorf("secrets: fetch failed for %s: %w", parsed.Canonical, fetchErr)
		}
		f.logger.Debug("secrets: falling back to local secrets", zap.String("ref", maskReference(parsed.Canonical)), zap.Error(fetchErr))
	}

	value, ok := f.lookupFallback(parsed)
	if !ok {
		f.recordLatency(ctx, time.Since(start), "error")
		return "", fmt.Errorf("secrets: fallback value not found for %s", parsed.Canonical)
	}
	f.storeCache(key, value)
	f.recordLatency(ctx, time.Since(start), "fallback")
	return value, nil
}

func (f *Fetcher) lookupCache(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	value, ok := f.cache[key]
	return value, ok
}

func (f *Fetcher) storeCache(key, value string) {
	f.mu.Lock()
	f.cache[key] = value
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, projectID, secretName, version string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretName, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: resourceName})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Payload == nil {
		return "", fmt.Errorf("secret manager returned empty payload for %s", resourceName)
	}
	return string(resp.Payload.GetData()), nil
}

func (f *Fetcher) lookupFallback(ref parsedReference) (string, bool) {
	f.loadFallback()
	if f.fallbackErr != nil {
		f.logger.Debug("secrets: fallback load error", zap.Error(f.fallbackErr))
		return "", false
	}
	if val, ok := f.fallbackVals[cacheKey(ref.Canonical, ref.Version)]; ok {
		return val, true
	}
	val, ok := f.fallbackVals[ref.Canonical]
	return val, ok
}

// loadFallback reads `secret://name=value` lines once.
func (f *Fetcher) loadFallback() {
	f.fallbackOnce.Do(func() {
		f.fallbackVals = map[string]string{}
		absPath, err := filepath.Abs(f.fallbackPath)
		if err != nil {
			absPath = f.fallbackPath
		}
		file, err := os.Open(absPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				f.fallbackErr = fmt.Errorf("secrets: unable to open fallback file %s: %w", absPath, err)
			}
			return
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			key, value, ok := strings.Cut(line, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				continue
			}
			value = strings.TrimSpace(value)
			parsed, err := parseReference(key)
			if err != nil {
				f.fallbackVals[key] = value
				continue
			}
			f.fallbackVals[parsed.Canonical] = value
			f.fallbackVals[cacheKey(parsed.Canonical, parsed.Version)] = value
		}
		if err := scanner.Err(); err != nil {
			f.fallbackErr = fmt.Errorf("secrets: failed reading %s: %w", absPath, err)
		}
	})
}

func (f *Fetcher) recordLatency(ctx context.Context, d time.Duration, source string) {
	if f.latency == nil {
		return
	}
	f.latency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(attribute.String("source", source)))
}

func (f *Fetcher) recordCacheHit(ctx context.Context, ref parsedReference) {
	if f.cacheHits == nil {
		return
	}
	f.cacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("secret", maskReference(ref.Canonical))))
}

type parsedReference struct {
	Canonical       string
	Secret          string
	Version         string
	ProjectOverride string
}

// parseReference accepts secret://name[?version=N&project=P]; sm:// is an alias.
func parseReference(ref string) (parsedReference, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return parsedReference{}, errors.New("secrets: empty reference")
	}
	if rest, ok := strings.CutPrefix(ref, "sm://"); ok {
		ref = "secret://" + rest
	}
	u, err := url.Parse(ref)
	if err != nil {
		return parsedReference{}, fmt.Errorf("secrets: invalid reference %q: %w", ref, err)
	}
	if u.Scheme != "secret" {
		return parsedReference{}, fmt.Errorf("secrets: unsupported scheme %q", u.Scheme)
	}
	secret := strings.Trim(u.Host+u.Path, "/")
	if secret == "" {
		return parsedReference{}, fmt.Errorf("secrets: missing secret name in %q", ref)
	}

	values := u.Query()
	version := strings.TrimSpace(values.Get("version"))
	if version == "" {
		version = "latest"
	}

	canonical := *u
	canonical.RawQuery = ""
	canonical.Fragment = ""

	return parsedReference{
		Canonical:       canonical.String(),
		Secret:          secret,
		Version:         version,
		ProjectOverride: strings.TrimSpace(values.Get("project")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "#" + version
}

func maskReference(ref string) string {
	h := sha256.Sum256([]byte(ref))
	return hex.EncodeToString(h[:8])
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}

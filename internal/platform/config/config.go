package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultMaxBodyBytes         = 64 << 10
	defaultMongoDatabase        = "workshop"
	defaultMongoConnectTimeout  = 10 * time.Second
	defaultOrdersCollection     = "orders"
	defaultInvoicesCollection   = "sales_invoice"
	defaultCommissionCollection = "technician_commissions"
	defaultEmployeesCollection  = "employees"
	defaultEventsTopic          = "settlement-events"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultRedisKeyPrefix       = "settlement"
	defaultSettlementLimit      = 50
	defaultSettlementMaxLimit   = 200
)

// Store drivers accepted by API_STORE_DRIVER.
const (
	StoreDriverFirestore = "firestore"
	StoreDriverMongo     = "mongo"
	StoreDriverMemory    = "memory"
)

// Idempotency stores accepted by API_IDEMPOTENCY_STORE.
const (
	IdempotencyStoreFirestore = "firestore"
	IdempotencyStoreRedis     = "redis"
	IdempotencyStoreMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Store       StoreConfig
	Firestore   FirestoreConfig
	Mongo       MongoConfig
	Collections CollectionConfig
	Events      EventsConfig
	Idempotency IdempotencyConfig
	Redis       RedisConfig
	Secrets     SecretsConfig
	Settlement  SettlementConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	BasePath     string
	MaxBodyBytes int64
}

// StoreConfig selects the document store backing the settlement repositories.
type StoreConfig struct {
	Driver string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// MongoConfig stores connection parameters for the MongoDB backend.
type MongoConfig struct {
	URI            string
	Database       string
	Transactions   bool
	ConnectTimeout time.Duration
}

// CollectionConfig names the collections shared by every store backend.
type CollectionConfig struct {
	Orders      string
	Invoices    string
	Commissions string
	Employees   string
}

// EventsConfig controls settlement event publishing.
type EventsConfig struct {
	Enabled   bool
	ProjectID string
	Topic     string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
	Store            string
}

// RedisConfig configures the shared Redis instance used for idempotency records.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// SecretsConfig configures Secret Manager lookups.
type SecretsConfig struct {
	ProjectID    string
	FallbackFile string
}

// SettlementConfig bounds the read-side list endpoints.
type SettlementConfig struct {
	DefaultLimit int
	MaxLimit     int
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// EnvironmentValues returns the effective key/value environment map after applying the same precedence
// rules as Load (dotenv < OS env < explicit env map). Callers use it to build the secret fetcher
// before invoking Load.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return nil, err
	}

	values := make(map[string]string)
	for key, value := range dotEnvValues {
		values[key] = value
	}
	if options.useSystemEnv {
		for _, entry := range os.Environ() {
			key, value, ok := strings.Cut(entry, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				continue
			}
			values[key] = value
		}
	}
	for key, value := range options.envMap {
		values[key] = value
	}
	return values, nil
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
		secret: SecretResolverFunc(func(ctx context.Context, ref string) (string, error) {
			return "", &SecretError{Ref: ref, Err: errSecretResolverNotConfigured}
		}),
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	gcpProject := stringWithDefault(lookup, "API_GCP_PROJECT_ID", "")

	cfg := Config{
		Server: ServerConfig{
			Port:         stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:  durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout: durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:  durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			BasePath:     normalizeBasePath(stringWithDefault(lookup, "API_SERVER_BASE_PATH", "")),
			MaxBodyBytes: int64(intWithDefault(lookup, "API_SERVER_MAX_BODY_BYTES", defaultMaxBodyBytes)),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_STORE_DRIVER", StoreDriverFirestore)),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", gcpProject),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		Mongo: MongoConfig{
			URI:            stringWithDefault(lookup, "API_MONGO_URI", ""),
			Database:       stringWithDefault(lookup, "API_MONGO_DATABASE", defaultMongoDatabase),
			Transactions:   boolWithDefault(lookup, "API_MONGO_TRANSACTIONS", true),
			ConnectTimeout: durationWithDefault(lookup, "API_MONGO_CONNECT_TIMEOUT", defaultMongoConnectTimeout),
		},
		Collections: CollectionConfig{
			Orders:      stringWithDefault(lookup, "API_COLLECTION_ORDERS", defaultOrdersCollection),
			Invoices:    stringWithDefault(lookup, "API_COLLECTION_INVOICES", defaultInvoicesCollection),
			Commissions: stringWithDefault(lookup, "API_COLLECTION_COMMISSIONS", defaultCommissionCollection),
			Employees:   stringWithDefault(lookup, "API_COLLECTION_EMPLOYEES", defaultEmployeesCollection),
		},
		Events: EventsConfig{
			Enabled:   boolWithDefault(lookup, "API_EVENTS_ENABLED", false),
			ProjectID: stringWithDefault(lookup, "API_EVENTS_PROJECT_ID", gcpProject),
			Topic:     stringWithDefault(lookup, "API_EVENTS_TOPIC", defaultEventsTopic),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
			Store:            strings.ToLower(stringWithDefault(lookup, "API_IDEMPOTENCY_STORE", "")),
		},
		Redis: RedisConfig{
			Addr:      stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password:  stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:        intWithDefault(lookup, "API_REDIS_DB", 0),
			KeyPrefix: stringWithDefault(lookup, "API_REDIS_KEY_PREFIX", defaultRedisKeyPrefix),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", gcpProject),
			FallbackFile: stringWithDefault(lookup, "API_SECRETS_FALLBACK_FILE", ""),
		},
		Settlement: SettlementConfig{
			DefaultLimit: intWithDefault(lookup, "API_SETTLEMENT_DEFAULT_LIMIT", defaultSettlementLimit),
			MaxLimit:     intWithDefault(lookup, "API_SETTLEMENT_MAX_LIMIT", defaultSettlementMaxLimit),
		},
	}

	if cfg.Idempotency.Store == "" {
		cfg.Idempotency.Store = defaultIdempotencyStore(cfg)
	}

	secretFields := []*string{&cfg.Mongo.URI, &cfg.Redis.Password}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaultIdempotencyStore(cfg Config) string {
	switch {
	case cfg.Store.Driver == StoreDriverFirestore:
		return IdempotencyStoreFirestore
	case strings.TrimSpace(cfg.Redis.Addr) != "":
		return IdempotencyStoreRedis
	default:
		return IdempotencyStoreMemory
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		missing = append(missing, "Server.MaxBodyBytes")
	}

	switch cfg.Store.Driver {
	case StoreDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StoreDriverMongo:
		if strings.TrimSpace(cfg.Mongo.URI) == "" {
			missing = append(missing, "Mongo.URI")
		}
		if strings.TrimSpace(cfg.Mongo.Database) == "" {
			missing = append(missing, "Mongo.Database")
		}
	case StoreDriverMemory:
	default:
		missing = append(missing, "Store.Driver")
	}

	collections := map[string]string{
		"Collections.Orders":      cfg.Collections.Orders,
		"Collections.Invoices":    cfg.Collections.Invoices,
		"Collections.Commissions": cfg.Collections.Commissions,
		"Collections.Employees":   cfg.Collections.Employees,
	}
	for _, name := range []string{"Collections.Orders", "Collections.Invoices", "Collections.Commissions", "Collections.Employees"} {
		if strings.TrimSpace(collections[name]) == "" {
			missing = append(missing, name)
		}
	}

	if cfg.Events.Enabled {
		if cfg.Events.ProjectID == "" {
			missing = append(missing, "Events.ProjectID")
		}
		if strings.TrimSpace(cfg.Events.Topic) == "" {
			missing = append(missing, "Events.Topic")
		}
	}

	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.Idempotency.CleanupInterval <= 0 {
		missing = append(missing, "Idempotency.CleanupInterval")
	}
	if cfg.Idempotency.CleanupBatchSize <= 0 {
		missing = append(missing, "Idempotency.CleanupBatchSize")
	}
	switch cfg.Idempotency.Store {
	case IdempotencyStoreFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case IdempotencyStoreRedis:
		if strings.TrimSpace(cfg.Redis.Addr) == "" {
			missing = append(missing, "Redis.Addr")
		}
	case IdempotencyStoreMemory:
	default:
		missing = append(missing, "Idempotency.Store")
	}

	if cfg.Settlement.DefaultLimit <= 0 || cfg.Settlement.MaxLimit <= 0 || cfg.Settlement.DefaultLimit > cfg.Settlement.MaxLimit {
		missing = append(missing, "Settlement.DefaultLimit")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: dedupe(missing)}
	}
	return nil
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func normalizeBasePath(value string) string {
	trimmed := strings.Trim(strings.TrimSpace(value), "/")
	if trimmed == "" {
		return ""
	}
	return "/" + trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

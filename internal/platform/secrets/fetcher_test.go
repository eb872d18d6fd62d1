package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const mongoURIResource = "projects/garage/secrets/mongo-uri/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	client.values[mongoURIResource] = "mongodb://remote"

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("garage"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	for i := 0; i < 2; i++ {
		got, err := fetcher.ResolveSecret(ctx, "secret://mongo-uri")
		if err != nil {
			t.Fatalf("Resolve returned error: %v", err)
		}
		if got != "mongodb://remote" {
			t.Fatalf("expected mongodb://remote, got %s", got)
		}
	}

	if calls := client.callCount(mongoURIResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
	if err := fetcher.Check(ctx); err != nil {
		t.Fatalf("expected healthy fetcher, got %v", err)
	}
}

func TestResolveHonoursVersionAndProjectOverrides(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	resource := "projects/shared/secrets/redis-password/versions/3"
	client.values[resource] = "pinned"

	fetcher, err := NewFetcher(ctx, WithSecretManagerClient(client), WithDefaultProject("garage"))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://redis-password?version=3&project=shared")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "pinned" {
		t.Fatalf("expected pinned, got %s", got)
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallbackFile(t, "# local\nsm://mongo-uri=mongodb://localhost\n")

	client := newFakeSecretClient()
	client.errors[mongoURIResource] = status.Error(codes.PermissionDenied, "denied")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("garage"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	got, err := fetcher.Resolve(ctx, "secret://mongo-uri")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if got != "mongodb://localhost" {
		t.Fatalf("expected fallback secret, got %s", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallbackFile(t, "secret://mongo-uri=mongodb://localhost\n")

	client := newFakeSecretClient()
	client.errors[mongoURIResource] = status.Error(codes.NotFound, "missing")

	fetcher, err := NewFetcher(ctx,
		WithSecretManagerClient(client),
		WithDefaultProject("garage"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	if _, err := fetcher.Resolve(ctx, "secret://mongo-uri"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
}

func TestResolveRejectsMalformedReference(t *testing.T) {
	fetcher, err := NewFetcher(context.Background(), WithSecretManagerClient(newFakeSecretClient()))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	for _, ref := range []string{"", "https://example.com/secret", "secret://"} {
		if _, err := fetcher.Resolve(context.Background(), ref); err == nil {
			t.Fatalf("expected error for %q", ref)
		}
	}
}

func TestNewFetcherWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (*secretmanager.Client, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	fallbackPath := writeFallbackFile(t, "secret://redis-password=local-redis\n")

	fetcher, err := NewFetcher(ctx, WithFallbackFile(fallbackPath), WithDefaultProject("garage"))
	if err != nil {
		t.Fatalf("NewFetcher returned error: %v", err)
	}
	defer fetcher.Close()

	value, err := fetcher.Resolve(ctx, "secret://redis-password")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if value != "local-redis" {
		t.Fatalf("expected local secret, got %s", value)
	}
	if err := fetcher.Check(ctx); !errors.Is(err, ErrClientUnavailable) {
		t.Fatalf("expected ErrClientUnavailable, got %v", err)
	}
}

func writeFallbackFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu      sync.Mutex
	values  map[string]string
	errors  map[string]error
	counter map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:  make(map[string]string),
		errors:  make(map[string]error),
		counter: make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}

//go:build integration

package firestore_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	pconfig "github.com/garage-pos/settlement/internal/platform/config"
	pfirestore "github.com/garage-pos/settlement/internal/platform/firestore"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestProviderAndCollectionIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	defer stopContainer(containerID)

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "test-project",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := provider.Ping(ctx); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	orders := pfirestore.NewCollection(provider, "orders")
	if err := orders.Create(ctx, "order-1", map[string]any{"totalAmount": 120.5, "status": "ready"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	err := orders.Create(ctx, "order-1", map[string]any{"status": "dup"})
	type repoClassifier interface{ IsConflict() bool }
	var cls repoClassifier
	if !errors.As(err, &cls) || !cls.IsConflict() {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	doc, err := orders.Get(ctx, "order-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if doc.ID != "order-1" || doc.Data["status"] != "ready" {
		t.Fatalf("unexpected document: %#v", doc)
	}

	taken, err := orders.Take(ctx, "order-1")
	if err != nil {
		t.Fatalf("take failed: %v", err)
	}
	if taken.Data["totalAmount"] != 120.5 {
		t.Fatalf("unexpected taken data: %#v", taken.Data)
	}
	if _, err := orders.Take(ctx, "order-1"); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected second take to report not found, got %v", err)
	}

	sentinel := errors.New("rollback please")
	err = provider.RunTransaction(ctx, func(ctx context.Context, _ *firestore.Transaction) error {
		if err := orders.Create(ctx, "order-2", map[string]any{"status": "ready"}); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected callback error unchanged, got %v", err)
	}
	if _, err := orders.Get(ctx, "order-2"); !pfirestore.IsNotFound(err) {
		t.Fatalf("expected rolled back create, got %v", err)
	}

	if err := orders.Set(ctx, "order-3", map[string]any{"status": "ready"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	docs, err := orders.Query(ctx, nil)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected 1 document, got %d", len(docs))
	}
	if err := orders.Delete(ctx, "order-3"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	cancelCtx, cancelTxn := context.WithCancel(context.Background())
	cancelTxn()
	if err := provider.RunTransaction(cancelCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return nil
	}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled error, got %v", err)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	// Shorten the ID to match docker CLI behaviour for stop/remove commands.
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout waiting for endpoint")
	}
	t.Fatalf("emulator did not become ready: %v", lastErr)
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

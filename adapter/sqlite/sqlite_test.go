package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/stashkv/adapter"
)

func connect(t *testing.T) adapter.Adapter {
	t.Helper()
	base := New(Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	h, err := base.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close(context.Background()) })
	bootstrap(t, h)
	return h
}

func bootstrap(t *testing.T, h adapter.Adapter) {
	t.Helper()
	ctx := context.Background()
	if err := h.Create(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.CreateIndex(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestRoundTrip(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	id, err := h.Set(ctx, "k", []byte("v"))
	if err != nil {
		t.Fatal(err)
	}
	if id <= 0 {
		t.Fatalf("Set id = %d, want > 0", id)
	}

	got, ok, err := h.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get = %q, ok=%v, err=%v", got, ok, err)
	}

	if ok, _ := h.Exists(ctx, "k"); !ok {
		t.Fatal("Exists = false for live key")
	}
	if _, ok, _ := h.Get(ctx, "missing"); ok {
		t.Fatal("missing key reported present")
	}

	if n, err := h.Delete(ctx, "k"); err != nil || n != 1 {
		t.Fatalf("Delete = %d, %v", n, err)
	}
	if n, err := h.Delete(ctx, "k"); err != nil || n != 0 {
		t.Fatalf("Delete absent = %d, %v, want 0, nil", n, err)
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	h := connect(t)
	// connect already bootstrapped once; a second pass must not fail
	bootstrap(t, h)
}

func TestOverwritePreservesTTLCadence(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if _, err := h.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if n, err := h.SetExpire(ctx, "k", 100*time.Second); err != nil || n != 1 {
		t.Fatalf("SetExpire = %d, %v", n, err)
	}

	if _, err := h.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	got, ok, _ := h.Get(ctx, "k")
	if !ok || string(got) != "v2" {
		t.Fatalf("Get after overwrite = %q, ok=%v", got, ok)
	}
	remaining, ok, err := h.GetExpire(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetExpire: ok=%v err=%v", ok, err)
	}
	if remaining < 98*time.Second {
		t.Fatalf("remaining = %v, overwrite did not re-arm the window", remaining)
	}
}

func TestDeleteClearsTTLPolicy(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if _, err := h.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.SetExpire(ctx, "k", 100*time.Second); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Delete(ctx, "k"); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.GetExpire(ctx, "k"); ok {
		t.Fatal("TTL policy survived a delete")
	}
}

func TestSetExpireOnMissingKey(t *testing.T) {
	h := connect(t)
	if n, err := h.SetExpire(context.Background(), "missing", time.Minute); err != nil || n != 0 {
		t.Fatalf("SetExpire missing = %d, %v, want 0, nil", n, err)
	}
}

func TestBatchOps(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	items := map[string][]byte{}
	for i := 0; i < 100; i++ {
		items[fmt.Sprintf("k:%03d", i)] = []byte(strconv.Itoa(i))
	}
	if n, err := h.BatchSet(ctx, items); err != nil || n != len(items) {
		t.Fatalf("BatchSet = %d, %v", n, err)
	}

	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	keys = append(keys, "absent")
	got, err := h.BatchGet(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(items) {
		t.Fatalf("BatchGet returned %d values, want %d", len(got), len(items))
	}
	if _, ok := got["absent"]; ok {
		t.Fatal("absent key present in BatchGet result")
	}

	if got, err := h.BatchGet(ctx, nil); err != nil || len(got) != 0 {
		t.Fatalf("BatchGet(nil) = %v, %v", got, err)
	}
}

func TestKeysExcludesExpired(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if _, err := h.Set(ctx, "live", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Set(ctx, "dead", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.SetExpire(ctx, "dead", time.Second); err != nil {
		t.Fatal(err)
	}
	// unix-second granularity: a 1s window is expired once the clock passes
	// the stored second boundary
	time.Sleep(2100 * time.Millisecond)

	keys, err := h.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 1 || keys[0] != "live" {
		t.Fatalf("Keys = %v, want [live]", keys)
	}

	// logically invisible, physically present
	if _, ok, _ := h.Get(ctx, "dead"); ok {
		t.Fatal("expired row visible to Get before sweep")
	}
	if n, _ := h.CountExpired(ctx); n != 1 {
		t.Fatalf("CountExpired = %d, want 1", n)
	}
	if err := h.DeleteExpired(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := h.CountExpired(ctx); n != 0 {
		t.Fatalf("CountExpired after sweep = %d, want 0", n)
	}
}

func TestTransactionCommitAndRollback(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if !h.SupportsTransactions() {
		t.Fatal("sqlite backend must support transactions")
	}

	if err := h.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Set(ctx, "a", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := h.Commit(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.Get(ctx, "a"); !ok {
		t.Fatal("committed write lost")
	}

	if err := h.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.Set(ctx, "b", []byte("2")); err != nil {
		t.Fatal(err)
	}
	if err := h.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h.Get(ctx, "b"); ok {
		t.Fatal("rolled-back write survived")
	}
}

func TestTransactionStateErrors(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if err := h.Commit(ctx); !errors.Is(err, adapter.ErrNoTransaction) {
		t.Fatalf("Commit outside tx = %v, want ErrNoTransaction", err)
	}
	if err := h.Rollback(ctx); !errors.Is(err, adapter.ErrNoTransaction) {
		t.Fatalf("Rollback outside tx = %v, want ErrNoTransaction", err)
	}

	if err := h.Begin(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.Begin(ctx); !errors.Is(err, adapter.ErrTransactionInProgress) {
		t.Fatalf("nested Begin = %v, want ErrTransactionInProgress", err)
	}
	if err := h.Rollback(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestConcurrentWritesSerialize(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	const writers = 20
	const perWriter = 25
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				key := fmt.Sprintf("w%d:%d", w, i)
				if _, err := h.Set(ctx, key, []byte("v")); err != nil {
					t.Errorf("Set %s: %v", key, err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	keys, err := h.Keys(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != writers*perWriter {
		t.Fatalf("got %d keys, want %d", len(keys), writers*perWriter)
	}
}

func TestOperationsOrderFIFO(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	// same key written sequentially from one goroutine; the last submitted
	// value must win because the executor runs submissions in order
	for i := 0; i < 100; i++ {
		if _, err := h.Set(ctx, "k", []byte(strconv.Itoa(i))); err != nil {
			t.Fatal(err)
		}
	}
	got, ok, err := h.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(got) != "99" {
		t.Fatalf("final value = %q, want 99", got)
	}
}

func TestClosedHandleRejectsOperations(t *testing.T) {
	base := New(Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	h, err := base.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	bootstrap(t, h)

	if err := h.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.Close(context.Background()); err != nil {
		t.Fatal("second Close must be a no-op")
	}

	if _, _, err := h.Get(context.Background(), "k"); !errors.Is(err, adapter.ErrClosed) {
		t.Fatalf("Get after Close = %v, want ErrClosed", err)
	}
	if _, err := h.Set(context.Background(), "k", nil); !errors.Is(err, adapter.ErrClosed) {
		t.Fatalf("Set after Close = %v, want ErrClosed", err)
	}
	if err := base.Create(context.Background()); !errors.Is(err, adapter.ErrClosed) {
		t.Fatalf("operation on unconnected base = %v, want ErrClosed", err)
	}
}

func TestHandlesShareDatabaseFile(t *testing.T) {
	base := New(Config{Path: filepath.Join(t.TempDir(), "cache.db")})
	ctx := context.Background()

	h1, err := base.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h1.Close(ctx)
	bootstrap(t, h1)

	h2, err := base.Connect(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer h2.Close(ctx)

	if _, err := h1.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := h2.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("second handle Get = %q, ok=%v, err=%v", got, ok, err)
	}
}

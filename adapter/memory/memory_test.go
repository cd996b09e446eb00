package memory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/stashkv/adapter"
)

func connect(t *testing.T) adapter.Adapter {
	t.Helper()
	Flush()
	t.Cleanup(Flush)
	h, err := New().Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestRoundTrip(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if _, err := h.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	got, ok, err := h.Get(ctx, "k")
	if err != nil || !ok || string(got) != "v" {
		t.Fatalf("Get = %q, ok=%v, err=%v", got, ok, err)
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

func TestOperationsRequireConnect(t *testing.T) {
	a := New()
	if _, err := a.Set(context.Background(), "k", nil); !errors.Is(err, adapter.ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}

	h := connect(t)
	if err := h.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, _, err := h.Get(context.Background(), "k"); !errors.Is(err, adapter.ErrClosed) {
		t.Fatalf("err after Close = %v, want ErrClosed", err)
	}
}

func TestHandlesShareStore(t *testing.T) {
	h1 := connect(t)
	h2, _ := New().Connect(context.Background())
	ctx := context.Background()

	if _, err := h1.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := h2.Get(ctx, "k"); !ok {
		t.Fatal("second handle cannot see first handle's write")
	}
}

func TestOverwritePreservesTTLCadence(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if _, err := h.Set(ctx, "k", []byte("v1")); err != nil {
		t.Fatal(err)
	}
	if n, err := h.SetExpire(ctx, "k", 10*time.Second); err != nil || n != 1 {
		t.Fatalf("SetExpire = %d, %v", n, err)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := h.Set(ctx, "k", []byte("v2")); err != nil {
		t.Fatal(err)
	}

	remaining, ok, err := h.GetExpire(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("GetExpire: ok=%v err=%v", ok, err)
	}
	// the overwrite re-armed the full window, so the remaining lifetime is
	// close to 10s again rather than the ~9.95s a plain keep would leave
	if remaining < 9900*time.Millisecond {
		t.Fatalf("remaining = %v, want close to 10s", remaining)
	}
}

func TestExpiredEntryInvisibleBeforeSweep(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if _, err := h.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	// arm an already-past expiry directly; SetExpire's 1s floor is enforced
	// by the session layer, the store itself accepts any duration
	if _, err := h.SetExpire(ctx, "k", time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)

	if _, ok, _ := h.Get(ctx, "k"); ok {
		t.Fatal("expired entry visible to Get")
	}
	if ok, _ := h.Exists(ctx, "k"); ok {
		t.Fatal("expired entry visible to Exists")
	}
	keys, _ := h.Keys(ctx)
	for _, k := range keys {
		if k == "k" {
			t.Fatal("expired entry listed by Keys")
		}
	}

	// still physically present until the sweep
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

func TestSetExpireOnMissingOrExpired(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if n, err := h.SetExpire(ctx, "missing", time.Second); err != nil || n != 0 {
		t.Fatalf("SetExpire missing = %d, %v, want 0, nil", n, err)
	}

	if _, err := h.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatal(err)
	}
	if _, err := h.SetExpire(ctx, "k", time.Nanosecond); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	if n, _ := h.SetExpire(ctx, "k", time.Minute); n != 0 {
		t.Fatal("SetExpire resurrected an expired entry")
	}
}

func TestBatchOps(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	items := map[string][]byte{}
	for i := 0; i < 200; i++ {
		items[fmt.Sprintf("k:%d", i)] = []byte(strconv.Itoa(i))
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
}

func TestGetReturnsCopy(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	if _, err := h.Set(ctx, "k", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	v, _, _ := h.Get(ctx, "k")
	v[0] = 'x'
	again, _, _ := h.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("stored value mutated through returned slice: %q", again)
	}
}

func TestTransactionsUnsupported(t *testing.T) {
	h := connect(t)
	if h.SupportsTransactions() {
		t.Fatal("memory backend claims transaction support")
	}
	if err := h.Begin(context.Background()); !errors.Is(err, adapter.ErrTransactionsUnsupported) {
		t.Fatalf("Begin = %v, want ErrTransactionsUnsupported", err)
	}
}

func TestConcurrentUpdateConverges(t *testing.T) {
	Flush()
	t.Cleanup(Flush)
	base := New()
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			h, err := base.Connect(ctx)
			if err != nil {
				t.Error(err)
				return
			}
			defer h.Close(ctx)
			m := h.(*Adapter)
			err = m.Update(ctx, "counter", func(v []byte, ok bool) ([]byte, error) {
				n := 0
				if ok {
					n, _ = strconv.Atoi(string(v))
				}
				return []byte(strconv.Itoa(n + 1)), nil
			})
			if err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	h, _ := base.Connect(ctx)
	v, ok, err := h.Get(ctx, "counter")
	if err != nil || !ok {
		t.Fatalf("counter missing: ok=%v err=%v", ok, err)
	}
	if n, _ := strconv.Atoi(string(v)); n != goroutines {
		t.Fatalf("counter = %d, want %d", n, goroutines)
	}
}

func TestConcurrentBatchesOverlap(t *testing.T) {
	h := connect(t)
	ctx := context.Background()

	// two batches share keys; whatever interleaving occurs, every key must
	// end with a complete value from one batch and no operation may hang
	a := map[string][]byte{}
	b := map[string][]byte{}
	keys := make([]string, 0, 100)
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("k:%d", i)
		keys = append(keys, k)
		a[k] = []byte("a")
		b[k] = []byte("b")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := h.BatchSet(ctx, a); err != nil {
				t.Error(err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := h.BatchSet(ctx, b); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	got, err := h.BatchGet(ctx, keys)
	if err != nil {
		t.Fatal(err)
	}
	for _, k := range keys {
		if v := string(got[k]); v != "a" && v != "b" {
			t.Fatalf("key %s = %q, want a or b", k, v)
		}
	}
}

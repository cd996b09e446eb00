package stashkv

import (
	"context"
	"testing"

	"github.com/unkn0wn-root/stashkv/codec"
)

type user struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestTypedRoundTrip(t *testing.T) {
	c := newMemoryCache(t)

	err := c.Session(context.Background(), func(s *Session) error {
		users := As[user](s, codec.JSON[user]{})
		ctx := context.Background()

		if _, err := users.Set(ctx, "u:1", user{Name: "ada", Age: 36}); err != nil {
			return err
		}
		got, ok, err := users.Get(ctx, "u:1")
		if err != nil {
			return err
		}
		if !ok || got.Name != "ada" || got.Age != 36 {
			t.Fatalf("Get = %+v, ok=%v", got, ok)
		}

		if _, ok, err := users.Get(ctx, "u:missing"); err != nil || ok {
			t.Fatalf("missing key: ok=%v err=%v", ok, err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestTypedBatch(t *testing.T) {
	c := newMemoryCache(t)

	err := c.Session(context.Background(), func(s *Session) error {
		users := As[user](s, codec.JSON[user]{})
		ctx := context.Background()

		in := map[string]user{
			"u:1": {Name: "ada"},
			"u:2": {Name: "grace"},
		}
		if n, err := users.BatchSet(ctx, in); err != nil || n != 2 {
			t.Fatalf("BatchSet = %d, %v", n, err)
		}

		out, err := users.BatchGet(ctx, []string{"u:1", "u:2", "u:3"})
		if err != nil {
			return err
		}
		if len(out) != 2 || out["u:1"].Name != "ada" || out["u:2"].Name != "grace" {
			t.Fatalf("BatchGet = %+v", out)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

package settings

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	t.Run("set then get round-trips", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Set(ctx, KeyCoinsOrder, []string{"bitcoin", "ethereum"}); err != nil {
			t.Fatalf("Set: %v", err)
		}

		var order []string
		ok, err := store.Get(ctx, KeyCoinsOrder, &order)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !ok {
			t.Fatal("expected the key to exist")
		}
		if len(order) != 2 || order[0] != "bitcoin" || order[1] != "ethereum" {
			t.Errorf("order = %v", order)
		}
	})

	t.Run("missing key reports false without error", func(t *testing.T) {
		store := NewMemoryStore()
		var token string
		ok, err := store.Get(ctx, KeyDeviceToken, &token)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if ok {
			t.Error("missing key should report false")
		}
	})

	t.Run("remove deletes the key", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Set(ctx, KeyDeviceToken, "token"); err != nil {
			t.Fatal(err)
		}
		if err := store.Remove(ctx, KeyDeviceToken); err != nil {
			t.Fatalf("Remove: %v", err)
		}
		var token string
		if ok, _ := store.Get(ctx, KeyDeviceToken, &token); ok {
			t.Error("removed key should be absent")
		}
	})

	t.Run("set overwrites", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Set(ctx, KeyDeviceToken, "old"); err != nil {
			t.Fatal(err)
		}
		if err := store.Set(ctx, KeyDeviceToken, "new"); err != nil {
			t.Fatal(err)
		}
		var token string
		if _, err := store.Get(ctx, KeyDeviceToken, &token); err != nil {
			t.Fatal(err)
		}
		if token != "new" {
			t.Errorf("token = %q, want %q", token, "new")
		}
	})

	t.Run("type mismatch reports a decode error", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Set(ctx, KeyDeviceToken, "token"); err != nil {
			t.Fatal(err)
		}
		var order []string
		if _, err := store.Get(ctx, KeyDeviceToken, &order); !errors.Is(err, ErrDecode) {
			t.Errorf("err = %v, want ErrDecode", err)
		}
	})

	t.Run("unencodable value reports an encode error", func(t *testing.T) {
		store := NewMemoryStore()
		if err := store.Set(ctx, "bad", make(chan int)); !errors.Is(err, ErrEncode) {
			t.Errorf("err = %v, want ErrEncode", err)
		}
	})
}

package schemacache

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	key := Key("postgres", "appdb", "Users", "columns")
	m.Put(ctx, key, []string{"id", "name"}, 0)

	got, ok := m.Get(ctx, key)
	if !ok || !reflect.DeepEqual(got, []string{"id", "name"}) {
		t.Errorf("Get() = %v, %v", got, ok)
	}

	// имя таблицы в ключе нечувствительно к регистру
	if key != Key("postgres", "appdb", "users", "columns") {
		t.Error("table casing should not affect the key")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	base := time.Now()
	m.now = func() time.Time { return base }

	m.Put(ctx, "k", []string{"v"}, 10*time.Millisecond)
	if _, ok := m.Get(ctx, "k"); !ok {
		t.Fatal("entry should be present before expiry")
	}

	m.now = func() time.Time { return base.Add(20 * time.Millisecond) }
	if _, ok := m.Get(ctx, "k"); ok {
		t.Error("entry should expire after TTL")
	}
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	key := Key("sqlite", "main", "orders", "primary_keys")
	m.Put(ctx, key, []string{"id"}, 0)
	m.Invalidate(ctx, key)
	if _, ok := m.Get(ctx, key); ok {
		t.Error("entry should be gone after Invalidate")
	}
}

func TestMemoryInvalidateTable(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	m.Put(ctx, Key("postgres", "appdb", "orders", "columns"), []string{"id", "total"}, 0)
	m.Put(ctx, Key("postgres", "appdb", "orders", "primary_keys"), []string{"id"}, 0)
	m.Put(ctx, Key("postgres", "appdb", "users", "columns"), []string{"id"}, 0)

	m.InvalidateTable(ctx, "postgres", "appdb", "orders")

	if _, ok := m.Get(ctx, Key("postgres", "appdb", "orders", "columns")); ok {
		t.Error("orders columns should be invalidated")
	}
	if _, ok := m.Get(ctx, Key("postgres", "appdb", "orders", "primary_keys")); ok {
		t.Error("orders primary keys should be invalidated")
	}
	if _, ok := m.Get(ctx, Key("postgres", "appdb", "users", "columns")); !ok {
		t.Error("users entries must survive invalidation of orders")
	}
}

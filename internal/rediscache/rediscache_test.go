package rediscache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/revclient/revclient/types"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c, err := New(ctx, mr.Addr(), WithPrefix("test"))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()
	proxy := types.ProxyRef{Path: "src/main.go", Rev: "abc123"}
	hash := proxy.ContentHash()
	if err := c.Set(ctx, types.KindBlob, hash, []byte("package main")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	data, err := c.Get(ctx, types.KindBlob, hash)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if string(data) != "package main" {
		t.Errorf("data mismatch: %q", data)
	}
	// the same hash under another kind is a separate key
	_, err = c.Get(ctx, types.KindTree, hash)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("kind crossover, expected %v, received %v", types.ErrNotFound, err)
	}
}

func TestMiss(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c, err := New(ctx, mr.Addr())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()
	proxy := types.ProxyRef{Path: "missing.go", Rev: "abc123"}
	_, err = c.Get(ctx, types.KindBlob, proxy.ContentHash())
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected %v, received %v", types.ErrNotFound, err)
	}
}

func TestTTL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	mr := miniredis.RunT(t)
	c, err := New(ctx, mr.Addr(), WithTTL(time.Minute))
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer c.Close()
	proxy := types.ProxyRef{Path: "src/main.go", Rev: "abc123"}
	hash := proxy.ContentHash()
	if err := c.Set(ctx, types.KindBlob, hash, []byte("data")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if _, err := c.Get(ctx, types.KindBlob, hash); err != nil {
		t.Fatalf("get before expiry failed: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	_, err = c.Get(ctx, types.KindBlob, hash)
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("entry survived ttl, err %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := New(ctx, "127.0.0.1:1")
	if err == nil {
		t.Errorf("connect to closed port did not fail")
	}
}

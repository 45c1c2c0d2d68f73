package importer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/revclient/revclient/backing/memstore"
	"github.com/revclient/revclient/config"
	"github.com/revclient/revclient/importq"
	"github.com/revclient/revclient/types"
)

func poolConf(workers, batch, retries int) *config.Reloadable {
	c := config.ConfigNew()
	c.SetDefaults()
	c.Import.Workers = workers
	c.Import.BatchSize = batch
	c.Import.TreeBatchSize = batch
	c.Import.RetryLimit = retries
	c.Import.RetryDelayInit = time.Millisecond
	c.Import.RetryDelayMax = 5 * time.Millisecond
	c.Import.FetchTimeout = 5 * time.Second
	return config.NewReloadable(c)
}

func TestPoolResolvesRequests(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conf := poolConf(2, 4, 1)
	src := memstore.New()
	q := importq.New(importq.WithConfig(conf))
	p := New(q, src, WithConfig(conf))
	p.Start(ctx)
	handles := map[string]*importq.Handle{}
	for i := 0; i < 6; i++ {
		proxy := types.ProxyRef{Path: fmt.Sprintf("src/f%d.go", i), Rev: "abc123"}
		hash := src.SeedBlob(proxy, []byte(fmt.Sprintf("content %d", i)))
		h, _, err := q.FindOrCreate(types.KindBlob, hash, proxy, importq.NewPriority(importq.ClassNormal))
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		handles[fmt.Sprintf("content %d", i)] = h
	}
	treeProxy := types.ProxyRef{Path: "src", Rev: "abc123"}
	treeHash, err := src.SeedTree(treeProxy, types.Tree{Entries: []types.TreeEntry{}})
	if err != nil {
		t.Fatalf("seed tree failed: %v", err)
	}
	treeHandle, _, err := q.FindOrCreate(types.KindTree, treeHash, treeProxy, importq.NewPriority(importq.ClassHigh))
	if err != nil {
		t.Fatalf("enqueue tree failed: %v", err)
	}
	for want, h := range handles {
		obj, err := h.Wait(ctx)
		if err != nil {
			t.Errorf("wait for %q failed: %v", want, err)
			continue
		}
		if string(obj.Data) != want {
			t.Errorf("data mismatch, expected %q, received %q", want, obj.Data)
		}
	}
	obj, err := treeHandle.Wait(ctx)
	if err != nil {
		t.Fatalf("tree wait failed: %v", err)
	}
	if obj.Kind != types.KindTree || obj.Hash != treeHash {
		t.Errorf("unexpected tree object %s %s", obj.Kind, obj.Hash)
	}
	q.Close()
	p.Wait()
}

func TestPoolBatchesRoundTrips(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conf := poolConf(1, 4, 1)
	src := memstore.New()
	q := importq.New(importq.WithConfig(conf))
	handles := make([]*importq.Handle, 4)
	for i := range handles {
		proxy := types.ProxyRef{Path: fmt.Sprintf("src/f%d.go", i), Rev: "abc123"}
		hash := src.SeedBlob(proxy, []byte{byte(i)})
		h, _, err := q.FindOrCreate(types.KindBlob, hash, proxy, importq.NewPriority(importq.ClassNormal))
		if err != nil {
			t.Fatalf("enqueue %d failed: %v", i, err)
		}
		handles[i] = h
	}
	// all four requests are queued before the single worker starts, so they
	// resolve in one round trip
	p := New(q, src, WithConfig(conf))
	p.Start(ctx)
	for i, h := range handles {
		if _, err := h.Wait(ctx); err != nil {
			t.Errorf("wait %d failed: %v", i, err)
		}
	}
	if src.RoundTrips() != 1 {
		t.Errorf("round trip count mismatch, expected 1, received %d", src.RoundTrips())
	}
	q.Close()
	p.Wait()
}

func TestPoolPartialFailure(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conf := poolConf(1, 4, 1)
	src := memstore.New()
	q := importq.New(importq.WithConfig(conf))
	good := types.ProxyRef{Path: "a.txt", Rev: "abc123"}
	missing := types.ProxyRef{Path: "b.txt", Rev: "abc123"}
	goodHash := src.SeedBlob(good, []byte("a"))
	hGood, _, err := q.FindOrCreate(types.KindBlob, goodHash, good, importq.NewPriority(importq.ClassNormal))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	hMissing, _, err := q.FindOrCreate(types.KindBlob, missing.ContentHash(), missing, importq.NewPriority(importq.ClassNormal))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	p := New(q, src, WithConfig(conf))
	p.Start(ctx)
	if _, err := hGood.Wait(ctx); err != nil {
		t.Errorf("good fetch failed: %v", err)
	}
	if _, err := hMissing.Wait(ctx); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("missing fetch, expected %v, received %v", types.ErrNotFound, err)
	}
	q.Close()
	p.Wait()
}

func TestPoolRetriesTransient(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conf := poolConf(1, 4, 3)
	src := memstore.New()
	src.FailRoundTrips(2, fmt.Errorf("connection reset: %w", types.ErrRetryNeeded))
	q := importq.New(importq.WithConfig(conf))
	proxy := types.ProxyRef{Path: "a.txt", Rev: "abc123"}
	hash := src.SeedBlob(proxy, []byte("a"))
	h, _, err := q.FindOrCreate(types.KindBlob, hash, proxy, importq.NewPriority(importq.ClassNormal))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	p := New(q, src, WithConfig(conf))
	p.Start(ctx)
	obj, err := h.Wait(ctx)
	if err != nil {
		t.Fatalf("fetch did not recover: %v", err)
	}
	if string(obj.Data) != "a" {
		t.Errorf("data mismatch: %q", obj.Data)
	}
	if src.RoundTrips() != 3 {
		t.Errorf("round trip count mismatch, expected 3, received %d", src.RoundTrips())
	}
	q.Close()
	p.Wait()
}

func TestPoolRetryLimit(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conf := poolConf(1, 4, 1)
	src := memstore.New()
	src.FailRoundTrips(10, fmt.Errorf("connection reset: %w", types.ErrRetryNeeded))
	q := importq.New(importq.WithConfig(conf))
	proxy := types.ProxyRef{Path: "a.txt", Rev: "abc123"}
	hash := src.SeedBlob(proxy, []byte("a"))
	h, _, err := q.FindOrCreate(types.KindBlob, hash, proxy, importq.NewPriority(importq.ClassNormal))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	p := New(q, src, WithConfig(conf))
	p.Start(ctx)
	_, err = h.Wait(ctx)
	if !errors.Is(err, types.ErrBackoffLimit) {
		t.Errorf("expected %v, received %v", types.ErrBackoffLimit, err)
	}
	if !errors.Is(err, types.ErrRetryNeeded) {
		t.Errorf("cause not preserved, received %v", err)
	}
	q.Close()
	p.Wait()
}

func TestPoolPermanentFailureSkipsRetry(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conf := poolConf(1, 4, 5)
	src := memstore.New()
	boom := errors.New("unauthorized")
	src.FailRoundTrips(1, boom)
	q := importq.New(importq.WithConfig(conf))
	proxy := types.ProxyRef{Path: "a.txt", Rev: "abc123"}
	hash := src.SeedBlob(proxy, []byte("a"))
	h, _, err := q.FindOrCreate(types.KindBlob, hash, proxy, importq.NewPriority(importq.ClassNormal))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	p := New(q, src, WithConfig(conf))
	p.Start(ctx)
	_, err = h.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Errorf("expected %v, received %v", boom, err)
	}
	if src.RoundTrips() != 1 {
		t.Errorf("permanent failure was retried, %d round trips", src.RoundTrips())
	}
	q.Close()
	p.Wait()
}

func TestPoolShutdown(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	conf := poolConf(3, 4, 1)
	src := memstore.New()
	q := importq.New(importq.WithConfig(conf))
	p := New(q, src, WithConfig(conf))
	p.Start(ctx)
	q.Close()
	done := make(chan struct{})
	go func() {
		p.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Errorf("workers did not exit after queue close")
	}
}

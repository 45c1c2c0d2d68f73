// Package importer drains the import queue and resolves requests against a
// backing store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/revclient/revclient/backing"
	"github.com/revclient/revclient/config"
	"github.com/revclient/revclient/importq"
	"github.com/revclient/revclient/types"
)

// Pool runs a fixed set of workers. Each worker dequeues a batch of
// same-kind requests, fetches the content in one round trip, and resolves
// every waiter. Workers exit when the queue closes.
type Pool struct {
	queue *importq.Queue
	src   backing.Store
	conf  *config.Reloadable
	log   *logrus.Logger
	wg    sync.WaitGroup
}

type poolOpts struct {
	conf *config.Reloadable
	log  *logrus.Logger
}

// Opts adjusts the pool configuration.
type Opts func(*poolOpts)

// WithConfig sets the reloadable config for worker count and retry tuning.
func WithConfig(conf *config.Reloadable) Opts {
	return func(o *poolOpts) {
		o.conf = conf
	}
}

// WithLog sets the logger.
func WithLog(log *logrus.Logger) Opts {
	return func(o *poolOpts) {
		o.log = log
	}
}

// New creates a pool reading from queue and fetching through src.
func New(queue *importq.Queue, src backing.Store, opts ...Opts) *Pool {
	po := poolOpts{
		log: &logrus.Logger{Out: io.Discard},
	}
	for _, opt := range opts {
		opt(&po)
	}
	if po.conf == nil {
		po.conf = config.NewReloadable(nil)
	}
	return &Pool{
		queue: queue,
		src:   src,
		conf:  po.conf,
		log:   po.log,
	}
}

// Start launches the workers. The worker count is read once, a changed
// config takes effect on the next Start. The context bounds in-flight
// fetches, shutdown is driven by closing the queue.
func (p *Pool) Start(ctx context.Context) {
	workers := p.conf.Get().Import.Workers
	p.log.WithFields(logrus.Fields{
		"workers": workers,
	}).Debug("Starting import workers")
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run(ctx, i)
	}
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		batch := p.queue.Dequeue(p.maxBatch())
		if batch == nil {
			p.log.WithFields(logrus.Fields{
				"worker": id,
			}).Debug("Import worker exiting")
			return
		}
		p.process(ctx, batch)
	}
}

// maxBatch is the kind-agnostic dequeue bound, the queue applies the
// per-kind batch size below it.
func (p *Pool) maxBatch() int {
	imp := p.conf.Get().Import
	limit := imp.BatchSizeFor(types.KindBlob)
	if t := imp.BatchSizeFor(types.KindTree); t > limit {
		limit = t
	}
	return limit
}

func (p *Pool) process(ctx context.Context, batch []*importq.Request) {
	imp := p.conf.Get().Import
	kind := batch[0].Kind()
	proxies := make([]types.ProxyRef, len(batch))
	for i, req := range batch {
		proxies[i] = req.Proxy()
	}
	p.log.WithFields(logrus.Fields{
		"kind":  kind,
		"count": len(batch),
		"prio":  batch[0].Priority().String(),
	}).Debug("Fetching batch")
	results, err := p.fetch(ctx, kind, proxies, imp)
	if err != nil {
		p.log.WithFields(logrus.Fields{
			"kind":  kind,
			"count": len(batch),
			"err":   err,
		}).Warn("Batch fetch failed")
		for _, req := range batch {
			req.Fail(fmt.Errorf("fetch %s %s: %w", req.Kind(), req.Hash(), err))
		}
		return
	}
	for i, req := range batch {
		if results[i].Err != nil {
			req.Fail(results[i].Err)
			continue
		}
		obj := results[i].Object
		if obj.Hash != req.Hash() {
			req.Fail(fmt.Errorf("%w: requested %s, received %s", types.ErrDigestMismatch, req.Hash(), obj.Hash))
			continue
		}
		req.Complete(obj)
	}
}

// fetch runs one batch round trip, retrying transient failures with
// exponential backoff.
func (p *Pool) fetch(ctx context.Context, kind types.Kind, proxies []types.ProxyRef, imp config.ConfigImport) ([]backing.Result, error) {
	if imp.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, imp.FetchTimeout)
		defer cancel()
	}
	boConf := backoff.NewExponentialBackOff()
	boConf.InitialInterval = imp.RetryDelayInit
	boConf.MaxInterval = imp.RetryDelayMax
	bo := backoff.WithContext(backoff.WithMaxRetries(boConf, uint64(imp.RetryLimit)), ctx)
	var results []backing.Result
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		var err error
		switch kind {
		case types.KindTree:
			results, err = p.src.FetchTreeBatch(ctx, proxies)
		default:
			results, err = p.src.FetchBlobBatch(ctx, proxies)
		}
		if err != nil {
			if errors.Is(err, types.ErrRetryNeeded) {
				return err
			}
			return backoff.Permanent(err)
		}
		return nil
	}, bo)
	if err != nil {
		if errors.Is(err, types.ErrRetryNeeded) {
			return nil, fmt.Errorf("%w after %d attempts: %w", types.ErrBackoffLimit, attempts, err)
		}
		return nil, err
	}
	if len(results) != len(proxies) {
		return nil, fmt.Errorf("backing store returned %d results for %d references", len(results), len(proxies))
	}
	return results, nil
}

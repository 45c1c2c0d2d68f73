package revclient

import (
	"context"
	"fmt"

	"github.com/opencontainers/go-digest"

	"github.com/revclient/revclient/importq"
	"github.com/revclient/revclient/store"
	"github.com/revclient/revclient/types"
)

type treeOpt struct {
	class importq.Class
}

// TreeOpts define options for the Tree* commands
type TreeOpts func(*treeOpt)

// TreeWithPriority sets the priority class for the request, normal by
// default.
func TreeWithPriority(class importq.Class) TreeOpts {
	return func(opts *treeOpt) {
		opts.class = class
	}
}

// TreeGet retrieves a directory listing by its content hash.
func (c *Client) TreeGet(ctx context.Context, hash digest.Digest, opts ...TreeOpts) (types.Object, error) {
	opt := treeOpt{class: importq.ClassNormal}
	for _, optFn := range opts {
		optFn(&opt)
	}
	return c.store.GetTree(ctx, hash, store.WithPriority(opt.class))
}

// TreeResolve records the proxy reference for a tree and retrieves it, the
// entry point after resolving a commit to a root tree reference.
func (c *Client) TreeResolve(ctx context.Context, proxy types.ProxyRef, opts ...TreeOpts) (types.Object, error) {
	opt := treeOpt{class: importq.ClassNormal}
	for _, optFn := range opts {
		optFn(&opt)
	}
	return c.store.ResolveRoot(ctx, proxy, store.WithPriority(opt.class))
}

// WalkFunc is called for every entry visited by TreeWalk. Returning an
// error stops the walk.
type WalkFunc func(entry types.TreeEntry) error

// TreeWalk visits every entry under a root tree, parents before children,
// fetching subtrees through the cache tiers. Entry proxy references are
// recorded along the way so visited hashes stay importable.
func (c *Client) TreeWalk(ctx context.Context, proxy types.ProxyRef, fn WalkFunc, opts ...TreeOpts) error {
	opt := treeOpt{class: importq.ClassNormal}
	for _, optFn := range opts {
		optFn(&opt)
	}
	return c.treeWalk(ctx, proxy, fn, &opt)
}

func (c *Client) treeWalk(ctx context.Context, proxy types.ProxyRef, fn WalkFunc, opt *treeOpt) error {
	obj, err := c.store.ResolveRoot(ctx, proxy, store.WithPriority(opt.class))
	if err != nil {
		return err
	}
	tree, err := types.ParseTree(obj)
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", proxy, err)
	}
	proxies := make(map[digest.Digest]types.ProxyRef, len(tree.Entries))
	for _, entry := range tree.Entries {
		proxies[entry.Hash] = entry.Proxy
	}
	if err := c.store.RecordProxies(proxies); err != nil {
		return err
	}
	for _, entry := range tree.Entries {
		if err := fn(entry); err != nil {
			return err
		}
		if entry.Kind == types.KindTree {
			if err := c.treeWalk(ctx, entry.Proxy, fn, opt); err != nil {
				return err
			}
		}
	}
	return nil
}

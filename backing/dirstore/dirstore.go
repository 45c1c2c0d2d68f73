// Package dirstore serves content from a directory layout of exported
// revisions, one subdirectory per revision holding that revision's file
// tree. Blobs are read straight from disk and trees are synthesized from
// directory listings, so a checkout copied under the root is a usable
// backing store.
package dirstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"

	"github.com/revclient/revclient/backing"
	"github.com/revclient/revclient/types"
)

// Dir is a read-only backing store over a filesystem.
type Dir struct {
	fsys fs.FS
}

// New opens the layout rooted at a directory.
func New(root string) (*Dir, error) {
	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", root, err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("failed to open %s: not a directory", root)
	}
	return &Dir{fsys: os.DirFS(root)}, nil
}

// NewFS wraps an existing filesystem, used by tests.
func NewFS(fsys fs.FS) *Dir {
	return &Dir{fsys: fsys}
}

// FetchBlob reads one file's content at a revision.
func (d *Dir) FetchBlob(ctx context.Context, proxy types.ProxyRef) (types.Object, error) {
	if err := ctx.Err(); err != nil {
		return types.Object{}, err
	}
	name, err := d.entryPath(proxy)
	if err != nil {
		return types.Object{}, err
	}
	fi, err := fs.Stat(d.fsys, name)
	if err != nil || fi.IsDir() {
		return types.Object{}, fmt.Errorf("%w: blob %s", types.ErrNotFound, proxy)
	}
	data, err := fs.ReadFile(d.fsys, name)
	if err != nil {
		return types.Object{}, fmt.Errorf("failed to read %s: %w", proxy, err)
	}
	return types.Object{Kind: types.KindBlob, Hash: proxy.ContentHash(), Data: data}, nil
}

// FetchTree lists one directory at a revision. Entries carry a proxy
// reference for the child path at the same revision so children can be
// fetched lazily.
func (d *Dir) FetchTree(ctx context.Context, proxy types.ProxyRef) (types.Object, error) {
	if err := ctx.Err(); err != nil {
		return types.Object{}, err
	}
	name, err := d.entryPath(proxy)
	if err != nil {
		return types.Object{}, err
	}
	fi, err := fs.Stat(d.fsys, name)
	if err != nil || !fi.IsDir() {
		return types.Object{}, fmt.Errorf("%w: tree %s", types.ErrNotFound, proxy)
	}
	dirEntries, err := fs.ReadDir(d.fsys, name)
	if err != nil {
		return types.Object{}, fmt.Errorf("failed to read %s: %w", proxy, err)
	}
	tree := types.Tree{Entries: make([]types.TreeEntry, 0, len(dirEntries))}
	for _, de := range dirEntries {
		kind := types.KindBlob
		if de.IsDir() {
			kind = types.KindTree
		}
		childProxy := types.ProxyRef{
			Rev:  proxy.Rev,
			Path: path.Join(proxy.Path, de.Name()),
		}
		tree.Entries = append(tree.Entries, types.TreeEntry{
			Name:  de.Name(),
			Kind:  kind,
			Hash:  childProxy.ContentHash(),
			Proxy: childProxy,
		})
	}
	data, err := tree.Marshal()
	if err != nil {
		return types.Object{}, fmt.Errorf("failed to encode tree %s: %w", proxy, err)
	}
	return types.Object{Kind: types.KindTree, Hash: proxy.ContentHash(), Data: data}, nil
}

// FetchBlobBatch reads a group of files, reporting failures per item.
func (d *Dir) FetchBlobBatch(ctx context.Context, proxies []types.ProxyRef) ([]backing.Result, error) {
	return d.fetchBatch(ctx, proxies, d.FetchBlob)
}

// FetchTreeBatch lists a group of directories, reporting failures per item.
func (d *Dir) FetchTreeBatch(ctx context.Context, proxies []types.ProxyRef) ([]backing.Result, error) {
	return d.fetchBatch(ctx, proxies, d.FetchTree)
}

// Close releases the store.
func (d *Dir) Close() error {
	return nil
}

func (d *Dir) fetchBatch(ctx context.Context, proxies []types.ProxyRef, fetch func(context.Context, types.ProxyRef) (types.Object, error)) ([]backing.Result, error) {
	results := make([]backing.Result, len(proxies))
	for i, proxy := range proxies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		results[i].Object, results[i].Err = fetch(ctx, proxy)
	}
	return results, nil
}

// entryPath maps a proxy reference onto the layout, the revision directory
// joined with the in-revision path. An empty path is the revision root.
func (d *Dir) entryPath(proxy types.ProxyRef) (string, error) {
	if proxy.Rev == "" {
		return "", fmt.Errorf("%w: empty revision in %s", types.ErrNotFound, proxy)
	}
	name := proxy.Rev
	if proxy.Path != "" {
		name = proxy.Rev + "/" + proxy.Path
	}
	if !fs.ValidPath(name) {
		return "", fmt.Errorf("%w: invalid path in %s", types.ErrNotFound, proxy)
	}
	return name, nil
}

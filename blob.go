package revclient

import (
	"context"

	"github.com/opencontainers/go-digest"

	"github.com/revclient/revclient/importq"
	"github.com/revclient/revclient/store"
	"github.com/revclient/revclient/types"
)

type blobOpt struct {
	class importq.Class
}

// BlobOpts define options for the Blob* commands
type BlobOpts func(*blobOpt)

// BlobWithPriority sets the priority class for the request, normal by
// default. Coalescing with a pending request promotes it to the higher of
// the two priorities.
func BlobWithPriority(class importq.Class) BlobOpts {
	return func(opts *blobOpt) {
		opts.class = class
	}
}

// BlobGet retrieves file content by its content hash. The proxy reference
// for the hash must be known, either recorded by a tree import that listed
// the blob or registered with ProxyRecord.
func (c *Client) BlobGet(ctx context.Context, hash digest.Digest, opts ...BlobOpts) (types.Object, error) {
	opt := blobOpt{class: importq.ClassNormal}
	for _, optFn := range opts {
		optFn(&opt)
	}
	return c.store.GetBlob(ctx, hash, store.WithPriority(opt.class))
}

// ProxyRecord registers the proxy reference behind a content hash so the
// hash can be imported later on its own.
func (c *Client) ProxyRecord(hash digest.Digest, proxy types.ProxyRef) error {
	return c.store.RecordProxy(hash, proxy)
}

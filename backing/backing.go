// Package backing defines the transport interface the importer fetches
// content through.
package backing

import (
	"context"

	"github.com/revclient/revclient/types"
)

// Result is the outcome for one reference within a batch fetch.
type Result struct {
	Object types.Object
	Err    error
}

// Store retrieves content from a source control history service.
//
// Batch methods return one result per reference in request order, the error
// return is reserved for failures affecting the whole round trip. Transient
// whole-call failures should wrap types.ErrRetryNeeded so the importer can
// retry them. Implementations must be safe for concurrent use.
type Store interface {
	// FetchBlob retrieves one file's content.
	FetchBlob(ctx context.Context, proxy types.ProxyRef) (types.Object, error)
	// FetchTree retrieves one directory listing.
	FetchTree(ctx context.Context, proxy types.ProxyRef) (types.Object, error)
	// FetchBlobBatch retrieves a group of files in one round trip.
	FetchBlobBatch(ctx context.Context, proxies []types.ProxyRef) ([]Result, error)
	// FetchTreeBatch retrieves a group of directory listings in one round trip.
	FetchTreeBatch(ctx context.Context, proxies []types.ProxyRef) ([]Result, error)
	// Close releases the store.
	Close() error
}

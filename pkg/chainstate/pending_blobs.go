package chainstate

import (
	"github.com/certen/microchain/pkg/ids"
	"github.com/certen/microchain/pkg/store"
)

// PendingBlobs holds content-addressed blob bytes referenced by a certified
// proposal that have not yet migrated to the shared blob store (spec.md §3:
// "pending blobs live only until the block that published them commits").
type PendingBlobs struct {
	*store.MapView[ids.BlobId, []byte]
}

func newPendingBlobs(ctx *store.Context) PendingBlobs {
	return PendingBlobs{store.NewMapView[ids.BlobId, []byte](ctx, blobIDKeyCodec{}, rawBytesCodec{})}
}

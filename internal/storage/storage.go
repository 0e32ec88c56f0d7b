// Package storage holds the artifact destinations: the mandatory per-owner
// object store and the optional asset-library mirror.
package storage

import "context"

// ObjectStore durably persists artifact bytes for an owner. It is the
// mandatory destination for every fetched artifact.
type ObjectStore interface {
	// Put stores data under the owner/run/name hierarchy and returns the
	// stored object's path.
	Put(ctx context.Context, ownerID, runID, name string, data []byte) (string, error)
}

// AssetLibrary mirrors artifacts into the asset-library service for end-user
// browsing. Uploads return the library's asset id.
type AssetLibrary interface {
	Upload(ctx context.Context, ownerID, name string, data []byte) (string, error)
}

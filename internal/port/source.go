package port

import (
	"context"
	"io"
)

// ResolvedArtifact describes a fetchable artifact as reported by the registry.
type ResolvedArtifact struct {
	URL      string
	Size     int64  // negative when the registry did not report a size
	Checksum string // hex sha256, empty when unavailable
}

// ArtifactSource resolves artifact references and serves ranged reads.
type ArtifactSource interface {
	// Resolve looks up an artifact reference in the registry and returns a
	// fetchable locator with expected size and optional checksum.
	Resolve(ctx context.Context, ref string) (*ResolvedArtifact, error)

	// Fetch opens the artifact body starting at the given byte offset.
	// The returned total is the full artifact size, or negative when the
	// server did not report a content length.
	Fetch(ctx context.Context, url string, offset int64) (io.ReadCloser, int64, error)
}

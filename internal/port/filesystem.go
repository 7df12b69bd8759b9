package port

import (
	"io"
	"time"
)

// DiskUsage represents disk usage statistics
type DiskUsage struct {
	Total   uint64  // Total disk space in bytes
	Used    uint64  // Used disk space in bytes
	Free    uint64  // Free disk space in bytes
	UsedPct float64 // Used percentage (0-100)
}

// CacheFS defines the filesystem operations the download manager needs.
// In-flight transfers are written to a partial file next to the destination
// and promoted atomically once the transfer completes.
type CacheFS interface {
	// RootDir returns the cache root directory
	RootDir() string

	// PartialPath returns the partial-file location for a destination path
	PartialPath(destPath string) string

	// OpenPartial opens the partial file for appending at the given offset.
	// The file is truncated to offset first so resumed writes stay
	// byte-aligned.
	OpenPartial(destPath string, offset int64) (io.WriteCloser, error)

	// PartialSize returns the current size of the partial file, or 0 when it
	// does not exist.
	PartialSize(destPath string) (int64, error)

	// PartialDigest returns the hex sha256 digest of the partial file.
	PartialDigest(destPath string) (string, error)

	// Promote renames the partial file to its final destination path.
	Promote(destPath string) error

	// DeletePartial removes the partial file. Missing files are not an error.
	DeletePartial(destPath string) error

	// DeleteFile removes a completed cache file. Missing files are not an error.
	DeleteFile(path string) error

	// CacheSize returns the total size of files under the cache root.
	CacheSize() (int64, error)

	// DiskUsage returns disk usage statistics for the cache volume.
	DiskUsage() (*DiskUsage, error)

	// CleanOldPartials removes partial files older than the given age.
	// Returns the number of files deleted.
	CleanOldPartials(olderThan time.Duration) (int, error)
}

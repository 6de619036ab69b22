package actionscache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VersionSalt is folded into every cache version. Bumping it invalidates all
// existing entries without changing caller-visible keys.
const VersionSalt = "1.0"

// CompressionMethod is the archive compression used to produce a cache entry.
type CompressionMethod string

const (
	CompressionGzip CompressionMethod = "gzip"
	// CompressionZstdWithoutLong is zstd without long-distance matching, used
	// where the consumer cannot decode long-mode frames.
	CompressionZstdWithoutLong CompressionMethod = "zstd-without-long"
	CompressionZstd            CompressionMethod = "zstd"
)

// isDefault reports whether the method leaves the version untouched.
// Gzip and the empty method are equivalent.
func (m CompressionMethod) isDefault() bool {
	return m == "" || m == CompressionGzip
}

// ComputeVersion returns the hex-encoded SHA-256 fingerprint for a path set
// and compression method. Path order is significant.
func ComputeVersion(paths []string, method CompressionMethod) string {
	components := make([]string, 0, len(paths)+2)
	components = append(components, paths...)
	if !method.isDefault() {
		components = append(components, string(method))
	}
	components = append(components, VersionSalt)

	sum := sha256.Sum256([]byte(strings.Join(components, "|")))
	return hex.EncodeToString(sum[:])
}

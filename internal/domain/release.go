package domain

// Release describes where to fetch one version for one platform and how to
// check what arrives. It is recomputed on every resolution and never
// persisted.
type Release struct {
	Version Version
	// Platform is the release platform key the asset was matched against,
	// e.g. "Linux-x86_64".
	Platform  string
	AssetName string
	URL       string
	// Checksum is the expected lowercase hex SHA-256 of the archive.
	Checksum string
	// Size is the advertised archive size in bytes, or zero when unknown.
	Size int64
	// SignatureURL points at a detached OpenPGP signature, if published.
	SignatureURL string
}

// CacheKey identifies the cache entry and download lock for r.
func (r Release) CacheKey() string {
	return r.Version.String() + "-" + r.Platform
}

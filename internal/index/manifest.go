package index

import (
	"context"
	"encoding/json"
	"net/url"
	"path"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// manifestDoc is the JSON document served by a mirror:
//
//	{"releases": [{"version": "21.1.1", "assets": {"Linux-x86_64": {"url": "...", "sha256": "..."}}}]}
//
// Relative asset URLs are resolved against the manifest URL.
type manifestDoc struct {
	Releases []manifestRelease `json:"releases"`
}

type manifestRelease struct {
	Version    string                   `json:"version"`
	Prerelease bool                     `json:"prerelease"`
	Assets     map[string]manifestAsset `json:"assets"`
}

type manifestAsset struct {
	URL          string `json:"url"`
	SHA256       string `json:"sha256"`
	Size         int64  `json:"size"`
	SignatureURL string `json:"signature_url"`
}

// ManifestSource reads a static JSON manifest. The manifest is fetched on
// every call; nothing is cached between resolutions.
type ManifestSource struct {
	url   *url.URL
	fetch *fetcher
}

// NewManifestSource returns a source for the manifest at rawURL.
func NewManifestSource(rawURL string, opts ...Option) (*ManifestSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, zerr.With(zerr.New("manifest url must be http(s)"), "url", rawURL)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &ManifestSource{url: u, fetch: newFetcher(o, rawURL)}, nil
}

// Releases lists every release in the manifest. Entries with invalid
// versions make the whole manifest malformed.
func (s *ManifestSource) Releases(ctx context.Context) ([]Release, error) {
	body, err := s.fetch.get(ctx, s.url.String(), "application/json")
	if err != nil {
		return nil, zerr.Wrap(err, "fetch manifest")
	}

	var doc manifestDoc
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, domain.Classify(domain.ErrResolutionFailed, zerr.Wrap(err, "decode manifest"))
	}

	out := make([]Release, 0, len(doc.Releases))
	for _, mr := range doc.Releases {
		v, err := domain.ParseVersion(mr.Version)
		if err != nil {
			return nil, domain.Classify(domain.ErrResolutionFailed, zerr.Wrap(err, "manifest lists an invalid version"))
		}
		rel := Release{Version: v, Prerelease: mr.Prerelease}
		for key, ma := range mr.Assets {
			ref, err := url.Parse(ma.URL)
			if err != nil || ma.URL == "" {
				return nil, domain.Classify(domain.ErrResolutionFailed,
					zerr.With(zerr.New("manifest asset has an invalid url"), "version", v.String()))
			}
			abs := s.url.ResolveReference(ref)
			asset := Asset{
				Name:     path.Base(abs.Path),
				URL:      abs.String(),
				Size:     ma.Size,
				Platform: key,
				Checksum: ma.SHA256,
			}
			if ma.SignatureURL != "" {
				if sig, err := url.Parse(ma.SignatureURL); err == nil {
					asset.SignatureURL = s.url.ResolveReference(sig).String()
				}
			}
			rel.Assets = append(rel.Assets, asset)
		}
		out = append(out, rel)
	}
	return out, nil
}

// Release finds v in the manifest.
func (s *ManifestSource) Release(ctx context.Context, v domain.Version) (*Release, error) {
	releases, err := s.Releases(ctx)
	if err != nil {
		return nil, err
	}
	for i := range releases {
		if releases[i].Version == v {
			return &releases[i], nil
		}
	}
	return nil, zerr.With(zerr.Wrap(domain.ErrVersionNotFound, "version not in manifest"), "version", v.String())
}

// Checksum returns the inline digest.
func (s *ManifestSource) Checksum(_ context.Context, a Asset) (string, error) {
	if a.Checksum == "" {
		return "", domain.Classify(domain.ErrResolutionFailed, zerr.With(zerr.New("manifest asset has no sha256"), "asset", a.Name))
	}
	return normalizeChecksum(a.Checksum)
}

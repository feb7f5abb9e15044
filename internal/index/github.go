package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/platform"
)

const (
	githubAccept = "application/vnd.github+json"
	perPage      = 100
	maxPages     = 5
)

type githubRelease struct {
	TagName    string        `json:"tag_name"`
	Draft      bool          `json:"draft"`
	Prerelease bool          `json:"prerelease"`
	Assets     []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// GitHubSource reads releases from the GitHub releases API. Only tags of
// the form <prefix><semver><suffix> are considered toolchain releases; the
// repository publishes other products alongside.
type GitHubSource struct {
	opts  options
	owner string
	repo  string
	fetch *fetcher
}

// NewGitHubSource returns a source for repo ("owner/name").
func NewGitHubSource(repo string, opts ...Option) (*GitHubSource, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return nil, zerr.With(zerr.New("repository must be owner/name"), "repo", repo)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &GitHubSource{
		opts:  o,
		owner: owner,
		repo:  name,
		fetch: newFetcher(o, o.baseURL),
	}, nil
}

// Releases lists non-draft toolchain releases, following pagination up to
// a fixed number of pages.
func (s *GitHubSource) Releases(ctx context.Context) ([]Release, error) {
	var out []Release
	for page := 1; page <= maxPages; page++ {
		pageURL := fmt.Sprintf("%s/repos/%s/%s/releases?per_page=%d&page=%d",
			s.opts.baseURL, url.PathEscape(s.owner), url.PathEscape(s.repo), perPage, page)
		body, err := s.fetch.get(ctx, pageURL, githubAccept)
		if err != nil {
			return nil, zerr.Wrap(err, "list releases")
		}

		var raw []githubRelease
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, domain.Classify(domain.ErrResolutionFailed, zerr.Wrap(err, "decode release list"))
		}
		for _, gr := range raw {
			if rel, ok := s.convert(gr); ok {
				out = append(out, rel)
			}
		}
		if len(raw) < perPage {
			break
		}
	}
	return out, nil
}

// Release fetches the release tagged for v.
func (s *GitHubSource) Release(ctx context.Context, v domain.Version) (*Release, error) {
	tag := s.opts.tagPrefix + v.Bare() + s.opts.tagSuffix
	tagURL := fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s",
		s.opts.baseURL, url.PathEscape(s.owner), url.PathEscape(s.repo), url.PathEscape(tag))

	body, err := s.fetch.get(ctx, tagURL, githubAccept)
	if err != nil {
		if isNotFound(err) {
			return nil, zerr.With(zerr.Wrap(domain.ErrVersionNotFound, "no such release"), "version", v.String())
		}
		return nil, zerr.With(zerr.Wrap(err, "get release"), "version", v.String())
	}

	var gr githubRelease
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, domain.Classify(domain.ErrResolutionFailed, zerr.With(zerr.Wrap(err, "decode release"), "version", v.String()))
	}
	rel, ok := s.convert(gr)
	if !ok {
		return nil, zerr.With(zerr.Wrap(domain.ErrVersionNotFound, "tag is not a published toolchain release"), "tag", tag)
	}
	return &rel, nil
}

// Checksum downloads the asset's .sha256 sibling.
func (s *GitHubSource) Checksum(ctx context.Context, a Asset) (string, error) {
	if a.Checksum != "" {
		return normalizeChecksum(a.Checksum)
	}
	if a.ChecksumURL == "" {
		return "", domain.Classify(domain.ErrResolutionFailed, zerr.With(zerr.New("release publishes no checksum for asset"), "asset", a.Name))
	}
	body, err := s.fetch.get(ctx, a.ChecksumURL, "")
	if err != nil {
		return "", zerr.With(zerr.Wrap(err, "fetch checksum"), "asset", a.Name)
	}
	return parseChecksumFile(body)
}

// convert maps a GitHub release onto Release, pairing each archive with its
// .sha256 and .asc siblings. It reports false for drafts and foreign tags.
func (s *GitHubSource) convert(gr githubRelease) (Release, bool) {
	if gr.Draft {
		return Release{}, false
	}
	bare, ok := strings.CutPrefix(gr.TagName, s.opts.tagPrefix)
	if !ok {
		return Release{}, false
	}
	bare, ok = strings.CutSuffix(bare, s.opts.tagSuffix)
	if !ok {
		return Release{}, false
	}
	v, err := domain.ParseVersion(bare)
	if err != nil {
		return Release{}, false
	}

	urls := make(map[string]string, len(gr.Assets))
	for _, a := range gr.Assets {
		urls[a.Name] = a.BrowserDownloadURL
	}

	rel := Release{Version: v, Prerelease: gr.Prerelease}
	for _, a := range gr.Assets {
		if platform.ArchiveExtension(a.Name) == "" {
			continue
		}
		asset := Asset{
			Name:        a.Name,
			URL:         a.BrowserDownloadURL,
			Size:        a.Size,
			ChecksumURL: urls[a.Name+".sha256"],
		}
		if sig, ok := urls[a.Name+".asc"]; ok {
			asset.SignatureURL = sig
		} else if sig, ok := urls[a.Name+".sig"]; ok {
			asset.SignatureURL = sig
		}
		rel.Assets = append(rel.Assets, asset)
	}
	return rel, true
}

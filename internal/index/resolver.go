package index

import (
	"context"
	"slices"

	"go.trai.ch/zerr"
	"golang.org/x/mod/semver"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/platform"
)

// Resolver maps version tokens to release descriptors for one host.
type Resolver struct {
	source Source
	host   *platform.Info
	logger domain.Logger
}

// NewResolver returns a resolver for host backed by source.
func NewResolver(source Source, host *platform.Info, logger domain.Logger) *Resolver {
	return &Resolver{source: source, host: host, logger: domain.LoggerOrNop(logger)}
}

// Resolve turns token ("latest" or a version) into a descriptor for the
// host platform. "latest" always queries the index.
func (r *Resolver) Resolve(ctx context.Context, token string) (*domain.Release, error) {
	var (
		rel *Release
		err error
	)
	if domain.IsAlias(token) {
		rel, err = r.latest(ctx)
	} else {
		var v domain.Version
		v, err = domain.ParseVersion(token)
		if err != nil {
			return nil, domain.Classify(domain.ErrVersionNotFound, zerr.With(err, "token", token))
		}
		rel, err = r.source.Release(ctx, v)
	}
	if err != nil {
		return nil, err
	}

	asset, key, ok := r.pickAsset(rel)
	if !ok {
		return nil, zerr.With(zerr.With(zerr.Wrap(domain.ErrVersionNotFound, "release has no asset for this platform"),
			"version", rel.Version.String()), "platform", r.host.Key())
	}

	sum, err := r.source.Checksum(ctx, asset)
	if err != nil {
		return nil, zerr.With(err, "version", rel.Version.String())
	}

	r.logger.Debug("resolved toolchain", "token", token, "version", rel.Version.String(), "asset", asset.Name)
	return &domain.Release{
		Version:      rel.Version,
		Platform:     key,
		AssetName:    asset.Name,
		URL:          asset.URL,
		Checksum:     sum,
		Size:         asset.Size,
		SignatureURL: asset.SignatureURL,
	}, nil
}

// Available lists the versions the index offers for this host, ascending.
func (r *Resolver) Available(ctx context.Context) ([]domain.Version, error) {
	releases, err := r.source.Releases(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.Version
	for i := range releases {
		if _, _, ok := r.pickAsset(&releases[i]); ok {
			out = append(out, releases[i].Version)
		}
	}
	domain.SortVersions(out)
	return slices.Compact(out), nil
}

// latest picks the newest release with an asset for this host, preferring
// stable releases.
func (r *Resolver) latest(ctx context.Context) (*Release, error) {
	releases, err := r.source.Releases(ctx)
	if err != nil {
		return nil, err
	}
	if len(releases) == 0 {
		return nil, domain.Classify(domain.ErrResolutionFailed, zerr.New("index lists no releases"))
	}

	var stable, pre *Release
	for i := range releases {
		rel := &releases[i]
		if _, _, ok := r.pickAsset(rel); !ok {
			continue
		}
		if rel.Prerelease || isSemverPrerelease(rel.Version) {
			if pre == nil || rel.Version.Compare(pre.Version) > 0 {
				pre = rel
			}
			continue
		}
		if stable == nil || rel.Version.Compare(stable.Version) > 0 {
			stable = rel
		}
	}
	switch {
	case stable != nil:
		return stable, nil
	case pre != nil:
		return pre, nil
	default:
		return nil, zerr.With(zerr.Wrap(domain.ErrVersionNotFound, "no release has an asset for this platform"), "platform", r.host.Key())
	}
}

// pickAsset chooses the best asset of rel for the host. Assets with an
// explicit platform key are matched by key preference; others by name.
func (r *Resolver) pickAsset(rel *Release) (Asset, string, bool) {
	for _, key := range r.host.Keys() {
		for _, a := range rel.Assets {
			if a.Platform == key {
				return a, key, true
			}
		}
	}

	names := make([]string, 0, len(rel.Assets))
	idx := make([]int, 0, len(rel.Assets))
	for i, a := range rel.Assets {
		if a.Platform == "" {
			names = append(names, a.Name)
			idx = append(idx, i)
		}
	}
	best, key := r.host.BestAsset(names)
	if best < 0 {
		return Asset{}, "", false
	}
	return rel.Assets[idx[best]], key, true
}

func isSemverPrerelease(v domain.Version) bool {
	return semver.Prerelease(v.String()) != ""
}

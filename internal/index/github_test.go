package index

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

const testSum = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func ghAsset(base, name string) githubAsset {
	return githubAsset{Name: name, BrowserDownloadURL: base + "/download/" + name, Size: 42}
}

// newGitHubServer serves a releases list and per-tag lookups built from
// tags. Every release carries Linux and Windows assets with checksums.
func newGitHubServer(t *testing.T, tags ...string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	var srv *httptest.Server
	release := func(tag string) githubRelease {
		bare := strings.TrimSuffix(strings.TrimPrefix(tag, "release-"), "-ATfE")
		linux := "ATfE-" + bare + "-Linux-x86_64.tar.xz"
		win := "ATfE-" + bare + "-Windows-x86_64.zip"
		return githubRelease{
			TagName: tag,
			Assets: []githubAsset{
				ghAsset(srv.URL, linux),
				ghAsset(srv.URL, linux+".sha256"),
				ghAsset(srv.URL, linux+".asc"),
				ghAsset(srv.URL, win),
			},
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/repos/arm/arm-toolchain/releases", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		var out []githubRelease
		if r.URL.Query().Get("page") == "1" {
			for _, tag := range tags {
				out = append(out, release(tag))
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/repos/arm/arm-toolchain/releases/tags/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		tag := strings.TrimPrefix(r.URL.Path, "/repos/arm/arm-toolchain/releases/tags/")
		for _, known := range tags {
			if known == tag {
				_ = json.NewEncoder(w).Encode(release(tag))
				return
			}
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/download/", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if strings.HasSuffix(r.URL.Path, ".sha256") {
			fmt.Fprintf(w, "%s  %s\n", strings.ToUpper(testSum), strings.TrimSuffix(r.URL.Path, ".sha256"))
			return
		}
		http.NotFound(w, r)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &hits
}

func TestGitHubSourceReleases(t *testing.T) {
	srv, _ := newGitHubServer(t, "release-21.1.1-ATfE", "release-19.1.5-ATfE", "llvmorg-21.1.0", "release-bogus-ATfE")
	src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(srv.URL))
	require.NoError(t, err)

	releases, err := src.Releases(context.Background())
	require.NoError(t, err)
	require.Len(t, releases, 2, "foreign and malformed tags are skipped")
	assert.Equal(t, domain.Version("v21.1.1"), releases[0].Version)

	assets := releases[0].Assets
	require.Len(t, assets, 2, "checksum and signature files are not assets")
	assert.Equal(t, "ATfE-21.1.1-Linux-x86_64.tar.xz", assets[0].Name)
	assert.Equal(t, srv.URL+"/download/ATfE-21.1.1-Linux-x86_64.tar.xz.sha256", assets[0].ChecksumURL)
	assert.Equal(t, srv.URL+"/download/ATfE-21.1.1-Linux-x86_64.tar.xz.asc", assets[0].SignatureURL)
	assert.Empty(t, assets[1].ChecksumURL)
}

func TestGitHubSourceRelease(t *testing.T) {
	srv, _ := newGitHubServer(t, "release-21.1.1-ATfE")
	src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(srv.URL))
	require.NoError(t, err)

	rel, err := src.Release(context.Background(), "v21.1.1")
	require.NoError(t, err)
	assert.Equal(t, domain.Version("v21.1.1"), rel.Version)

	_, err = src.Release(context.Background(), "v1.0.0")
	assert.ErrorIs(t, err, domain.ErrVersionNotFound)
}

func TestGitHubSourceChecksum(t *testing.T) {
	srv, _ := newGitHubServer(t, "release-21.1.1-ATfE")
	src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(srv.URL))
	require.NoError(t, err)

	sum, err := src.Checksum(context.Background(), Asset{
		Name:        "a.tar.xz",
		ChecksumURL: srv.URL + "/download/a.tar.xz.sha256",
	})
	require.NoError(t, err)
	assert.Equal(t, testSum, sum, "checksums are normalised to lowercase")

	_, err = src.Checksum(context.Background(), Asset{Name: "b.zip"})
	assert.ErrorIs(t, err, domain.ErrResolutionFailed)
}

func TestGitHubSourceToken(t *testing.T) {
	var gotAuth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(srv.URL), WithToken("s3cret"), WithUserAgent("armtc-test"))
	require.NoError(t, err)
	_, err = src.Releases(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer s3cret", gotAuth.Load())
}

func TestGitHubSourceErrors(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Reset", fmt.Sprint(time.Now().Add(time.Hour).Unix()))
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(srv.URL))
		require.NoError(t, err)
		_, err = src.Releases(context.Background())
		require.ErrorIs(t, err, domain.ErrResolutionFailed)
		var rl *RateLimitError
		assert.ErrorAs(t, err, &rl)
		assert.Equal(t, 60, rl.Limit)
	})

	t.Run("malformed json", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}))
		defer srv.Close()

		src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(srv.URL))
		require.NoError(t, err)
		_, err = src.Releases(context.Background())
		assert.ErrorIs(t, err, domain.ErrResolutionFailed)
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(srv.URL))
		require.NoError(t, err)
		_, err = src.Release(context.Background(), "v21.1.1")
		assert.ErrorIs(t, err, domain.ErrResolutionFailed)
		assert.NotErrorIs(t, err, domain.ErrVersionNotFound)
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		base := srv.URL
		srv.Close()

		src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(base))
		require.NoError(t, err)
		_, err = src.Releases(context.Background())
		assert.ErrorIs(t, err, domain.ErrResolutionFailed)
		assert.ErrorIs(t, err, domain.ErrNetwork)
	})

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-release
		}))
		defer srv.Close()
		defer close(release)

		client := &http.Client{Timeout: 50 * time.Millisecond}
		src, err := NewGitHubSource("arm/arm-toolchain", WithBaseURL(srv.URL), WithHTTPClient(client))
		require.NoError(t, err)
		_, err = src.Releases(context.Background())
		assert.ErrorIs(t, err, domain.ErrResolutionFailed)
		assert.ErrorIs(t, err, domain.ErrTimeout)
		assert.Equal(t, domain.ErrTimeout, domain.KindOf(err))
	})
}

func TestNewGitHubSourceValidatesRepo(t *testing.T) {
	for _, repo := range []string{"", "arm", "/x", "a/b/c"} {
		_, err := NewGitHubSource(repo)
		assert.Error(t, err, repo)
	}
}

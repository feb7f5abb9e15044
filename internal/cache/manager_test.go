package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
	"github.com/ZebulonRouseFrantzich/armtc/internal/lockfile"
	"github.com/ZebulonRouseFrantzich/armtc/internal/testutil"
)

const testPlatform = "Linux-x86_64"

func newTestManager(t *testing.T, opts Options) (*Manager, domain.Layout, *lockfile.Locker) {
	t.Helper()
	layout, err := domain.NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.Ensure())
	locker := lockfile.New(layout.LocksDir(), lockfile.WithPollInterval(5*time.Millisecond))
	m, err := New(layout, locker, opts)
	require.NoError(t, err)
	return m, layout, locker
}

func testRelease(idx *testutil.FakeIndex, version, name string, data []byte) *domain.Release {
	return &domain.Release{
		Version:   domain.Version(version),
		Platform:  testPlatform,
		AssetName: name,
		URL:       idx.Server.URL + "/files/" + name,
		Checksum:  testutil.SHA256(data),
		Size:      int64(len(data)),
	}
}

func TestFetch(t *testing.T) {
	m, layout, locker := newTestManager(t, Options{})
	idx := testutil.NewFakeIndex(t, testPlatform)
	data := []byte("toolchain archive bytes")
	idx.AddRelease("v21.1.1", "atfe.tar.xz", data)
	rel := testRelease(idx, "v21.1.1", "atfe.tar.xz", data)

	var last int64
	entry, err := m.Fetch(context.Background(), rel, FetchOptions{
		Progress: func(done, total int64) {
			last = done
			assert.Equal(t, int64(len(data)), total)
		},
	})
	require.NoError(t, err)
	defer entry.Close()

	assert.Equal(t, filepath.Join(layout.CacheEntryDir("v21.1.1-Linux-x86_64"), "atfe.tar.xz"), entry.Path)
	got, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.NoFileExists(t, entry.Path+partSuffix)
	assert.Equal(t, int64(len(data)), last)

	// The download lock stays held while the entry is open.
	_, err = locker.Exclusive(context.Background(), domain.DownloadLockName(rel.CacheKey()), lockfile.NonBlocking)
	require.ErrorIs(t, err, domain.ErrBusy)

	require.NoError(t, entry.Remove())
	require.NoError(t, entry.Remove())
	assert.NoDirExists(t, layout.CacheEntryDir(rel.CacheKey()))

	require.NoError(t, entry.Close())
	require.NoError(t, entry.Close())
	lock, err := locker.Exclusive(context.Background(), domain.DownloadLockName(rel.CacheKey()), lockfile.NonBlocking)
	require.NoError(t, err)
	require.NoError(t, lock.Release())
}

func TestFetchRedownloadsStaleFiles(t *testing.T) {
	m, layout, _ := newTestManager(t, Options{})
	idx := testutil.NewFakeIndex(t, testPlatform)
	data := []byte("fresh")
	idx.AddRelease("v21.1.1", "atfe.tar.xz", data)
	rel := testRelease(idx, "v21.1.1", "atfe.tar.xz", data)

	dir := layout.CacheEntryDir(rel.CacheKey())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "atfe.tar.xz.part"), []byte("stale partial download that is longer"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "atfe.tar.xz"), data, 0o644))

	entry, err := m.Fetch(context.Background(), rel, FetchOptions{})
	require.NoError(t, err)
	defer entry.Close()

	got, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 1, idx.Downloads("atfe.tar.xz"))
}

func TestFetchChecksumMismatch(t *testing.T) {
	m, layout, locker := newTestManager(t, Options{})
	idx := testutil.NewFakeIndex(t, testPlatform)
	data := []byte("tampered")
	idx.AddRelease("v21.1.1", "atfe.tar.xz", data)
	rel := testRelease(idx, "v21.1.1", "atfe.tar.xz", data)
	rel.Checksum = testutil.SHA256([]byte("original"))

	entry, err := m.Fetch(context.Background(), rel, FetchOptions{})
	require.ErrorIs(t, err, domain.ErrChecksumMismatch)
	assert.Nil(t, entry)
	assert.NoDirExists(t, layout.CacheEntryDir(rel.CacheKey()))

	lock, err := locker.Exclusive(context.Background(), domain.DownloadLockName(rel.CacheKey()), lockfile.NonBlocking)
	require.NoError(t, err, "lock must be released after a failed fetch")
	require.NoError(t, lock.Release())
}

func TestFetchHTTPErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		resolution bool
	}{
		{name: "not found", status: http.StatusNotFound, resolution: true},
		{name: "server error", status: http.StatusInternalServerError},
		{name: "forbidden", status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			m, _, _ := newTestManager(t, Options{})
			rel := &domain.Release{Version: "v1.0.0", Platform: testPlatform, AssetName: "a.zip", URL: srv.URL + "/a.zip", Checksum: "00"}
			_, err := m.Fetch(context.Background(), rel, FetchOptions{})
			require.ErrorIs(t, err, domain.ErrNetwork)
			assert.Equal(t, tt.resolution, errors.Is(err, domain.ErrResolutionFailed))
		})
	}
}

func TestFetchResumesAfterCancel(t *testing.T) {
	m, layout, _ := newTestManager(t, Options{})
	idx := testutil.NewFakeIndex(t, testPlatform)
	data := bytes.Repeat([]byte("0123456789abcdef"), 4<<10)
	idx.AddRelease("v21.1.1", "atfe.tar.xz", data)
	rel := testRelease(idx, "v21.1.1", "atfe.tar.xz", data)
	part := filepath.Join(layout.CacheEntryDir(rel.CacheKey()), "atfe.tar.xz.part")

	started, release := idx.HoldDownloads()
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := m.Fetch(ctx, rel, FetchOptions{})
		errc <- err
	}()

	<-started
	half := int64(len(data) / 2)
	require.Eventually(t, func() bool {
		info, err := os.Stat(part)
		return err == nil && info.Size() == half
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.ErrorIs(t, <-errc, context.Canceled)

	info, err := os.Stat(part)
	require.NoError(t, err, "an interrupted download keeps its partial file")
	assert.Equal(t, half, info.Size())

	var last int64
	entry, err := m.Fetch(context.Background(), rel, FetchOptions{
		Progress: func(done, _ int64) { last = done },
	})
	require.NoError(t, err)
	defer entry.Close()

	got, err := os.ReadFile(entry.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, []string{fmt.Sprintf("bytes=%d-", half)}, idx.Ranges("atfe.tar.xz"))
	assert.Equal(t, 2, idx.Downloads("atfe.tar.xz"))
	assert.Equal(t, int64(len(data)), last)
}

func TestFetchResumeFallbacks(t *testing.T) {
	data := bytes.Repeat([]byte("toolchain"), 512)

	tests := []struct {
		name        string
		partial     []byte
		unknownSize bool
		ignoreRange bool
		wantRanges  []string
		wantGets    int
	}{
		{
			name:       "complete partial is only verified",
			partial:    data,
			wantGets:   0,
			wantRanges: nil,
		},
		{
			name:        "server ignores range",
			partial:     data[:100],
			ignoreRange: true,
			wantRanges:  []string{"bytes=100-"},
			wantGets:    1,
		},
		{
			name:       "corrupt prefix is fetched again",
			partial:    bytes.Repeat([]byte("?"), 100),
			wantRanges: []string{"bytes=100-"},
			wantGets:   2,
		},
		{
			name:        "range past the end",
			partial:     append(append([]byte(nil), data...), "trailing"...),
			unknownSize: true,
			wantRanges:  []string{fmt.Sprintf("bytes=%d-", len(data)+8)},
			wantGets:    2,
		},
		{
			name:       "partial larger than the asset",
			partial:    append(append([]byte(nil), data...), "trailing"...),
			wantRanges: nil,
			wantGets:   1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, layout, _ := newTestManager(t, Options{})
			idx := testutil.NewFakeIndex(t, testPlatform)
			idx.AddRelease("v21.1.1", "atfe.tar.xz", data)
			if tt.ignoreRange {
				idx.IgnoreRanges()
			}
			rel := testRelease(idx, "v21.1.1", "atfe.tar.xz", data)
			if tt.unknownSize {
				rel.Size = 0
			}
			dir := layout.CacheEntryDir(rel.CacheKey())
			require.NoError(t, os.MkdirAll(dir, 0o755))
			require.NoError(t, os.WriteFile(filepath.Join(dir, "atfe.tar.xz.part"), tt.partial, 0o644))

			entry, err := m.Fetch(context.Background(), rel, FetchOptions{})
			require.NoError(t, err)
			defer entry.Close()

			got, err := os.ReadFile(entry.Path)
			require.NoError(t, err)
			assert.Equal(t, data, got)
			assert.Equal(t, tt.wantRanges, idx.Ranges("atfe.tar.xz"))
			assert.Equal(t, tt.wantGets, idx.Downloads("atfe.tar.xz"))
		})
	}
}

func TestFetchMissingAssetDropsPartial(t *testing.T) {
	m, layout, _ := newTestManager(t, Options{})
	idx := testutil.NewFakeIndex(t, testPlatform)
	rel := testRelease(idx, "v21.1.1", "gone.tar.xz", []byte("whatever"))
	dir := layout.CacheEntryDir(rel.CacheKey())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gone.tar.xz.part"), []byte("what"), 0o644))

	_, err := m.Fetch(context.Background(), rel, FetchOptions{})
	require.ErrorIs(t, err, domain.ErrResolutionFailed)
	assert.NoDirExists(t, dir)
}

func TestFetchNonBlockingBusy(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	idx := testutil.NewFakeIndex(t, testPlatform)
	data := []byte("archive")
	idx.AddRelease("v21.1.1", "atfe.tar.xz", data)
	rel := testRelease(idx, "v21.1.1", "atfe.tar.xz", data)

	entry, err := m.Fetch(context.Background(), rel, FetchOptions{})
	require.NoError(t, err)
	defer entry.Close()

	_, err = m.Fetch(context.Background(), rel, FetchOptions{NonBlocking: true})
	require.ErrorIs(t, err, domain.ErrBusy)
	assert.Equal(t, 1, idx.Downloads("atfe.tar.xz"))
}

func TestFetchWaiterSkips(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	idx := testutil.NewFakeIndex(t, testPlatform)
	data := []byte("archive")
	idx.AddRelease("v21.1.1", "atfe.tar.xz", data)
	rel := testRelease(idx, "v21.1.1", "atfe.tar.xz", data)

	first, err := m.Fetch(context.Background(), rel, FetchOptions{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := m.Fetch(context.Background(), rel, FetchOptions{
			Skip: func(context.Context) (bool, error) { return true, nil },
		})
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("waiter returned before the first download finished: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Remove())
	require.NoError(t, first.Close())
	require.ErrorIs(t, <-done, ErrSkipped)
	assert.Equal(t, 1, idx.Downloads("atfe.tar.xz"))
}

func TestFetchBlockedWaiterHonoursContext(t *testing.T) {
	m, _, _ := newTestManager(t, Options{})
	idx := testutil.NewFakeIndex(t, testPlatform)
	data := []byte("archive")
	idx.AddRelease("v21.1.1", "atfe.tar.xz", data)
	rel := testRelease(idx, "v21.1.1", "atfe.tar.xz", data)

	first, err := m.Fetch(context.Background(), rel, FetchOptions{})
	require.NoError(t, err)
	defer first.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = m.Fetch(ctx, rel, FetchOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

type testSigner struct {
	entity  *openpgp.Entity
	keyring string
}

func newTestSigner(t *testing.T, armored bool) *testSigner {
	t.Helper()
	entity, err := openpgp.NewEntity("armtc test", "", "test@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)

	var buf bytes.Buffer
	if armored {
		w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
		require.NoError(t, err)
		require.NoError(t, entity.Serialize(w))
		require.NoError(t, w.Close())
	} else {
		require.NoError(t, entity.Serialize(&buf))
	}
	path := filepath.Join(t.TempDir(), "keyring.asc")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return &testSigner{entity: entity, keyring: path}
}

func (s *testSigner) sign(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&buf, s.entity, bytes.NewReader(data), nil))
	return buf.Bytes()
}

func signedServer(t *testing.T, data, sig []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/atfe.tar.xz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(data) })
	mux.HandleFunc("/atfe.tar.xz.asc", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(sig) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSignature(t *testing.T) {
	data := []byte("signed archive")

	tests := []struct {
		name    string
		armored bool
		sig     func(t *testing.T, s *testSigner) []byte
		noSig   bool
		require bool
		wantErr error
	}{
		{name: "armored keyring", armored: true, sig: func(t *testing.T, s *testSigner) []byte { return s.sign(t, data) }},
		{name: "binary keyring", armored: false, sig: func(t *testing.T, s *testSigner) []byte { return s.sign(t, data) }},
		{name: "signature over other bytes", armored: true, sig: func(t *testing.T, s *testSigner) []byte { return s.sign(t, []byte("other")) }, wantErr: domain.ErrSignatureInvalid},
		{name: "signature from unknown key", armored: true, sig: func(t *testing.T, _ *testSigner) []byte { return newTestSigner(t, true).sign(t, data) }, wantErr: domain.ErrSignatureInvalid},
		{name: "unsigned release allowed", armored: true, noSig: true},
		{name: "unsigned release required", armored: true, noSig: true, require: true, wantErr: domain.ErrSignatureInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer := newTestSigner(t, tt.armored)
			var sig []byte
			if tt.sig != nil {
				sig = tt.sig(t, signer)
			}
			srv := signedServer(t, data, sig)

			m, _, _ := newTestManager(t, Options{Keyring: signer.keyring, RequireSignature: tt.require})
			rel := &domain.Release{
				Version:   "v21.1.1",
				Platform:  testPlatform,
				AssetName: "atfe.tar.xz",
				URL:       srv.URL + "/atfe.tar.xz",
				Checksum:  testutil.SHA256(data),
			}
			if !tt.noSig {
				rel.SignatureURL = srv.URL + "/atfe.tar.xz.asc"
			}

			entry, err := m.Fetch(context.Background(), rel, FetchOptions{})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NoError(t, entry.Close())
		})
	}
}

func TestNewKeyringErrors(t *testing.T) {
	layout, err := domain.NewLayout(t.TempDir())
	require.NoError(t, err)
	locker := lockfile.New(layout.LocksDir())

	_, err = New(layout, locker, Options{Keyring: filepath.Join(t.TempDir(), "missing.asc")})
	require.ErrorIs(t, err, domain.ErrIO)

	garbage := filepath.Join(t.TempDir(), "garbage.asc")
	require.NoError(t, os.WriteFile(garbage, []byte("not a key"), 0o644))
	_, err = New(layout, locker, Options{Keyring: garbage})
	require.Error(t, err)

	_, err = New(layout, locker, Options{RequireSignature: true})
	require.Error(t, err)
}

package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
)

// FakeIndex serves a JSON release manifest and the archives it lists.
type FakeIndex struct {
	Server *httptest.Server

	platform string

	mu        sync.Mutex
	releases  []fakeRelease
	assets    map[string][]byte
	downloads map[string]int
	ranges    map[string][]string
	noRanges  bool
	hold      *hold
}

type fakeRelease struct {
	version string
	name    string
	sum     string
	size    int
}

type hold struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

// NewFakeIndex starts an index whose assets are all published for platform
// key (e.g. "Linux-x86_64").
func NewFakeIndex(t testing.TB, platform string) *FakeIndex {
	t.Helper()
	f := &FakeIndex{
		platform:  platform,
		assets:    map[string][]byte{},
		downloads: map[string]int{},
		ranges:    map[string][]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/index.json", f.serveManifest)
	mux.HandleFunc("/files/", f.serveAsset)
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// ManifestURL is the URL to configure as the index.
func (f *FakeIndex) ManifestURL() string {
	return f.Server.URL + "/index.json"
}

// AddRelease publishes data as asset name for version, with its true checksum.
func (f *FakeIndex) AddRelease(version, name string, data []byte) {
	f.AddReleaseWithChecksum(version, name, data, SHA256(data))
}

// AddReleaseWithChecksum publishes data but advertises sum, which lets tests
// provoke checksum mismatches.
func (f *FakeIndex) AddReleaseWithChecksum(version, name string, data []byte, sum string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, fakeRelease{version: version, name: name, sum: sum, size: len(data)})
	f.assets[name] = data
}

// Downloads reports how many times asset name was requested.
func (f *FakeIndex) Downloads(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[name]
}

// Ranges returns the Range headers sent for asset name, in request order.
// Requests without one are not recorded.
func (f *FakeIndex) Ranges(name string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ranges[name]...)
}

// IgnoreRanges makes the server answer every asset request with the full
// body and 200, like servers without range support.
func (f *FakeIndex) IgnoreRanges() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.noRanges = true
}

// HoldDownloads makes the next asset request send half its body and then
// stall. started is closed once the stall begins; release lets it finish.
func (f *FakeIndex) HoldDownloads() (started <-chan struct{}, release func()) {
	h := &hold{started: make(chan struct{}), release: make(chan struct{})}
	f.mu.Lock()
	f.hold = h
	f.mu.Unlock()
	return h.started, func() { h.once.Do(func() { close(h.release) }) }
}

func (f *FakeIndex) serveManifest(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	type asset struct {
		URL    string `json:"url"`
		SHA256 string `json:"sha256"`
		Size   int    `json:"size"`
	}
	type release struct {
		Version string           `json:"version"`
		Assets  map[string]asset `json:"assets"`
	}
	doc := struct {
		Releases []release `json:"releases"`
	}{}
	for _, r := range f.releases {
		doc.Releases = append(doc.Releases, release{
			Version: r.version,
			Assets:  map[string]asset{f.platform: {URL: "files/" + r.name, SHA256: r.sum, Size: r.size}},
		})
	}
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(doc)
}

func (f *FakeIndex) serveAsset(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/files/")
	rng := r.Header.Get("Range")
	f.mu.Lock()
	data, ok := f.assets[name]
	f.downloads[name]++
	if rng != "" {
		f.ranges[name] = append(f.ranges[name], rng)
	}
	noRanges := f.noRanges
	h := f.hold
	f.hold = nil
	f.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}

	body := data
	if start, ok := rangeStart(rng); ok && !noRanges {
		if start >= len(data) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", len(data)))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		body = data[start:]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(data)-1, len(data)))
		w.WriteHeader(http.StatusPartialContent)
	}

	if h == nil {
		_, _ = w.Write(body)
		return
	}

	half := len(body) / 2
	_, _ = w.Write(body[:half])
	if fl, ok := w.(http.Flusher); ok {
		fl.Flush()
	}
	close(h.started)
	select {
	case <-h.release:
	case <-r.Context().Done():
		return
	}
	_, _ = w.Write(body[half:])
}

// rangeStart parses the "bytes=N-" form the downloader sends.
func rangeStart(header string) (int, bool) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, false
	}
	first, _, ok := strings.Cut(spec, "-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(first)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.trai.ch/zerr"

	"github.com/ZebulonRouseFrantzich/armtc/internal/domain"
)

// maxResponseBytes bounds index documents and checksum files.
const maxResponseBytes = 10 << 20

// RateLimitError is returned when the GitHub API rate limit is exhausted.
type RateLimitError struct {
	Limit   int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded (limit %d, resets at %s); set GITHUB_TOKEN to raise it",
		e.Limit, e.ResetAt.UTC().Format("15:04 UTC"))
}

// statusError is an unexpected HTTP status.
type statusError struct {
	Code int
	URL  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

type fetcher struct {
	opts      options
	tokenHost string
}

func newFetcher(o options, tokenBase string) *fetcher {
	f := &fetcher{opts: o}
	if u, err := url.Parse(tokenBase); err == nil {
		f.tokenHost = u.Host
	}
	return f
}

// get fetches rawURL and returns the body when the status is 200. Transport
// failures are classified as network errors or timeouts; everything is also
// tagged ErrResolutionFailed, since an unreadable index means the token
// could not be resolved.
func (f *fetcher) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, domain.Classify(domain.ErrResolutionFailed, zerr.With(zerr.Wrap(err, "create request"), "url", redactURL(rawURL)))
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", f.opts.userAgent)
	if f.opts.token != "" && f.tokenHost != "" && strings.EqualFold(req.URL.Host, f.tokenHost) {
		req.Header.Set("Authorization", "Bearer "+f.opts.token)
	}

	resp, err := f.opts.httpClient.Do(req)
	if err != nil {
		return nil, domain.Classify(domain.ErrResolutionFailed,
			zerr.With(zerr.Wrap(domain.NetworkError(err), "query index"), "url", redactURL(rawURL)))
	}
	defer resp.Body.Close()

	if rl := checkRateLimit(resp); rl != nil {
		return nil, domain.Classify(domain.ErrResolutionFailed, rl)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.Classify(domain.ErrResolutionFailed, &statusError{Code: resp.StatusCode, URL: redactURL(rawURL)})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, domain.Classify(domain.ErrResolutionFailed,
			zerr.With(zerr.Wrap(domain.NetworkError(err), "read index response"), "url", redactURL(rawURL)))
	}
	if len(body) > maxResponseBytes {
		return nil, domain.Classify(domain.ErrResolutionFailed, zerr.With(zerr.New("index response too large"), "url", redactURL(rawURL)))
	}
	return body, nil
}

// checkRateLimit returns a RateLimitError when GitHub reports zero
// remaining requests on a refused response.
func checkRateLimit(resp *http.Response) error {
	if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusTooManyRequests {
		return nil
	}
	if resp.Header.Get("X-RateLimit-Remaining") != "0" {
		return nil
	}
	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	reset, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	return &RateLimitError{Limit: limit, ResetAt: time.Unix(reset, 0)}
}

// redactURL strips query strings and credentials before a URL lands in an
// error message or log line.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

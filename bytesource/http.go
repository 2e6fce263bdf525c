package bytesource

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"golang.org/x/sync/semaphore"

	"zipkit/errs"
	"zipkit/httpcache"
)

const (
	maxRedirects       = 5
	maxRetries         = 5
	maxConcurrentFetch = 16 // bounds simultaneous in-flight range GETs per source
)

// HTTP is the read-only byte-source backend for archives served over
// HTTP(S) with range-request support. Concurrency across range fetches
// is bounded with a weighted semaphore so many small reads do not pile
// simultaneous GETs onto the upstream, without serializing every reader
// behind a single mutex.
type HTTP struct {
	mu     sync.Mutex
	client *http.Client
	url    string // final URL after following the initial redirect chain
	size   int64
	pos    int64
	creds  *Credentials
	sem    *semaphore.Weighted
	cache  *httpcache.Cache
}

func openHTTP(ctx context.Context, rawURL string, creds *Credentials) (*HTTP, error) {
	client := &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	if creds != nil && creds.InsecureSkipVerify {
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // opt-in via skip_cert_check flag
		}
	}

	h := &HTTP{
		client: client,
		url:    rawURL,
		creds:  creds,
		sem:    semaphore.NewWeighted(maxConcurrentFetch),
		cache:  httpcache.New(httpcache.DefaultLineSize, httpcache.DefaultLineCount),
	}

	resp, err := h.doWithRetry(ctx, func() (*http.Request, error) {
		return h.newRequest(ctx, "")
	})
	if err != nil {
		return nil, err
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.New(errs.OpenFailed, fmt.Sprintf("unexpected status opening %s: %d", rawURL, resp.StatusCode))
	}
	if resp.Request != nil && resp.Request.URL != nil {
		h.url = resp.Request.URL.String()
	}
	if resp.ContentLength < 0 {
		return nil, errs.New(errs.OpenFailed, "remote did not report a Content-Length for "+rawURL)
	}
	h.size = resp.ContentLength

	return h, nil
}

func (h *HTTP) newRequest(ctx context.Context, rangeHeader string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return nil, err
	}
	if h.creds != nil && h.creds.Username != "" {
		req.SetBasicAuth(h.creds.Username, h.creds.Password)
	}
	if rangeHeader != "" {
		req.Header.Set("Range", rangeHeader)
	}
	return req, nil
}

// doWithRetry issues the request built by mk, making at most maxRetries
// attempts in total; a transport error, 504 Gateway Timeout, or 509
// Bandwidth Limit Exceeded is treated as transient and retried. Any other
// status is returned as-is for the caller to classify.
func (h *HTTP) doWithRetry(ctx context.Context, mk func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req, err := mk()
		if err != nil {
			return nil, errs.Wrap(errs.OpenFailed, "build HTTP request", err)
		}
		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == 504 || resp.StatusCode == 509 {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			lastErr = fmt.Errorf("transient status %d", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, errs.Wrap(errs.Transient, "HTTP retry budget exhausted", lastErr)
}

// ReadAt implements Source via a Range GET, routed through the
// read-through cache for reads small enough to be worth coalescing;
// large, tail-of-file, or line-boundary-crossing reads bypass it and hit
// the backend directly, per Cache.Bypass.
func (h *HTTP) ReadAt(ctx context.Context, offset int64, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	h.mu.Lock()
	pos := offset
	if offset == NoSeek {
		pos = h.pos
	}
	h.mu.Unlock()

	if pos >= h.size {
		return 0, io.EOF
	}

	n := len(p)
	if pos+int64(n) > h.size {
		n = int(h.size - pos)
	}

	var err error
	if h.cache.Bypass(pos, int64(n), h.size) {
		n, err = h.readRangeDirect(ctx, pos, p[:n])
	} else {
		n, err = h.readCached(ctx, pos, p[:n])
	}
	if err != nil {
		return n, err
	}

	h.mu.Lock()
	h.pos = pos + int64(n)
	h.mu.Unlock()

	var retErr error
	if pos+int64(n) >= h.size {
		retErr = io.EOF
	}
	return n, retErr
}

// readRangeDirect issues a single Range GET for exactly dst's span.
func (h *HTTP) readRangeDirect(ctx context.Context, pos int64, dst []byte) (int, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return 0, errs.Wrap(errs.ReadFailed, "acquire HTTP concurrency slot", err)
	}
	defer h.sem.Release(1)

	hi := pos + int64(len(dst)) - 1
	resp, err := h.doWithRetry(ctx, func() (*http.Request, error) {
		return h.newRequest(ctx, fmt.Sprintf("bytes=%d-%d", pos, hi))
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return 0, errs.New(errs.ReadFailed, fmt.Sprintf("unexpected status %d for range request", resp.StatusCode))
	}

	n, err := io.ReadFull(resp.Body, dst)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return n, errs.Wrap(errs.ReadFailed, "read HTTP range body", err)
	}
	return n, nil
}

// readCached serves dst from the cache, reserving and fetching a new line
// when no existing line covers the request.
func (h *HTTP) readCached(ctx context.Context, pos int64, dst []byte) (int, error) {
	line, isNew, err := h.cache.CheckOrReserve(pos, int64(len(dst)))
	if err != nil {
		return 0, err
	}

	if isNew {
		lo, hi := line.UnfulfilledRange()
		fetchLo := line.Base + lo
		fetchHi := line.Base + hi
		if fetchHi > h.size {
			fetchHi = h.size
		}

		var fetched []byte
		var ferr error
		if fetchHi > fetchLo {
			fetched = make([]byte, fetchHi-fetchLo)
			_, ferr = h.readRangeDirect(ctx, fetchLo, fetched)
		}
		line.Commit(fetched, ferr)
		if ferr != nil {
			return 0, ferr
		}
	}

	if err := h.cache.Get(ctx, line, pos, dst); err != nil {
		return 0, err
	}
	return len(dst), nil
}

// WriteAt implements Source: the HTTP backend never supports writes.
func (h *HTTP) WriteAt(context.Context, int64, []byte) (int, error) {
	return 0, unsupportedWrite("HTTP source")
}

// Size implements Source.
func (h *HTTP) Size(context.Context) (int64, error) {
	return h.size, nil
}

// Close implements io.Closer; the HTTP backend holds no persistent
// connection state beyond the pooled transport.
func (h *HTTP) Close() error {
	return nil
}

package icon

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/startgrid/startgrid/internal/logging"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultFetchTimeout bounds a single fetch attempt, composed with the
	// caller's context.
	DefaultFetchTimeout = 10 * time.Second
	// DefaultFetchAttempts is the total attempt count for transient failures.
	DefaultFetchAttempts = 3
	// DefaultFetchConcurrency bounds simultaneous network fetches; callers
	// beyond the bound queue in FIFO order.
	DefaultFetchConcurrency = 6
	// DefaultFetchBackoff is the linear backoff unit between attempts.
	DefaultFetchBackoff = time.Second

	// networkErrorNegativeTTL is the negative-cache window suggested for
	// transport-level failures. A blocked cross-origin request looks like a
	// generic transport error and retrying cannot fix it, so the window is
	// medium-length rather than the default.
	networkErrorNegativeTTL = 30 * time.Minute

	// maxIconBytes caps how much of a response body is read. Icons beyond
	// this size are junk.
	maxIconBytes = 2 << 20
)

// FetchError classifies a failed icon fetch.
type FetchError struct {
	URL         string
	Status      int           // HTTP status, 0 for transport-level failures
	NoRetry     bool          // permanent: retrying cannot succeed
	NegativeTTL time.Duration // suggested negative-cache window, 0 = caller default
	Err         error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", logging.TruncateURL(e.URL, 60), e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", logging.TruncateURL(e.URL, 60), e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetcherOptions configures a Fetcher. Zero values fall back to defaults.
type FetcherOptions struct {
	Client      *http.Client
	Timeout     time.Duration
	Attempts    int
	Concurrency int64
	Backoff     time.Duration
}

// Fetcher retrieves icon bytes over the network and converts them to inline
// data URLs. Concurrency is bounded by a FIFO semaphore shared across all
// callers.
type Fetcher struct {
	client   *http.Client
	sem      *semaphore.Weighted
	timeout  time.Duration
	attempts int
	backoff  time.Duration
}

// NewFetcher creates a fetcher with the given options.
func NewFetcher(opts FetcherOptions) *Fetcher {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultFetchTimeout
	}
	if opts.Attempts <= 0 {
		opts.Attempts = DefaultFetchAttempts
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultFetchConcurrency
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultFetchBackoff
	}
	return &Fetcher{
		client:   opts.Client,
		sem:      semaphore.NewWeighted(opts.Concurrency),
		timeout:  opts.Timeout,
		attempts: opts.Attempts,
		backoff:  opts.Backoff,
	}
}

// Fetch retrieves the URL and returns its body as a data URL. Transient
// failures are retried with linearly increasing backoff; permanent failures
// and cancellation return immediately. The concurrency slot is released on
// every exit path.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", &FetchError{URL: rawURL, NoRetry: true, Err: errors.New("empty url")}
	}

	if err := f.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer f.sem.Release(1)

	log := logging.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		payload, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return payload, nil
		}
		lastErr = err

		var fetchErr *FetchError
		if errors.As(err, &fetchErr) && fetchErr.NoRetry {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == f.attempts-1 {
			break
		}

		log.Debug().Err(err).Int("attempt", attempt+1).
			Str("url", logging.TruncateURL(rawURL, 60)).Msg("icon fetch retrying")

		if err := sleepCtx(ctx, time.Duration(attempt+1)*f.backoff); err != nil {
			return "", err
		}
	}

	return "", lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return "", &FetchError{URL: rawURL, NoRetry: true, Err: err}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", f.classifyTransportError(ctx, attemptCtx, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &FetchError{
			URL:    rawURL,
			Status: resp.StatusCode,
			// Any 4xx except 429 will keep failing; everything else may pass
			// on a later attempt.
			NoRetry: resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests,
			Err:     fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if contentType != "" && !isImageContentType(contentType) {
		return "", &FetchError{
			URL:     rawURL,
			Status:  resp.StatusCode,
			NoRetry: true,
			Err:     fmt.Errorf("invalid content type %q", contentType),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes))
	if err != nil {
		return "", f.classifyTransportError(ctx, attemptCtx, rawURL, err)
	}
	if len(body) == 0 {
		return "", &FetchError{URL: rawURL, NoRetry: true, Err: errors.New("empty response body")}
	}

	return encodeDataURL(contentType, body), nil
}

// classifyTransportError separates cancellation, per-attempt timeout and
// genuine transport failures. A transport failure without an HTTP response is
// the closest signal this layer has for a blocked request, so it is marked
// non-retryable with a medium negative-cache window. This heuristic is
// approximate: a real transient outage can be misclassified, which costs at
// most one negative-cache window.
func (f *Fetcher) classifyTransportError(ctx, attemptCtx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		// Attempt timeout: transient, eligible for retry.
		return &FetchError{URL: rawURL, Err: fmt.Errorf("attempt timed out: %w", err)}
	}
	return &FetchError{
		URL:         rawURL,
		NoRetry:     true,
		NegativeTTL: networkErrorNegativeTTL,
		Err:         err,
	}
}

func isImageContentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") ||
		strings.Contains(contentType, "application/octet-stream") ||
		strings.Contains(contentType, "binary/octet-stream")
}

// encodeDataURL converts icon bytes to an inline data URL. The mime type
// comes from the response header when declared, otherwise from sniffing.
func encodeDataURL(contentType string, body []byte) string {
	mime := contentType
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = mime[:idx]
	}
	mime = strings.TrimSpace(mime)
	if mime == "" || !strings.HasPrefix(mime, "image/") {
		mime = http.DetectContentType(body)
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(body)
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

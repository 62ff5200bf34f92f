package icon

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/startgrid/startgrid/internal/logging"
)

// DefaultProbeTimeout bounds a single candidate probe.
const DefaultProbeTimeout = 4800 * time.Millisecond

// sniffLen is how many body bytes are read to sniff the content type.
const sniffLen = 512

// Prober checks whether a candidate URL loads as a displayable image.
// Implementations report success or failure only; they never return bytes.
type Prober interface {
	Probe(ctx context.Context, candidateURL string) bool
}

// HTTPProbe probes candidates over HTTP. A probe succeeds when the response
// is 2xx and either declares an image content type or sniffs as one.
type HTTPProbe struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPProbe creates a probe with the given per-candidate timeout.
// A non-positive timeout falls back to DefaultProbeTimeout.
func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProbe{
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Probe reports whether the candidate loads as an image. Cancellation,
// timeout and any transport or decode failure all read as false; the caller
// moves on to the next candidate either way.
func (p *HTTPProbe) Probe(ctx context.Context, candidateURL string) bool {
	if candidateURL == "" {
		return false
	}
	if isDataImageURL(candidateURL) {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	log := logging.FromContext(ctx)

	probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, candidateURL, http.NoBody)
	if err != nil {
		return false
	}

	resp, err := p.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("url", logging.TruncateURL(candidateURL, 60)).Msg("icon probe failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Debug().Int("status", resp.StatusCode).Str("url", logging.TruncateURL(candidateURL, 60)).Msg("icon probe non-2xx")
		return false
	}

	return looksLikeImage(resp)
}

// looksLikeImage accepts a declared image type outright and falls back to
// sniffing the first bytes for generic or missing content types.
func looksLikeImage(resp *http.Response) bool {
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if strings.HasPrefix(contentType, "image/") {
		return true
	}
	if contentType != "" &&
		!strings.Contains(contentType, "application/octet-stream") &&
		!strings.Contains(contentType, "binary/octet-stream") {
		return false
	}

	head := make([]byte, sniffLen)
	n, _ := io.ReadFull(resp.Body, head)
	if n == 0 {
		return false
	}
	return strings.HasPrefix(http.DetectContentType(head[:n]), "image/")
}

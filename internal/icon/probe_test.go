package icon_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/startgrid/startgrid/internal/icon"
)

// pngHeader is enough of a PNG for content sniffing to classify it as an image.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}

func TestHTTPProbe_DeclaredImageType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/x-icon")
		_, _ = w.Write([]byte{0, 0, 1, 0})
	}))
	defer srv.Close()

	probe := icon.NewHTTPProbe(0)
	assert.True(t, probe.Probe(context.Background(), srv.URL))
}

func TestHTTPProbe_SniffsGenericContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	probe := icon.NewHTTPProbe(0)
	assert.True(t, probe.Probe(context.Background(), srv.URL))
}

func TestHTTPProbe_RejectsNonImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>not found page</html>"))
	}))
	defer srv.Close()

	probe := icon.NewHTTPProbe(0)
	assert.False(t, probe.Probe(context.Background(), srv.URL))
}

func TestHTTPProbe_RejectsNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	probe := icon.NewHTTPProbe(0)
	assert.False(t, probe.Probe(context.Background(), srv.URL))
}

func TestHTTPProbe_InlineImageDataSucceedsWithoutNetwork(t *testing.T) {
	probe := icon.NewHTTPProbe(0)
	assert.True(t, probe.Probe(context.Background(), "data:image/png;base64,AAAA"))
}

func TestHTTPProbe_CancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	probe := icon.NewHTTPProbe(0)
	assert.False(t, probe.Probe(ctx, srv.URL))
}

func TestHTTPProbe_EmptyAndUnreachable(t *testing.T) {
	probe := icon.NewHTTPProbe(0)
	assert.False(t, probe.Probe(context.Background(), ""))

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // connection refused from here on
	assert.False(t, probe.Probe(context.Background(), srv.URL))
}

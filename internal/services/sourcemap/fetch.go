package sourcemap

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
)

// Fetcher loads the resource at url.
type Fetcher func(ctx context.Context, url string) ([]byte, error)

// DefaultFetch loads data: urls inline, file: urls and bare paths from
// disk, and http(s) urls over the network.
func DefaultFetch(ctx context.Context, rawURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(rawURL, "data:"):
		return decodeDataURL(rawURL)
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching %s: %s", rawURL, resp.Status)
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxMapBytes))
	default:
		file := rawURL
		if u, err := url.Parse(rawURL); err == nil && u.Scheme == "file" {
			file = u.Path
		} else if err == nil && u.Scheme != "" && len(u.Scheme) > 1 {
			return nil, fmt.Errorf("fetching %s: unsupported scheme %q", rawURL, u.Scheme)
		}
		return os.ReadFile(file)
	}
}

func decodeDataURL(rawURL string) ([]byte, error) {
	meta, data, ok := strings.Cut(strings.TrimPrefix(rawURL, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data url")
	}
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(data)
	}
	s, err := url.PathUnescape(data)
	if err != nil {
		return nil, fmt.Errorf("malformed data url: %w", err)
	}
	return []byte(s), nil
}

// resolveURL resolves ref against base. Unparseable input is returned as
// the path join of the two.
func resolveURL(base, ref string) string {
	if base == "" {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return path.Join(path.Dir(base), ref)
	}
	r, err := url.Parse(ref)
	if err != nil {
		return path.Join(path.Dir(base), ref)
	}
	return b.ResolveReference(r).String()
}

// contentType guesses the content type of an original source from its
// extension.
func contentType(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	switch path.Ext(u) {
	case ".ts", ".tsx":
		return "text/typescript"
	case ".coffee":
		return "text/coffeescript"
	case ".vue":
		return "text/vue"
	case ".elm":
		return "text/elm"
	case ".jsx":
		return "text/jsx"
	case ".wasm":
		return "text/wasm"
	default:
		return "text/javascript"
	}
}

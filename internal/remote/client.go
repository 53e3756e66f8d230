// Package remote is a thin client for the File Browser REST API. It lists
// directories, streams raw file content and fetches server-side checksums.
//
// The client is retry-unaware: every failure is classified as transient,
// auth or malformed and handed back to the caller.
package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/cbout22/fbsync/internal/remotepath"
)

// API is the set of remote operations the sync engine depends on.
type API interface {
	// List returns the entries of a directory in server order.
	List(ctx context.Context, p remotepath.Path) (Listing, error)

	// FetchRaw streams the content of a file. The caller closes the reader.
	FetchRaw(ctx context.Context, p remotepath.Path) (io.ReadCloser, error)

	// Checksum returns the server-computed hex digest of a file.
	Checksum(ctx context.Context, p remotepath.Path, algorithm string) (string, error)
}

// Entry is one item of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
}

// Listing is the ordered content of a remote directory.
type Listing struct {
	Path    remotepath.Path
	Entries []Entry
}

// Has reports whether the listing contains an entry with the given name.
func (l Listing) Has(name string) bool {
	for _, e := range l.Entries {
		if e.Name == name {
			return true
		}
	}
	return false
}

// Client talks to one File Browser server.
type Client struct {
	baseURL  string
	http     *http.Client
	compress bool
	log      *zap.Logger
}

var _ API = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithCompression toggles zstd/gzip content negotiation.
func WithCompression(on bool) Option {
	return func(c *Client) { c.compress = on }
}

// WithLogger sets the logger used for dropped-entry diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a Client. httpClient must already attach the auth token
// (see auth.NewHTTPClient).
func New(baseURL string, httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     httpClient,
		compress: true,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ResourcesURL builds the /api/resources URL for p.
func (c *Client) ResourcesURL(p remotepath.Path) string {
	return c.baseURL + "/api/resources/" + p.Encode()
}

// RawURL builds the /api/raw URL for p.
func (c *Client) RawURL(p remotepath.Path) string {
	return c.baseURL + "/api/raw/" + p.Encode()
}

func (c *Client) get(ctx context.Context, op string, p remotepath.Path, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "building %s request for %s", op, p)
	}
	c.setAcceptEncoding(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NetworkError(op, p.String(), err)
	}
	if err := CheckStatus(op, p.String(), resp); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// getJSON issues a GET and decodes the (possibly compressed) body into a
// generic JSON value so the caller can validate its shape.
func (c *Client) getJSON(ctx context.Context, op string, p remotepath.Path, url string) (interface{}, error) {
	resp, err := c.get(ctx, op, p, url)
	if err != nil {
		return nil, err
	}
	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &MalformedResponseError{Op: op, Path: p.String(), Reason: err.Error()}
	}
	defer body.Close()

	var payload interface{}
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, NetworkError(op, p.String(), err)
		}
		return nil, &MalformedResponseError{Op: op, Path: p.String(), Reason: "invalid JSON: " + err.Error()}
	}
	return payload, nil
}

// List fetches the directory listing of p.
func (c *Client) List(ctx context.Context, p remotepath.Path) (Listing, error) {
	const op = "list"
	payload, err := c.getJSON(ctx, op, p, c.ResourcesURL(p))
	if err != nil {
		return Listing{}, err
	}

	obj, ok := payload.(map[string]interface{})
	if !ok {
		return Listing{}, &MalformedResponseError{Op: op, Path: p.String(), Reason: "payload is not an object"}
	}
	rawItems, ok := obj["items"]
	if !ok {
		return Listing{}, &MalformedResponseError{Op: op, Path: p.String(), Reason: `missing "items"`}
	}

	listing := Listing{Path: p}
	if rawItems == nil {
		return listing, nil
	}
	items, ok := rawItems.([]interface{})
	if !ok {
		return Listing{}, &MalformedResponseError{Op: op, Path: p.String(), Reason: `"items" is not an array`}
	}

	for i, raw := range items {
		item, ok := raw.(map[string]interface{})
		if !ok {
			c.log.Warn("dropping listing item that is not an object",
				zap.Stringer("dir", p), zap.Int("index", i))
			continue
		}
		name, _ := item["name"].(string)
		if name == "" {
			c.log.Warn("dropping listing item without a name",
				zap.Stringer("dir", p), zap.Int("index", i), zap.Any("item", item))
			continue
		}
		if seg := remotepath.Normalize(name); seg.IsRoot() {
			c.log.Warn("dropping listing item that names no child",
				zap.Stringer("dir", p), zap.String("name", name))
			continue
		}
		entry := Entry{Name: name}
		entry.IsDir, _ = item["isDir"].(bool)
		if size, ok := item["size"].(float64); ok {
			entry.Size = int64(size)
		}
		listing.Entries = append(listing.Entries, entry)
	}
	return listing, nil
}

// FetchRaw opens a stream over the content of file p.
func (c *Client) FetchRaw(ctx context.Context, p remotepath.Path) (io.ReadCloser, error) {
	resp, err := c.get(ctx, "download", p, c.RawURL(p))
	if err != nil {
		return nil, err
	}
	body, err := decodeBody(resp)
	if err != nil {
		resp.Body.Close()
		return nil, &MalformedResponseError{Op: "download", Path: p.String(), Reason: err.Error()}
	}
	return body, nil
}

// Checksum asks the server for the digest of file p.
func (c *Client) Checksum(ctx context.Context, p remotepath.Path, algorithm string) (string, error) {
	const op = "checksum"
	payload, err := c.getJSON(ctx, op, p, c.ResourcesURL(p)+"?checksum="+algorithm)
	if err != nil {
		return "", err
	}

	obj, _ := payload.(map[string]interface{})
	sums, _ := obj["checksums"].(map[string]interface{})
	sum, _ := sums[algorithm].(string)
	if sum == "" {
		return "", &MalformedResponseError{Op: op, Path: p.String(), Reason: "no " + algorithm + " checksum in response"}
	}
	return sum, nil
}

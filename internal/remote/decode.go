package remote

import (
	"io"
	"net/http"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// setAcceptEncoding declares which encodings decodeBody understands. Setting
// the header ourselves disables net/http's transparent gzip handling, so every
// encoded response must go through decodeBody.
func (c *Client) setAcceptEncoding(req *http.Request) {
	if c.compress {
		req.Header.Set("Accept-Encoding", "zstd, gzip")
	} else {
		req.Header.Set("Accept-Encoding", "identity")
	}
}

// decodeBody wraps resp.Body according to its Content-Encoding. Closing the
// returned reader closes the response body.
func decodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch enc := resp.Header.Get("Content-Encoding"); enc {
	case "", "identity":
		return resp.Body, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "creating zstd reader")
		}
		return &decodedBody{Reader: zr, closeDecoder: func() error { zr.Close(); return nil }, body: resp.Body}, nil
	case "gzip":
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "creating gzip reader")
		}
		return &decodedBody{Reader: gr, closeDecoder: gr.Close, body: resp.Body}, nil
	default:
		return nil, errors.Errorf("unsupported Content-Encoding %q", enc)
	}
}

type decodedBody struct {
	io.Reader
	closeDecoder func() error
	body         io.ReadCloser
}

func (d *decodedBody) Close() error {
	d.closeDecoder()
	return d.body.Close()
}

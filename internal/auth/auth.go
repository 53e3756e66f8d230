// Package auth obtains a File Browser token and builds HTTP clients that
// present it on every request.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cbout22/fbsync/internal/remote"
	"github.com/cbout22/fbsync/internal/retry"
)

// TokenEnvVar supplies a pre-acquired token and skips login.
const TokenEnvVar = "FBSYNC_TOKEN"

// HeaderName is the header File Browser reads the token from.
const HeaderName = "X-Auth"

// Token is an opaque session token. It is never parsed.
type Token string

// Redacted returns the token with everything but its edges masked.
func (t Token) Redacted() string {
	s := string(t)
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// Credentials are the username and password posted to /api/login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// EnvToken returns the token from FBSYNC_TOKEN, if set.
func EnvToken() (Token, bool) {
	v := strings.TrimSpace(os.Getenv(TokenEnvVar))
	return Token(v), v != ""
}

// Login posts creds to baseURL/api/login and returns the token. Transient
// failures are retried by r; rejected credentials are not.
func Login(ctx context.Context, client *http.Client, baseURL string, creds Credentials, r *retry.Retrier) (Token, error) {
	body, err := json.Marshal(creds)
	if err != nil {
		return "", errors.Wrap(err, "encoding credentials")
	}
	url := strings.TrimRight(baseURL, "/") + "/api/login"

	var token Token
	_, err = r.Do(ctx, func(int) error {
		var err error
		token, err = login(ctx, client, url, body)
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, "logging in")
	}
	return token, nil
}

func login(ctx context.Context, client *http.Client, url string, body []byte) (Token, error) {
	const op = "login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "building login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", remote.NetworkError(op, "/api/login", err)
	}
	defer resp.Body.Close()
	if err := remote.CheckStatus(op, "/api/login", resp); err != nil {
		return "", err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", remote.NetworkError(op, "/api/login", err)
	}
	token := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if token == "" {
		return "", &remote.MalformedResponseError{Op: op, Path: "/api/login", Reason: "empty token"}
	}
	return Token(token), nil
}

// NewHTTPClient returns an *http.Client that sends token in the X-Auth
// header of every request.
func NewHTTPClient(token Token, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &tokenTransport{
			token: token,
			base:  http.DefaultTransport,
		},
	}
}

// tokenTransport is a custom http.RoundTripper that adds the X-Auth header.
type tokenTransport struct {
	token Token
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original
	r := req.Clone(req.Context())
	r.Header.Set(HeaderName, string(t.token))
	return t.base.RoundTrip(r)
}

// Minimal Bluesky (atproto XRPC) client covering what the agent needs: searching for candidate
// posts, fetching single posts, and publishing posts and replies.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluesky-social/banter/util"

	"github.com/PuerkitoBio/purell"
	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/time/rate"
)

type requestKind int

const (
	query = requestKind(iota)
	procedure
)

type AuthInfo struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	Did        string `json:"did"`
}

type Client struct {
	// defaults to util.RobustHTTPClient()
	Client *http.Client
	Host   string
	Auth   *AuthInfo

	// optional client-side limit on outbound requests
	Limiter *rate.Limiter

	UserAgent string
	Logger    *slog.Logger

	// guards Auth, which is replaced when the session is refreshed
	authLk sync.RWMutex
}

func NewClient(host string, requestsPerSecond float64) (*Client, error) {
	h, err := NormalizeHost(host)
	if err != nil {
		return nil, err
	}
	c := &Client{
		Client: util.RobustHTTPClient(),
		Host:   h,
		Logger: slog.Default().With("component", "platform"),
	}
	if requestsPerSecond > 0 {
		c.Limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return c, nil
}

// Cleans up a configured service URL, eg "HTTPS://bsky.social/" becomes "https://bsky.social".
func NormalizeHost(raw string) (string, error) {
	clean, err := purell.NormalizeURLString(raw, purell.FlagsSafe|purell.FlagRemoveTrailingSlash|purell.FlagRemoveDuplicateSlashes)
	if err != nil {
		return "", fmt.Errorf("invalid host URL %q: %w", raw, err)
	}
	u, err := url.Parse(clean)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("invalid host URL %q: expected http(s)://host", raw)
	}
	return strings.TrimSuffix(clean, "/"), nil
}

func (c *Client) httpClient() *http.Client {
	if c.Client == nil {
		return util.RobustHTTPClient()
	}
	return c.Client
}

func (c *Client) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

type XRPCError struct {
	ErrStr  string `json:"error"`
	Message string `json:"message"`
}

func (xe *XRPCError) Error() string {
	return fmt.Sprintf("%s: %s", xe.ErrStr, xe.Message)
}

type RatelimitInfo struct {
	Limit     int
	Remaining int
	Reset     time.Time
}

// Non-200 response from the service.
type Error struct {
	StatusCode int
	Wrapped    error
	Ratelimit  *RatelimitInfo
}

func (e *Error) Error() string {
	if e.Wrapped == nil {
		return fmt.Sprintf("XRPC ERROR %d", e.StatusCode)
	}
	if e.IsThrottled() && e.Ratelimit != nil {
		return fmt.Sprintf("XRPC ERROR %d: %s (throttled until %s)", e.StatusCode, e.Wrapped, e.Ratelimit.Reset.Local())
	}
	return fmt.Sprintf("XRPC ERROR %d: %s", e.StatusCode, e.Wrapped)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

func (e *Error) IsThrottled() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

func errorFromResponse(resp *http.Response, err error) error {
	r := &Error{
		StatusCode: resp.StatusCode,
		Wrapped:    err,
	}
	if resp.Header.Get("ratelimit-limit") != "" {
		r.Ratelimit = &RatelimitInfo{}
		if n, err := strconv.ParseInt(resp.Header.Get("ratelimit-reset"), 10, 64); err == nil {
			r.Ratelimit.Reset = time.Unix(n, 0)
		}
		if n, err := strconv.Atoi(resp.Header.Get("ratelimit-limit")); err == nil {
			r.Ratelimit.Limit = n
		}
		if n, err := strconv.Atoi(resp.Header.Get("ratelimit-remaining")); err == nil {
			r.Ratelimit.Remaining = n
		}
	}
	return r
}

// Current session, or nil when not logged in.
func (c *Client) session() *AuthInfo {
	c.authLk.RLock()
	defer c.authLk.RUnlock()
	return c.Auth
}

func (c *Client) setSession(auth *AuthInfo) {
	c.authLk.Lock()
	defer c.authLk.Unlock()
	c.Auth = auth
}

func isExpiredToken(err error) bool {
	var xe *XRPCError
	return errors.As(err, &xe) && xe.ErrStr == "ExpiredToken"
}

// Makes an XRPC call with the session access token. An expired access token is refreshed once and
// the call retried.
func (c *Client) do(ctx context.Context, kind requestKind, method string, params url.Values, body any, out any) error {
	var token string
	auth := c.session()
	if auth != nil {
		token = auth.AccessJwt
	}
	err := c.doWithToken(ctx, kind, method, params, body, out, token)
	if !isExpiredToken(err) || auth == nil || auth.RefreshJwt == "" {
		return err
	}
	if rerr := c.refreshSession(ctx, auth); rerr != nil {
		return fmt.Errorf("%w (refresh failed: %s)", err, rerr)
	}
	return c.doWithToken(ctx, kind, method, params, body, out, c.session().AccessJwt)
}

func (c *Client) refreshSession(ctx context.Context, prev *AuthInfo) error {
	var out AuthInfo
	if err := c.doWithToken(ctx, procedure, "com.atproto.server.refreshSession", nil, nil, &out, prev.RefreshJwt); err != nil {
		return err
	}
	c.setSession(&out)
	c.logger().Info("platform session refreshed", "did", out.Did)
	return nil
}

func (c *Client) doWithToken(ctx context.Context, kind requestKind, method string, params url.Values, body any, out any, token string) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}

	var m string
	switch kind {
	case query:
		m = http.MethodGet
	case procedure:
		m = http.MethodPost
	default:
		return fmt.Errorf("unsupported request kind: %d", kind)
	}

	uri := c.Host + "/xrpc/" + method
	if len(params) > 0 {
		uri += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, m, uri, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	} else {
		req.Header.Set("User-Agent", "banter/"+versioninfo.Short())
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var xe XRPCError
		if err := json.NewDecoder(resp.Body).Decode(&xe); err != nil {
			return errorFromResponse(resp, fmt.Errorf("failed to decode xrpc error message: %w", err))
		}
		return errorFromResponse(resp, &xe)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding xrpc response: %w", err)
		}
	}
	return nil
}

// Creates a session with an account identifier (handle or DID) and app password, and keeps the
// tokens on the client.
func (c *Client) Login(ctx context.Context, identifier, password string) error {
	input := map[string]string{
		"identifier": identifier,
		"password":   password,
	}
	var out AuthInfo
	if err := c.do(ctx, procedure, "com.atproto.server.createSession", nil, input, &out); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	c.setSession(&out)
	c.logger().Info("platform session created", "did", out.Did, "handle", out.Handle)
	return nil
}

// Account DID of the logged-in session, or empty.
func (c *Client) Self() string {
	auth := c.session()
	if auth == nil {
		return ""
	}
	return auth.Did
}

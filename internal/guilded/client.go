// Package guilded provides a limited implementation of the undocumented
// Guilded web API, sufficient to get the data out of a Guilded server
// before the shutdown.  Authentication is cookie based:  the API
// accepts the hmac_signed_session cookie of a logged-in browser
// session.
package guilded

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	// BaseURL is the web API root.
	BaseURL = "https://www.guilded.gg/api"
	// SiteURL is the cookie domain.
	SiteURL = "https://www.guilded.gg"

	// DefPageSize is the number of messages the API returns per history
	// page.  A short page signals the end of the history.
	DefPageSize = 50

	// defRetryAfter is used when a 429 response carries no Retry-After
	// header.
	defRetryAfter = 10 * time.Second
)

// Client is the Guilded web API client.
type Client struct {
	cl      *http.Client
	apiBase string
}

// NewWithClient returns a Client that uses the given http.Client, which
// must carry the session cookies.  apiBase overrides the API root when
// non-empty (used by tests).
func NewWithClient(cl *http.Client, apiBase string) *Client {
	if apiBase == "" {
		apiBase = BaseURL
	}
	return &Client{cl: cl, apiBase: apiBase}
}

// Raw returns the underlying http.Client, for the file downloader that
// needs the same session cookies for the CDN.
func (c *Client) Raw() *http.Client {
	return c.cl
}

// get issues a GET request to the endpoint and decodes the response
// into v, after rewriting stale CDN URLs in the body.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values, v any) error {
	u := c.apiBase + "/" + endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.cl.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("%s: %w", endpoint, err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(rewriteCDN(body), v); err != nil {
		return fmt.Errorf("%s: decoding response: %w", endpoint, err)
	}
	return nil
}

// checkStatus converts a non-2xx response into the error taxonomy.
func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &AuthError{Err: StatusCodeError{Code: resp.StatusCode, Status: resp.Status}}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: retryAfter(resp)}
	default:
		return StatusCodeError{Code: resp.StatusCode, Status: resp.Status}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defRetryAfter
}

// Me returns the session user and their teams.
func (c *Client) Me(ctx context.Context) (*Me, error) {
	var m Me
	q := url.Values{"isLogin": {"false"}, "v2": {"true"}}
	if err := c.get(ctx, "me", q, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// TeamInfo returns the server information.
func (c *Client) TeamInfo(ctx context.Context, teamID string) (*Team, error) {
	var r struct {
		Team Team `json:"team"`
	}
	if err := c.get(ctx, "teams/"+teamID+"/info", nil, &r); err != nil {
		return nil, err
	}
	return &r.Team, nil
}

// TeamChannels returns every channel of the server, reply threads
// included.
func (c *Client) TeamChannels(ctx context.Context, teamID string) ([]Channel, error) {
	var r struct {
		Channels []Channel `json:"channels"`
	}
	if err := c.get(ctx, "teams/"+teamID+"/channels", nil, &r); err != nil {
		return nil, err
	}
	return r.Channels, nil
}

// TeamMembers returns the member list of the server.
func (c *Client) TeamMembers(ctx context.Context, teamID string) ([]Member, error) {
	var r struct {
		Members []Member `json:"members"`
	}
	if err := c.get(ctx, "teams/"+teamID+"/members", nil, &r); err != nil {
		return nil, err
	}
	return r.Members, nil
}

// TeamGroups returns the channel groups of the server.
func (c *Client) TeamGroups(ctx context.Context, teamID string) ([]Group, error) {
	var r struct {
		Groups []Group `json:"groups"`
	}
	if err := c.get(ctx, "teams/"+teamID+"/groups", nil, &r); err != nil {
		return nil, err
	}
	return r.Groups, nil
}

// TeamRoles returns the role definitions of the server, keyed by role
// ID.
func (c *Client) TeamRoles(ctx context.Context, teamID string) (map[string]Role, error) {
	var r struct {
		RolesByID map[string]Role `json:"roles"`
	}
	if err := c.get(ctx, "teams/"+teamID+"/roles", nil, &r); err != nil {
		return nil, err
	}
	return r.RolesByID, nil
}

// Messages returns one page of channel history, newest first.  A
// non-empty beforeID returns messages strictly older than that ID.  A
// page shorter than DefPageSize is the last one.
func (c *Client) Messages(ctx context.Context, channelID string, beforeID string) ([]Message, error) {
	var r struct {
		Messages []Message `json:"messages"`
	}
	q := url.Values{}
	if beforeID != "" {
		q.Set("beforeId", beforeID)
	}
	if err := c.get(ctx, "channels/"+channelID+"/messages", q, &r); err != nil {
		return nil, err
	}
	return r.Messages, nil
}

// Pinned returns the pinned messages of a channel.
func (c *Client) Pinned(ctx context.Context, channelID string) ([]Message, error) {
	var r struct {
		Messages []Message `json:"messages"`
	}
	if err := c.get(ctx, "channels/"+channelID+"/messages/pinned", nil, &r); err != nil {
		return nil, err
	}
	return r.Messages, nil
}

// Threads returns one page of the reply threads of a channel, newest
// first, with the same beforeId cursor convention as Messages.
func (c *Client) Threads(ctx context.Context, channelID string, beforeID string) ([]Channel, error) {
	var r struct {
		Threads []Channel `json:"threads"`
	}
	q := url.Values{}
	if beforeID != "" {
		q.Set("beforeId", beforeID)
	}
	if err := c.get(ctx, "channels/"+channelID+"/threads", q, &r); err != nil {
		return nil, err
	}
	return r.Threads, nil
}

// GetFile streams the file at fileURL into w and returns the number of
// bytes written.  The session cookies ride along, which the CDN
// requires for media of private servers.
func (c *Client) GetFile(ctx context.Context, fileURL string, w io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.cl.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return 0, err
	}
	return io.Copy(w, resp.Body)
}

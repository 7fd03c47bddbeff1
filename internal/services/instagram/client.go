package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/lun1tunes/InstaChatico/internal/common"
	"github.com/lun1tunes/InstaChatico/internal/httpclient"
	"github.com/lun1tunes/InstaChatico/internal/interfaces"
)

const requestTimeout = 30 * time.Second

// createdTimeLayout is the Graph API timestamp format ("+0000" offset, no
// colon), which time.RFC3339 does not parse.
const createdTimeLayout = "2006-01-02T15:04:05-0700"

// Client talks to the Instagram Graph API. It implements
// interfaces.PlatformClient; throttling and retries belong to callers.
type Client struct {
	accessToken  string
	baseURL      string // https://graph.instagram.com/v23.0
	debugBaseURL string // token introspection lives on the Facebook graph
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       arbor.ILogger
}

func NewClient(config *common.Config, logger arbor.ILogger) (*Client, error) {
	if config.Instagram.AccessToken == "" {
		return nil, fmt.Errorf("instagram access token is required")
	}

	base := strings.TrimRight(config.Instagram.BaseURL, "/")
	if base == "" {
		base = "https://graph.instagram.com"
	}

	return &Client{
		accessToken:  config.Instagram.AccessToken,
		baseURL:      base + "/" + config.Instagram.APIVersion,
		debugBaseURL: "https://graph.facebook.com/" + config.Instagram.APIVersion,
		clientID:     config.Instagram.ClientID,
		clientSecret: config.Instagram.ClientSecret,
		httpClient:   httpclient.NewDefaultHTTPClient(requestTimeout),
		logger:       logger,
	}, nil
}

var _ interfaces.PlatformClient = (*Client)(nil)

// graphError is the error envelope the Graph API returns on non-200s.
type graphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

// rateLimited recognizes the API's throttle responses: HTTP 429, or the
// code-2 "please retry" transient error.
func rateLimited(status int, e *graphError) bool {
	if status == http.StatusTooManyRequests {
		return true
	}
	return e != nil && e.Code == 2 && strings.Contains(strings.ToLower(e.Message), "retry")
}

// SendReply posts text as a reply to a comment and returns the new reply id.
func (c *Client) SendReply(ctx context.Context, commentID, text string) (string, error) {
	params := url.Values{}
	params.Set("access_token", c.accessToken)
	params.Set("message", text)

	c.logger.Info().
		Str("comment_id", commentID).
		Int("message_length", len(text)).
		Msg("Sending reply")

	status, body, err := c.post(ctx, c.baseURL+"/"+commentID+"/replies", params)
	if err != nil {
		return "", fmt.Errorf("posting reply to comment %s: %w", commentID, err)
	}

	if status != http.StatusOK {
		gerr := decodeGraphError(body)
		if rateLimited(status, gerr) {
			c.logger.Warn().
				Str("comment_id", commentID).
				Int("status_code", status).
				Msg("Reply throttled by platform")
			return "", fmt.Errorf("reply to comment %s: %w", commentID, interfaces.ErrPlatformRateLimited)
		}
		return "", fmt.Errorf("reply to comment %s failed: %s", commentID, graphFailure(status, gerr))
	}

	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ID == "" {
		return "", fmt.Errorf("reply to comment %s: response carries no reply id", commentID)
	}

	c.logger.Info().
		Str("comment_id", commentID).
		Str("reply_id", resp.ID).
		Msg("Reply sent")
	return resp.ID, nil
}

// HideComment hides or unhides a comment. Comments by the media owner on
// their own media cannot be hidden; the API rejects those.
func (c *Client) HideComment(ctx context.Context, commentID string, hide bool) error {
	params := url.Values{}
	params.Set("access_token", c.accessToken)
	params.Set("hide", fmt.Sprintf("%t", hide))

	status, body, err := c.post(ctx, c.baseURL+"/"+commentID, params)
	if err != nil {
		return fmt.Errorf("updating hide state for comment %s: %w", commentID, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("hide comment %s failed: %s", commentID, graphFailure(status, decodeGraphError(body)))
	}

	c.logger.Info().
		Str("comment_id", commentID).
		Bool("hidden", hide).
		Msg("Comment hide state updated")
	return nil
}

// GetCommentInfo fetches comment metadata.
func (c *Client) GetCommentInfo(ctx context.Context, commentID string) (*interfaces.CommentInfo, error) {
	params := url.Values{}
	params.Set("access_token", c.accessToken)
	params.Set("fields", "id,text,from,created_time,parent_id")

	status, body, err := c.get(ctx, c.baseURL+"/"+commentID, params)
	if err != nil {
		return nil, fmt.Errorf("fetching comment %s: %w", commentID, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch comment %s failed: %s", commentID, graphFailure(status, decodeGraphError(body)))
	}

	var resp struct {
		ID   string `json:"id"`
		Text string `json:"text"`
		From struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		CreatedTime string `json:"created_time"`
		ParentID    string `json:"parent_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding comment %s: %w", commentID, err)
	}

	info := &interfaces.CommentInfo{
		ID:       resp.ID,
		Text:     resp.Text,
		Username: resp.From.Username,
		ParentID: resp.ParentID,
	}
	if resp.CreatedTime != "" {
		if ts, err := time.Parse(createdTimeLayout, resp.CreatedTime); err == nil {
			info.CreatedTime = ts
		}
	}
	return info, nil
}

// GetMediaInfo fetches media metadata. Carousel albums carry no top-level
// media_url; the first image child's URL stands in so vision analysis has
// something to look at.
func (c *Client) GetMediaInfo(ctx context.Context, mediaID string) (*interfaces.MediaInfo, error) {
	params := url.Values{}
	params.Set("access_token", c.accessToken)
	params.Set("fields", "id,caption,media_type,media_url,permalink,username,comments_count,children{media_url,media_type}")

	status, body, err := c.get(ctx, c.baseURL+"/"+mediaID, params)
	if err != nil {
		return nil, fmt.Errorf("fetching media %s: %w", mediaID, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("fetch media %s failed: %s", mediaID, graphFailure(status, decodeGraphError(body)))
	}

	var resp struct {
		ID            string `json:"id"`
		Caption       string `json:"caption"`
		MediaType     string `json:"media_type"`
		MediaURL      string `json:"media_url"`
		Permalink     string `json:"permalink"`
		Username      string `json:"username"`
		CommentsCount int    `json:"comments_count"`
		Children      struct {
			Data []struct {
				MediaURL  string `json:"media_url"`
				MediaType string `json:"media_type"`
			} `json:"data"`
		} `json:"children"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding media %s: %w", mediaID, err)
	}

	mediaURL := resp.MediaURL
	if mediaURL == "" {
		for _, child := range resp.Children.Data {
			if child.MediaType == "IMAGE" && child.MediaURL != "" {
				mediaURL = child.MediaURL
				break
			}
		}
	}

	return &interfaces.MediaInfo{
		ID:            resp.ID,
		Caption:       resp.Caption,
		MediaType:     resp.MediaType,
		MediaURL:      mediaURL,
		Permalink:     resp.Permalink,
		Username:      resp.Username,
		CommentsCount: resp.CommentsCount,
	}, nil
}

// ValidateToken verifies the access token against the debug endpoint.
func (c *Client) ValidateToken(ctx context.Context) error {
	data, err := c.fetchDebugToken(ctx)
	if err != nil {
		return err
	}
	if !data.IsValid {
		return fmt.Errorf("access token is not valid")
	}
	return nil
}

// TokenExpiration reports when the access token expires. A zero time means
// the platform reports no expiry.
func (c *Client) TokenExpiration(ctx context.Context) (time.Time, error) {
	data, err := c.fetchDebugToken(ctx)
	if err != nil {
		return time.Time{}, err
	}

	if data.ExpiresAt > 0 {
		return time.Unix(data.ExpiresAt, 0).UTC(), nil
	}
	if data.ExpiresIn > 0 {
		return time.Now().UTC().Add(time.Duration(data.ExpiresIn) * time.Second), nil
	}
	return time.Time{}, nil
}

type debugTokenData struct {
	IsValid   bool  `json:"is_valid"`
	ExpiresAt int64 `json:"expires_at"`
	ExpiresIn int64 `json:"expires_in"`
}

// fetchDebugToken introspects the user token with the app token
// (client_id|client_secret).
func (c *Client) fetchDebugToken(ctx context.Context) (*debugTokenData, error) {
	if c.clientID == "" || c.clientSecret == "" {
		return nil, fmt.Errorf("client id and secret are required for token introspection")
	}

	params := url.Values{}
	params.Set("input_token", c.accessToken)
	params.Set("access_token", c.clientID+"|"+c.clientSecret)

	status, body, err := c.get(ctx, c.debugBaseURL+"/debug_token", params)
	if err != nil {
		return nil, fmt.Errorf("fetching token debug info: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("token debug failed: %s", graphFailure(status, decodeGraphError(body)))
	}

	var resp struct {
		Data debugTokenData `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding token debug info: %w", err)
	}
	return &resp.Data, nil
}

func (c *Client) post(ctx context.Context, endpoint string, params url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, err
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeGraphError(body []byte) *graphError {
	var envelope struct {
		Error graphError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return &envelope.Error
}

func graphFailure(status int, e *graphError) string {
	if e == nil || e.Message == "" {
		return fmt.Sprintf("status %d", status)
	}
	return fmt.Sprintf("status %d: %s (code %d, type %s)", status, e.Message, e.Code, e.Type)
}

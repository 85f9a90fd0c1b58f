package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"message-sync/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Client wraps the workspace identity REST API.
type Client struct {
	http   *resty.Client
	orgID  string
	userID string
}

// NewClient constructs the wrapper for the session user userID in orgID.
func NewClient(baseURL, orgID, userID, token string, timeout time.Duration) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		http.SetAuthToken(token)
	}
	return &Client{http: http, orgID: orgID, userID: userID}
}

// CurrentUser fetches the session user.
func (c *Client) CurrentUser(ctx context.Context) (models.User, error) {
	var out struct {
		Data models.User `json:"data"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("userID", c.userID).
		SetResult(&out).
		Get("/users/{userID}")
	if err != nil {
		return models.User{}, fmt.Errorf("get user: %w", err)
	}
	if resp.IsError() {
		return models.User{}, fmt.Errorf("get user: status %d", resp.StatusCode())
	}
	if out.Data.ID == "" {
		return models.User{}, ErrUserNotFound
	}
	return out.Data, nil
}

// WorkspaceUsers fetches every member of the organisation in one call.
func (c *Client) WorkspaceUsers(ctx context.Context) ([]models.User, error) {
	var out struct {
		Data []models.User `json:"data"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("orgID", c.orgID).
		SetResult(&out).
		Get("/organizations/{orgID}/members")
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("list members: status %d", resp.StatusCode())
	}
	if out.Data == nil {
		return []models.User{}, nil
	}
	return out.Data, nil
}

var _ Provider = (*Client)(nil)
var _ Provider = Static{}

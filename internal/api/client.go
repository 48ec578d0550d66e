package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"quickfix_notify/internal/common"
	"quickfix_notify/internal/notification"

	"github.com/go-resty/resty/v2"
)

// Client is the REST collaborator the store reconciles against. The backend
// itself (bookings, providers, admin flows) is out of scope; only the
// notification endpoints are consumed.
type Client interface {
	List(ctx context.Context, role notification.Role, userID int64) ([]notification.Notification, error)
	UnreadCount(ctx context.Context, role notification.Role, userID int64) (int, error)
	MarkRead(ctx context.Context, role notification.Role, userID, notificationID int64) error
	MarkAllRead(ctx context.Context, role notification.Role, userID int64) error
	Delete(ctx context.Context, role notification.Role, userID, notificationID int64) error
}

// RestClient implements Client against the QuickFix backend JSON API.
type RestClient struct {
	http *resty.Client
}

// envelope mirrors the backend's standard response wrapper.
type envelope[T any] struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    T      `json:"data"`
}

type unreadPayload struct {
	Count int `json:"count"`
}

// NewRestClient creates a client rooted at baseURL (including any /api/v1
// prefix). token is sent as a bearer header; the realtime channel is the only
// place auth has to ride the query string.
func NewRestClient(baseURL, token string, timeout time.Duration) *RestClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		httpClient.SetAuthToken(token)
	}
	return &RestClient{http: httpClient}
}

func notificationsPath(role notification.Role, userID int64) string {
	return fmt.Sprintf("/%s/%s/notifications", role, strconv.FormatInt(userID, 10))
}

func (c *RestClient) List(ctx context.Context, role notification.Role, userID int64) ([]notification.Notification, error) {
	var body envelope[[]notification.Notification]
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(notificationsPath(role, userID))
	if err != nil {
		return nil, fmt.Errorf("fetching notifications for %s %d failed: %w", role, userID, err)
	}
	if err := statusError(resp); err != nil {
		return nil, err
	}
	return body.Data, nil
}

func (c *RestClient) UnreadCount(ctx context.Context, role notification.Role, userID int64) (int, error) {
	var body envelope[unreadPayload]
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&body).
		Get(notificationsPath(role, userID) + "/unread-count")
	if err != nil {
		return 0, fmt.Errorf("fetching unread count for %s %d failed: %w", role, userID, err)
	}
	if err := statusError(resp); err != nil {
		return 0, err
	}
	return body.Data.Count, nil
}

func (c *RestClient) MarkRead(ctx context.Context, role notification.Role, userID, notificationID int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(fmt.Sprintf("%s/%d/mark-read", notificationsPath(role, userID), notificationID))
	if err != nil {
		return fmt.Errorf("marking notification %d as read failed: %w", notificationID, err)
	}
	return statusError(resp)
}

func (c *RestClient) MarkAllRead(ctx context.Context, role notification.Role, userID int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Post(notificationsPath(role, userID) + "/mark-all-read")
	if err != nil {
		return fmt.Errorf("marking all notifications as read for %s %d failed: %w", role, userID, err)
	}
	return statusError(resp)
}

func (c *RestClient) Delete(ctx context.Context, role notification.Role, userID, notificationID int64) error {
	resp, err := c.http.R().
		SetContext(ctx).
		Delete(fmt.Sprintf("%s/%d", notificationsPath(role, userID), notificationID))
	if err != nil {
		return fmt.Errorf("deleting notification %d failed: %w", notificationID, err)
	}
	return statusError(resp)
}

// statusError maps non-2xx responses onto the client error taxonomy.
func statusError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	if resp.StatusCode() == http.StatusNotFound {
		return common.ErrNotFound.WithDetails(resp.String())
	}
	return common.ErrAPIFailure.WithDetails(fmt.Sprintf("status %d: %s", resp.StatusCode(), resp.String()))
}

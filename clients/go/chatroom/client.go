// Package chatroom provides an HTTP client for the chatroom API. Client
// implements store.RoomStore, so a chat.Session can run against a remote
// server exactly as it runs against a local store.
package chatroom

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/eldtechnologies/chatroom/internal/handlers"
	"github.com/eldtechnologies/chatroom/internal/models"
	"github.com/eldtechnologies/chatroom/internal/store"
)

var _ store.RoomStore = (*Client)(nil)

// DefaultURL is used when no base URL is given.
const DefaultURL = "http://localhost:8080"

// Client is a chatroom API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is an error response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatroom error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
// Errors are mapped onto the store sentinels.
func (c *Client) doRequest(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &store.OpError{Op: op, Kind: store.ErrUnavailable, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &store.OpError{Op: op, Kind: store.ErrUnavailable, Err: err}
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return statusError(op, &APIError{Status: resp.StatusCode, Message: errResp.Error})
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// statusError maps an HTTP error status to the matching store error.
func statusError(op string, apiErr *APIError) error {
	switch {
	case apiErr.Status == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, apiErr.Message)
	case apiErr.Status == http.StatusNotFound:
		return &store.OpError{Op: op, Kind: store.ErrNotFound, Err: apiErr}
	case apiErr.Status == http.StatusConflict:
		return &store.OpError{Op: op, Kind: store.ErrAlreadyExists, Err: apiErr}
	case apiErr.Status == http.StatusTooManyRequests, apiErr.Status >= 500:
		return &store.OpError{Op: op, Kind: store.ErrUnavailable, Err: apiErr}
	default:
		return apiErr
	}
}

// Ping checks that the server and its store are healthy.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.HTTPClient.CloseIdleConnections()
	return nil
}

// Health returns the server health report.
func (c *Client) Health(ctx context.Context) (*handlers.HealthResponse, error) {
	var resp handlers.HealthResponse
	if err := c.doRequest(ctx, "health", "GET", "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateRoom creates a room. An empty code lets the server generate one.
func (c *Client) CreateRoom(ctx context.Context, code, name string) (*models.Room, error) {
	var resp handlers.RoomResponse
	req := handlers.CreateRoomRequest{Code: code, Name: name}
	if err := c.doRequest(ctx, "create room", "POST", "/rooms", req, &resp); err != nil {
		return nil, err
	}
	return roomFromResponse(resp), nil
}

// RoomExists reports whether the room exists.
func (c *Client) RoomExists(ctx context.Context, code string) (bool, error) {
	_, err := c.GetRoom(ctx, code)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// GetRoom returns room metadata.
func (c *Client) GetRoom(ctx context.Context, code string) (*models.Room, error) {
	var resp handlers.RoomResponse
	if err := c.doRequest(ctx, "get room", "GET", "/rooms/"+url.PathEscape(code), nil, &resp); err != nil {
		return nil, err
	}
	return roomFromResponse(resp), nil
}

// AppendMessage posts msg. The ID is assigned before the first attempt so a
// retried request is not appended twice.
func (c *Client) AppendMessage(ctx context.Context, code string, msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	req := handlers.PostMessageRequest{
		ID:        msg.ID,
		Author:    msg.Author,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
	}
	var resp handlers.PostMessageResponse
	if err := c.doRequest(ctx, "append message", "POST", "/rooms/"+url.PathEscape(code)+"/messages", req, &resp); err != nil {
		return err
	}

	msg.RoomCode = code
	msg.Seq = resp.Seq
	msg.Timestamp = resp.Timestamp
	return nil
}

// FetchMessages returns the messages after afterSeq, oldest first.
func (c *Client) FetchMessages(ctx context.Context, code string, afterSeq int64) ([]models.Message, error) {
	path := "/rooms/" + url.PathEscape(code) + "/messages"
	if afterSeq > 0 {
		path += "?after=" + strconv.FormatInt(afterSeq, 10)
	}

	var resp handlers.RoomMessagesResponse
	if err := c.doRequest(ctx, "fetch messages", "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

func roomFromResponse(resp handlers.RoomResponse) *models.Room {
	createdAt, _ := time.Parse(time.RFC3339, resp.CreatedAt)
	return &models.Room{
		Code:         resp.Code,
		Name:         resp.Name,
		CreatedAt:    createdAt,
		MessageCount: resp.MessageCount,
	}
}

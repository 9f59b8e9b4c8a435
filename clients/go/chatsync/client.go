// Package chatsync provides the Go client for the Beatmart chat
// gateway: an HTTP client, a websocket event stream, and a Session that
// keeps one reconciled in-memory view of the user's chat state.
package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a chat gateway API client.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new gateway client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// doRequest performs an HTTP request against the gateway.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return nil, fmt.Errorf("gateway error %d: %s", resp.StatusCode, errResp.Error)
	}

	return respBody, nil
}

// LoginResponse is the response from logging in.
type LoginResponse struct {
	Token   string  `json:"token"`
	Profile Profile `json:"profile"`
}

// Login exchanges a nickname for a session token and stores it on the
// client for subsequent requests.
func (c *Client) Login(ctx context.Context, nickname string) (*LoginResponse, error) {
	body, _ := json.Marshal(map[string]string{"nickname": nickname})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/login", body)
	if err != nil {
		return nil, err
	}

	var resp LoginResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	c.Token = resp.Token
	return &resp, nil
}

// ConversationsResponse is the response from listing conversations.
type ConversationsResponse struct {
	Conversations []ConversationView `json:"conversations"`
}

// ListConversations retrieves the caller's conversations, most recent
// activity first.
func (c *Client) ListConversations(ctx context.Context) ([]ConversationView, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/conversations", nil)
	if err != nil {
		return nil, err
	}

	var resp ConversationsResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Conversations, nil
}

// CreateConversationResponse is the response from get-or-create.
type CreateConversationResponse struct {
	Conversation Conversation `json:"conversation"`
	Created      bool         `json:"created"`
}

// CreateConversation gets or creates the two-party conversation with
// the target user.
func (c *Client) CreateConversation(ctx context.Context, userID string) (Conversation, bool, error) {
	body, _ := json.Marshal(map[string]string{"user_id": userID})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/conversations", body)
	if err != nil {
		return Conversation{}, false, err
	}

	var resp CreateConversationResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return Conversation{}, false, err
	}
	return resp.Conversation, resp.Created, nil
}

// MessagesResponse is the response from fetching message history.
type MessagesResponse struct {
	Messages []Message `json:"messages"`
	HasMore  bool      `json:"has_more"`
}

// ListMessages retrieves one ascending page of a conversation's
// history. before, when non-empty, is an exclusive message ID cursor.
func (c *Client) ListMessages(ctx context.Context, conversationID string, limit int, before string) ([]Message, bool, error) {
	path := fmt.Sprintf("/conversations/%s/messages?limit=%d", conversationID, limit)
	if before != "" {
		path += "&before=" + url.QueryEscape(before)
	}

	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, false, err
	}

	var resp MessagesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, false, err
	}
	return resp.Messages, resp.HasMore, nil
}

// PostMessageRequest is the request body for sending a message.
type PostMessageRequest struct {
	Body       string `json:"body"`
	ReplyToID  string `json:"reply_to,omitempty"`
	ClientID   string `json:"client_id,omitempty"`
	Attachment bool   `json:"attachment,omitempty"`
}

// PostMessage sends a message. The gateway deduplicates by client_id,
// so retrying with the same ClientID is safe.
func (c *Client) PostMessage(ctx context.Context, conversationID string, req PostMessageRequest) (*Message, error) {
	reqBody, _ := json.Marshal(req)
	respBody, err := c.doRequest(ctx, http.MethodPost, "/conversations/"+conversationID+"/messages", reqBody)
	if err != nil {
		return nil, err
	}

	var msg Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// MarkRead advances the caller's read watermark for a conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID, messageID string) error {
	body, _ := json.Marshal(map[string]string{"message_id": messageID})
	_, err := c.doRequest(ctx, http.MethodPost, "/conversations/"+conversationID+"/read", body)
	return err
}

// SearchUsersResponse is the response from searching users.
type SearchUsersResponse struct {
	Users []Profile `json:"users"`
}

// SearchUsers searches nicknames, case-insensitive, excluding the caller.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]Profile, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/users?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, err
	}

	var resp SearchUsersResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// SignUploadResponse is the response from requesting a signed upload URL.
type SignUploadResponse struct {
	URL       string `json:"url"`
	ExpiresAt int64  `json:"expires_at"`
}

// SignUpload requests a short-lived signed URL for an attachment upload.
func (c *Client) SignUpload(ctx context.Context, filename, contentType string) (*SignUploadResponse, error) {
	body, _ := json.Marshal(map[string]string{
		"filename":     filename,
		"content_type": contentType,
	})
	respBody, err := c.doRequest(ctx, http.MethodPost, "/uploads/sign", body)
	if err != nil {
		return nil, err
	}

	var resp SignUploadResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks gateway health.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}

	var resp HealthResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

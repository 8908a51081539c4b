// Package client provides a GraphQL client for the collaborator API: the
// CRUD surface that owns message storage, conversation summaries and unread
// bookkeeping. The realtime core consumes these calls; it never talks to a
// database itself.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/SachiPatankar/buildasquad-sub000/internal/models"
)

// ErrUnauthorized indicates the session token was missing or rejected.
// Use errors.Is() to check for it in calling code.
var ErrUnauthorized = errors.New("unauthorized")

// Client is a GraphQL client for the collaborator API.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// New creates a new collaborator client. If endpoint is empty, uses the
// SQUADCHAT_API_URL env var or defaults to localhost:4000.
// Timeout can be configured via SQUADCHAT_API_TIMEOUT (default 30s).
func New(endpoint, token string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("SQUADCHAT_API_URL")
	}
	if endpoint == "" {
		endpoint = "http://localhost:4000/graphql"
	}

	timeout := 30 * time.Second
	if t := os.Getenv("SQUADCHAT_API_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// graphQLRequest is the request payload for GraphQL operations.
type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphQLResponse is the response payload from GraphQL operations.
type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// graphQLError represents a GraphQL error.
type graphQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Execute sends a GraphQL query/mutation and returns the result.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any, result any) error {
	reqBody, err := json.Marshal(graphQLRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error: %s - %s", resp.Status, string(body))
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	if result != nil && len(gqlResp.Data) > 0 {
		if err := json.Unmarshal(gqlResp.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}

	return nil
}

const messageFields = `
	id conversationId senderId content createdAt editedAt deleted replyTo
	readBy { userId readAt }
`

// FetchMessages returns one page of a conversation's history, oldest first.
func (c *Client) FetchMessages(ctx context.Context, conversationID string, page, pageSize int) ([]models.Message, error) {
	const query = `
		query FetchMessages($conversationId: ID!, $page: Int!, $pageSize: Int!) {
			messages(conversationId: $conversationId, page: $page, pageSize: $pageSize) {` + messageFields + `}
		}
	`

	var result struct {
		Messages []models.Message `json:"messages"`
	}
	vars := map[string]any{
		"conversationId": conversationID,
		"page":           page,
		"pageSize":       pageSize,
	}
	if err := c.Execute(ctx, query, vars, &result); err != nil {
		return nil, err
	}
	return result.Messages, nil
}

// SendMessage creates a message and returns the server-assigned record.
// replyTo, when non-nil, references the message being replied to.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string, replyTo *string) (*models.Message, error) {
	const query = `
		mutation SendMessage($conversationId: ID!, $content: String!, $replyTo: ID) {
			sendMessage(conversationId: $conversationId, content: $content, replyTo: $replyTo) {` + messageFields + `}
		}
	`

	vars := map[string]any{
		"conversationId": conversationID,
		"content":        content,
	}
	if replyTo != nil {
		vars["replyTo"] = *replyTo
	}

	var result struct {
		SendMessage models.Message `json:"sendMessage"`
	}
	if err := c.Execute(ctx, query, vars, &result); err != nil {
		return nil, err
	}
	return &result.SendMessage, nil
}

// EditMessage replaces a message's content and returns the updated record.
func (c *Client) EditMessage(ctx context.Context, messageID, content string) (*models.Message, error) {
	const query = `
		mutation EditMessage($id: ID!, $content: String!) {
			editMessage(id: $id, content: $content) {` + messageFields + `}
		}
	`

	var result struct {
		EditMessage models.Message `json:"editMessage"`
	}
	if err := c.Execute(ctx, query, map[string]any{"id": messageID, "content": content}, &result); err != nil {
		return nil, err
	}
	return &result.EditMessage, nil
}

// DeleteMessage soft-deletes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	const query = `
		mutation DeleteMessage($id: ID!) {
			deleteMessage(id: $id)
		}
	`

	var result struct {
		DeleteMessage bool `json:"deleteMessage"`
	}
	return c.Execute(ctx, query, map[string]any{"id": messageID}, &result)
}

// MarkRead marks all messages in a conversation as read by the viewer and
// resets its server-side unread counter.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	const query = `
		mutation MarkRead($conversationId: ID!) {
			markConversationRead(conversationId: $conversationId)
		}
	`

	var result struct {
		MarkConversationRead bool `json:"markConversationRead"`
	}
	return c.Execute(ctx, query, map[string]any{"conversationId": conversationID}, &result)
}

// FetchConversationSummaries returns every conversation the viewer belongs
// to with its last-message preview and unread count.
func (c *Client) FetchConversationSummaries(ctx context.Context) ([]models.ConversationSummary, error) {
	const query = `
		query FetchConversationSummaries {
			conversations {
				conversationId participantIds lastMessage lastMessageAt unreadCount
			}
		}
	`

	var result struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	if err := c.Execute(ctx, query, nil, &result); err != nil {
		return nil, err
	}
	return result.Conversations, nil
}

// FetchUnreadCounts returns the server-authoritative per-conversation unread
// counts plus the aggregate total. Used for bulk counter reconciliation on
// session start and after reconnects.
func (c *Client) FetchUnreadCounts(ctx context.Context) (map[string]int, int, error) {
	const query = `
		query FetchUnreadCounts {
			unreadCounts {
				total
				perConversation { conversationId count }
			}
		}
	`

	var result struct {
		UnreadCounts struct {
			Total           int `json:"total"`
			PerConversation []struct {
				ConversationID string `json:"conversationId"`
				Count          int    `json:"count"`
			} `json:"perConversation"`
		} `json:"unreadCounts"`
	}
	if err := c.Execute(ctx, query, nil, &result); err != nil {
		return nil, 0, err
	}

	counts := make(map[string]int, len(result.UnreadCounts.PerConversation))
	for _, pc := range result.UnreadCounts.PerConversation {
		counts[pc.ConversationID] = pc.Count
	}
	return counts, result.UnreadCounts.Total, nil
}

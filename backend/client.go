// Package backend is the HTTP client for the server-side message API.
// It classifies failures so callers can tell a rejected request from a
// backend that is merely unreachable.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/arkonsol/ark-app/domain"
	apperrors "github.com/arkonsol/ark-app/errors"
)

const defaultTimeout = 10 * time.Second

type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client implements contract.Backend.
type Client struct {
	baseURL  string
	http     *http.Client
	validate *validator.Validate
	log      *slog.Logger
}

func NewClient(cfg Config, log *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: backend base URL", apperrors.ErrMissingConfig)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		http:     &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(),
		log:      log,
	}, nil
}

type createMessageBody struct {
	RoomID   string             `json:"roomId" validate:"required"`
	SenderID string             `json:"senderId" validate:"required"`
	Content  string             `json:"content" validate:"required"`
	Type     domain.MessageType `json:"type"`
	Metadata domain.Metadata    `json:"metadata"`
	ReplyTo  *string            `json:"replyToId,omitempty"`
}

type listMessagesBody struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor *string          `json:"nextCursor"`
}

type reactionBody struct {
	Emoji    string `json:"emoji" validate:"required"`
	Username string `json:"username" validate:"required"`
}

// CreateMessage registers a message server-side. A 4xx answer means
// the server refused the payload and retrying the same message is
// pointless; that case is wrapped in ErrSendRejected.
func (c *Client) CreateMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	body := createMessageBody{
		RoomID:   msg.RoomID,
		SenderID: msg.Sender.WalletAddress,
		Content:  msg.Content,
		Type:     msg.Type,
		Metadata: msg.Metadata,
	}
	if msg.ReplyTo != nil {
		body.ReplyTo = &msg.ReplyTo.ID
	}
	if err := c.validate.Struct(body); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", apperrors.ErrSendRejected, err)
	}

	var created domain.Message
	err := c.post(ctx, "/api/messages", body, &created)
	if err != nil {
		return domain.Message{}, err
	}
	return created, nil
}

// ListMessages fetches one page of room history from the server.
func (c *Client) ListMessages(ctx context.Context, roomID string, limit int, cursor *string) ([]domain.Message, *string, error) {
	query := url.Values{}
	query.Set("roomId", roomID)
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != nil {
		query.Set("cursor", *cursor)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/messages?"+query.Encode(), nil)
	if err != nil {
		return nil, nil, err
	}

	var page listMessagesBody
	if err = c.do(request, &page); err != nil {
		return nil, nil, err
	}
	return page.Messages, page.NextCursor, nil
}

// ToggleReaction flips a reaction server-side and returns the
// authoritative state of the message.
func (c *Client) ToggleReaction(ctx context.Context, messageID, emoji, username string) (domain.Message, error) {
	body := reactionBody{Emoji: emoji, Username: username}
	if err := c.validate.Struct(body); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", apperrors.ErrSendRejected, err)
	}

	var updated domain.Message
	err := c.post(ctx, "/api/messages/"+url.PathEscape(messageID)+"/reactions", body, &updated)
	if err != nil {
		return domain.Message{}, err
	}
	return updated, nil
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	return c.do(request, out)
}

func (c *Client) do(request *http.Request, out any) error {
	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", request.Method, request.URL.Path, err)
	}
	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode >= http.StatusBadRequest {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		if response.StatusCode < http.StatusInternalServerError {
			return fmt.Errorf("%w: %s (%s)", apperrors.ErrSendRejected, response.Status, detail)
		}
		return fmt.Errorf("%s %s: %s (%s)", request.Method, request.URL.Path, response.Status, detail)
	}

	if out == nil {
		return nil
	}
	if err = json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", request.URL.Path, err)
	}
	return nil
}

// Package lark sends replies through the Lark Open API.
package lark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/user/larkflow/internal/types"
)

// CodeBotNotInChat is returned when the bot was removed from the chat.
const CodeBotNotInChat = 230002

const (
	msgTypeText  = "text"
	msgTypeImage = "image"
)

// APIError is a non-zero business code returned by the Open API.
type APIError struct {
	Code      int
	Msg       string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lark api error %d: %s (request %s)", e.Code, e.Msg, e.RequestID)
}

// IsBotNotInChat reports whether err means the bot can no longer post in the chat.
func IsBotNotInChat(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeBotNotInChat
}

// Config holds the app credentials.
type Config struct {
	AppID     string
	AppSecret string
	BaseURL   string
	Timeout   time.Duration
}

// Messenger replies to messages as the app's bot.
type Messenger struct {
	client *lark.Client
}

// New creates a Messenger. An empty BaseURL targets open.larksuite.com.
func New(cfg Config) *Messenger {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = lark.LarkBaseUrl
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithOpenBaseUrl(baseURL),
		lark.WithEnableTokenCache(true),
		lark.WithHttpClient(&http.Client{Timeout: timeout}),
	)
	return &Messenger{client: client}
}

// ReplyText replies to messageID with a text message.
func (m *Messenger) ReplyText(ctx context.Context, messageID types.MessageID, text string) error {
	content, err := textContent(text)
	if err != nil {
		return err
	}
	return m.reply(ctx, messageID, msgTypeText, content)
}

// ReplyImage replies to messageID with a previously uploaded image.
func (m *Messenger) ReplyImage(ctx context.Context, messageID types.MessageID, imageKey string) error {
	content, err := imageContent(imageKey)
	if err != nil {
		return err
	}
	return m.reply(ctx, messageID, msgTypeImage, content)
}

func (m *Messenger) reply(ctx context.Context, messageID types.MessageID, msgType, content string) error {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(string(messageID)).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(msgType).
			Content(content).
			Build()).
		Build()

	resp, err := m.client.Im.Message.Reply(ctx, req)
	if err != nil {
		return fmt.Errorf("reply message: %w", err)
	}
	if !resp.Success() {
		return &APIError{Code: resp.Code, Msg: resp.Msg, RequestID: resp.RequestId()}
	}
	return nil
}

func textContent(text string) (string, error) {
	b, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("marshal text content: %w", err)
	}
	return string(b), nil
}

func imageContent(imageKey string) (string, error) {
	b, err := json.Marshal(map[string]string{"image_key": imageKey})
	if err != nil {
		return "", fmt.Errorf("marshal image content: %w", err)
	}
	return string(b), nil
}

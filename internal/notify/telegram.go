package notify

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/vdetect/streamguard/internal/settings"
)

const telegramAPIBase = "https://api.telegram.org"

// Telegram delivers alerts through the Telegram Bot API. Credentials and
// the thumbnail toggle are read fresh per send so reconfiguration applies
// without restart.
type Telegram struct {
	sets    *settings.Store
	http    *http.Client
	baseURL string
}

// NewTelegram creates the production transport.
func NewTelegram(sets *settings.Store) *Telegram {
	return &Telegram{
		sets:    sets,
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: telegramAPIBase,
	}
}

// Send delivers one message, attaching the thumbnail as a photo when one
// is provided and thumbnails are enabled.
func (t *Telegram) Send(message string, thumbnail string) error {
	cfg := t.sets.Snapshot().Telegram
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		return nil
	}

	if thumbnail != "" && cfg.SendThumbnails {
		return t.sendPhoto(cfg, message, thumbnail)
	}
	return t.sendMessage(cfg, message)
}

// TestConnection verifies the configured bot token with getMe.
func (t *Telegram) TestConnection() error {
	cfg := t.sets.Snapshot().Telegram
	if !cfg.Enabled || cfg.BotToken == "" || cfg.ChatID == "" {
		return fmt.Errorf("telegram transport not configured")
	}

	resp, err := t.http.Get(fmt.Sprintf("%s/bot%s/getMe", t.baseURL, cfg.BotToken))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	if !body.OK {
		return fmt.Errorf("telegram getMe returned ok=false")
	}
	return nil
}

func (t *Telegram) sendMessage(cfg settings.Telegram, message string) error {
	payload, err := json.Marshal(map[string]string{
		"chat_id":    cfg.ChatID,
		"text":       message,
		"parse_mode": "HTML",
	})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, cfg.BotToken)
	resp, err := t.http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram sendMessage status %d", resp.StatusCode)
	}
	return nil
}

func (t *Telegram) sendPhoto(cfg settings.Telegram, message string, thumbnail string) error {
	photo, err := base64.StdEncoding.DecodeString(thumbnail)
	if err != nil {
		// A corrupt thumbnail should not lose the alert text.
		return t.sendMessage(cfg, message)
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	_ = form.WriteField("chat_id", cfg.ChatID)
	_ = form.WriteField("caption", message)
	_ = form.WriteField("parse_mode", "HTML")

	part, err := form.CreateFormFile("photo", "frame.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(photo); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendPhoto", t.baseURL, cfg.BotToken)
	resp, err := t.http.Post(url, form.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram sendPhoto status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

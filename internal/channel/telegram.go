package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mediabot/internal/domain"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for a Telegram bot using long polling.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)

	bot    *tgbotapi.BotAPI
	client *http.Client
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		client:    newMediaClient(),
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is done.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)
	bus.RegisterTransport(t)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: polling stops when Start's context is cancelled, and
// calling StopReceivingUpdates twice panics.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	m := update.Message
	if m == nil || m.From == nil || m.Chat == nil {
		return
	}

	if !t.isAllowed(m.From.ID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", m.From.ID,
			"username", m.From.UserName,
		)
		return
	}

	if m.IsCommand() {
		t.handleCommand(m)
		return
	}

	msg, ok := telegramInbound(m)
	if !ok {
		return
	}
	t.logger.Info("telegram message received",
		"chat_id", m.Chat.ID,
		"kind", msg.Kind,
		"text_len", len(msg.Body)+len(msg.Caption),
	)
	t.bus.Publish(msg)
}

// telegramInbound maps a Telegram message onto an InboundMessage. Photos use
// the largest size Telegram offers.
func telegramInbound(m *tgbotapi.Message) (domain.InboundMessage, bool) {
	msg := domain.InboundMessage{
		ID:             strconv.Itoa(m.MessageID),
		Channel:        "telegram",
		ConversationID: strconv.FormatInt(m.Chat.ID, 10),
		Kind:           domain.KindText,
		Body:           strings.TrimSpace(m.Text),
		Caption:        strings.TrimSpace(m.Caption),
		Timestamp:      time.Unix(int64(m.Date), 0),
	}
	if m.From != nil {
		msg.SenderID = strconv.FormatInt(m.From.ID, 10)
	}

	switch {
	case len(m.Photo) > 0:
		best := m.Photo[0]
		for _, p := range m.Photo[1:] {
			if p.Width*p.Height > best.Width*best.Height {
				best = p
			}
		}
		msg.Kind = domain.KindImage
		msg.MimeType = "image/jpeg"
		msg.MediaRef = best.FileID
	case m.Document != nil:
		msg.Kind = domain.KindDocument
		msg.Filename = m.Document.FileName
		msg.MimeType = m.Document.MimeType
		msg.MediaRef = m.Document.FileID
	}

	if msg.Kind == domain.KindText && msg.Body == "" {
		return msg, false
	}
	// Captions double as the body so the wake phrase works on media too.
	if msg.Body == "" {
		msg.Body = msg.Caption
	}
	return msg, true
}

func (t *Telegram) handleCommand(m *tgbotapi.Message) {
	chatID := m.Chat.ID
	switch m.Command() {
	case "start", "help":
		t.sendMessage(chatID, "Hi! Send me images and ask me to \"combine images\" for a single PDF, "+
			"send a photo with \"image to pdf\", a Word file with \"word to pdf\", "+
			"or a YouTube link with \"mp3\" or \"mp4\".")
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) FetchMedia(ctx context.Context, msg domain.InboundMessage) (domain.Payload, error) {
	if msg.MediaRef == "" {
		return domain.Payload{}, fmt.Errorf("telegram message %s has no media", msg.ID)
	}
	url, err := t.bot.GetFileDirectURL(msg.MediaRef)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("resolve telegram file: %w", err)
	}
	data, err := download(ctx, t.client, url, nil)
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.BinaryPayload(data), nil
}

func (t *Telegram) SendText(ctx context.Context, conversationID, text string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	return t.sendMessage(chatID, text)
}

func (t *Telegram) SendFile(ctx context.Context, conversationID, path, filename, caption string) error {
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileReader{Name: filename, Reader: f})
	doc.Caption = caption
	if _, err := t.bot.Send(doc); err != nil {
		return fmt.Errorf("telegram send document: %w", err)
	}
	return nil
}

// SimulateTyping sends the typing action. Telegram clears it on its own, so
// "off" is a no-op.
func (t *Telegram) SimulateTyping(ctx context.Context, conversationID string, on bool) error {
	if !on {
		return nil
	}
	chatID, err := strconv.ParseInt(conversationID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	_, err = t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (t *Telegram) sendMessage(chatID int64, text string) error {
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if err := t.sendChunk(chatID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk sends a single message chunk with retry and rate limit handling.
func (t *Telegram) sendChunk(chatID int64, text string) error {
	var err error
	for attempt := 0; attempt <= telegramMaxSendRetries; attempt++ {
		if _, err = t.bot.Send(tgbotapi.NewMessage(chatID, text)); err == nil {
			return nil
		}
		if attempt == telegramMaxSendRetries {
			break
		}

		backoff := time.Duration(attempt+1) * time.Second
		// Telegram rate limiting (HTTP 429) needs a longer pause.
		if errStr := err.Error(); strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			backoff *= 3
		}
		t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff, "attempt", attempt+1)
		time.Sleep(backoff)
	}
	return fmt.Errorf("telegram send failed after %d attempts: %w", telegramMaxSendRetries+1, err)
}

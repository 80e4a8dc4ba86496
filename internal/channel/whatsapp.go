package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"time"

	"mediabot/internal/config"
	"mediabot/internal/domain"
	"mediabot/internal/media"
)

const (
	whatsappAPIBase    = "https://graph.facebook.com/v21.0"
	whatsappMaxBodyLen = 4 << 20
	whatsappMaxTextLen = 4096
)

// WhatsApp implements domain.Channel for the WhatsApp Business Cloud API.
// Inbound messages arrive on a webhook mounted by the gateway's HTTP server.
type WhatsApp struct {
	cfg    config.WhatsAppConfig
	bus    domain.MessageBus
	logger *slog.Logger
	client *http.Client
	mux    *http.ServeMux
}

type WhatsAppChannelConfig struct {
	Config     config.WhatsAppConfig
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewWhatsApp(cfg WhatsAppChannelConfig) *WhatsApp {
	if cfg.Config.WebhookPath == "" {
		cfg.Config.WebhookPath = "/webhook/whatsapp"
	}
	if cfg.Config.APIBase == "" {
		cfg.Config.APIBase = whatsappAPIBase
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newMediaClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	w := &WhatsApp{
		cfg:    cfg.Config,
		logger: cfg.Logger,
		client: cfg.HTTPClient,
		mux:    http.NewServeMux(),
	}
	w.mux.HandleFunc("GET "+w.cfg.WebhookPath, w.handleVerification)
	w.mux.HandleFunc("POST "+w.cfg.WebhookPath, w.handleIncoming)
	return w
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Start registers the transport; the webhook does the receiving.
func (w *WhatsApp) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus
	bus.RegisterTransport(w)
	w.logger.Info("whatsapp channel ready", "webhook", w.cfg.WebhookPath)
	return nil
}

func (w *WhatsApp) Stop() error { return nil }

// WebhookPath is where Handler expects to be mounted.
func (w *WhatsApp) WebhookPath() string { return w.cfg.WebhookPath }

// Handler returns the HTTP handler for the WhatsApp webhook (to be mounted on the main mux).
func (w *WhatsApp) Handler() http.Handler { return w.mux }

// --- Webhook handlers ---

// handleVerification answers the webhook subscription challenge.
func (w *WhatsApp) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && w.cfg.VerifyToken != "" && token == w.cfg.VerifyToken {
		w.logger.Info("whatsapp webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	w.logger.Warn("whatsapp webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming publishes text, image and document messages.
func (w *WhatsApp) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, whatsappMaxBodyLen))
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.cfg.AppSecret, sig) {
			w.logger.Warn("whatsapp invalid signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, msg := range payload.inbound() {
		w.logger.Info("whatsapp message received", "from", msg.SenderID, "kind", msg.Kind)
		if w.bus != nil {
			w.bus.Publish(msg)
		}
	}

	rw.WriteHeader(http.StatusOK)
}

// verifyHMAC checks a "sha256=<hex>" signature over body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// --- Transport ---

// FetchMedia resolves the media ID to a short-lived URL, then downloads it.
// Both requests need the access token.
func (w *WhatsApp) FetchMedia(ctx context.Context, msg domain.InboundMessage) (domain.Payload, error) {
	if msg.MediaRef == "" {
		return domain.Payload{}, fmt.Errorf("whatsapp message %s has no media", msg.ID)
	}
	auth := http.Header{"Authorization": {"Bearer " + w.cfg.AccessToken}}

	meta, err := download(ctx, w.client, fmt.Sprintf("%s/%s", w.cfg.APIBase, msg.MediaRef), auth)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("whatsapp media lookup: %w", err)
	}
	var info struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(meta, &info); err != nil || info.URL == "" {
		return domain.Payload{}, fmt.Errorf("whatsapp media lookup: no url in response")
	}

	data, err := download(ctx, w.client, info.URL, auth)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("whatsapp media download: %w", err)
	}
	return domain.BinaryPayload(data), nil
}

func (w *WhatsApp) SendText(ctx context.Context, conversationID, text string) error {
	for _, chunk := range splitMessage(text, whatsappMaxTextLen) {
		err := w.postMessage(ctx, map[string]any{
			"messaging_product": "whatsapp",
			"to":                conversationID,
			"type":              "text",
			"text":              map[string]string{"body": chunk},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// SendFile uploads the artifact and sends it as a document message.
func (w *WhatsApp) SendFile(ctx context.Context, conversationID, path, filename, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	id, err := w.uploadMedia(ctx, data, filename)
	if err != nil {
		return err
	}
	return w.postMessage(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                conversationID,
		"type":              "document",
		"document": map[string]string{
			"id":       id,
			"filename": filename,
			"caption":  caption,
		},
	})
}

// SimulateTyping is a no-op: the Cloud API only shows typing tied to a
// specific inbound message being marked read.
func (w *WhatsApp) SimulateTyping(ctx context.Context, conversationID string, on bool) error {
	return nil
}

func (w *WhatsApp) uploadMedia(ctx context.Context, data []byte, filename string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("messaging_product", "whatsapp")
	contentType := media.Sniff(data)
	_ = mw.WriteField("type", contentType)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build upload: %w", err)
	}

	url := fmt.Sprintf("%s/%s/media", w.cfg.APIBase, w.cfg.PhoneNumberID)
	resp, err := w.do(ctx, url, mw.FormDataContentType(), &buf)
	if err != nil {
		return "", fmt.Errorf("whatsapp upload: %w", err)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &out); err != nil || out.ID == "" {
		return "", fmt.Errorf("whatsapp upload: no media id in response")
	}
	return out.ID, nil
}

func (w *WhatsApp) postMessage(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	url := fmt.Sprintf("%s/%s/messages", w.cfg.APIBase, w.cfg.PhoneNumberID)
	if _, err := w.do(ctx, url, "application/json", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("whatsapp send: %w", err)
	}
	return nil
}

func (w *WhatsApp) do(ctx context.Context, url, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+w.cfg.AccessToken)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Messages         []waMessage `json:"messages"`
}

type waMessage struct {
	From      string   `json:"from"`
	ID        string   `json:"id"`
	Timestamp string   `json:"timestamp"`
	Type      string   `json:"type"`
	Text      *waText  `json:"text,omitempty"`
	Image     *waMedia `json:"image,omitempty"`
	Document  *waMedia `json:"document,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// inbound flattens the webhook payload. Unsupported message types are
// dropped.
func (p waPayload) inbound() []domain.InboundMessage {
	var out []domain.InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				msg := domain.InboundMessage{
					ID:             m.ID,
					Channel:        "whatsapp",
					ConversationID: m.From,
					SenderID:       m.From,
					Timestamp:      parseUnix(m.Timestamp),
				}
				switch {
				case m.Type == "text" && m.Text != nil:
					msg.Kind = domain.KindText
					msg.Body = m.Text.Body
				case m.Type == "image" && m.Image != nil:
					msg.Kind = domain.KindImage
					msg.MimeType = m.Image.MimeType
					msg.MediaRef = m.Image.ID
					msg.Caption = m.Image.Caption
					msg.Body = m.Image.Caption
				case m.Type == "document" && m.Document != nil:
					msg.Kind = domain.KindDocument
					msg.MimeType = m.Document.MimeType
					msg.MediaRef = m.Document.ID
					msg.Filename = m.Document.Filename
					msg.Caption = m.Document.Caption
					msg.Body = m.Document.Caption
				default:
					continue
				}
				out = append(out, msg)
			}
		}
	}
	return out
}

func parseUnix(s string) time.Time {
	var sec int64
	if _, err := fmt.Sscan(s, &sec); err != nil || sec <= 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}

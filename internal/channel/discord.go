package channel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"mediabot/internal/domain"
	"mediabot/internal/media"
)

const (
	discordMaxMsgLen = 2000
)

// Discord implements domain.Channel for a Discord bot.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	client  *http.Client
	bus     domain.MessageBus
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		client:  newMediaClient(),
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and blocks until ctx is done.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session
	bus.RegisterTransport(d)

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore bot's own messages.
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}

		msgs := discordInbound(m.Message)
		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"attachments", len(m.Attachments),
		)
		for _, msg := range msgs {
			bus.Publish(msg)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	// Wait for context cancellation.
	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

// discordInbound turns one Discord message into inbound messages. A single
// attachment carries the text as its caption; with several, each attachment
// is its own message and the text follows separately.
func discordInbound(m *discordgo.Message) []domain.InboundMessage {
	base := domain.InboundMessage{
		ID:             m.ID,
		Channel:        "discord",
		ConversationID: m.ChannelID,
		Kind:           domain.KindText,
		Timestamp:      m.Timestamp,
	}
	if m.Author != nil {
		base.SenderID = m.Author.ID
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now()
	}
	text := strings.TrimSpace(m.Content)

	var out []domain.InboundMessage
	for i, a := range m.Attachments {
		msg := base
		msg.ID = fmt.Sprintf("%s:%d", m.ID, i)
		msg.Kind = domain.KindDocument
		if strings.HasPrefix(a.ContentType, "image/") {
			msg.Kind = domain.KindImage
		}
		msg.Filename = a.Filename
		msg.MimeType = a.ContentType
		msg.MediaRef = a.URL
		if len(m.Attachments) == 1 {
			msg.Caption = text
			msg.Body = text
		}
		out = append(out, msg)
	}
	if text != "" && len(m.Attachments) != 1 {
		msg := base
		msg.Body = text
		out = append(out, msg)
	}
	return out
}

func (d *Discord) FetchMedia(ctx context.Context, msg domain.InboundMessage) (domain.Payload, error) {
	if msg.MediaRef == "" {
		return domain.Payload{}, fmt.Errorf("discord message %s has no attachment", msg.ID)
	}
	data, err := download(ctx, d.client, msg.MediaRef, nil)
	if err != nil {
		return domain.Payload{}, err
	}
	return domain.BinaryPayload(data), nil
}

func (d *Discord) SendText(ctx context.Context, conversationID, text string) error {
	for _, chunk := range splitMessage(text, discordMaxMsgLen) {
		if _, err := d.session.ChannelMessageSend(conversationID, chunk, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("discord send: %w", err)
		}
	}
	return nil
}

func (d *Discord) SendFile(ctx context.Context, conversationID, path, filename, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read artifact: %w", err)
	}
	_, err = d.session.ChannelMessageSendComplex(conversationID, &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{{
			Name:        filename,
			ContentType: media.Sniff(data),
			Reader:      bytes.NewReader(data),
		}},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("discord send file: %w", err)
	}
	return nil
}

// SimulateTyping triggers Discord's typing indicator, which expires by
// itself after a few seconds.
func (d *Discord) SimulateTyping(ctx context.Context, conversationID string, on bool) error {
	if !on {
		return nil
	}
	return d.session.ChannelTyping(conversationID, discordgo.WithContext(ctx))
}

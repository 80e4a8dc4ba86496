package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"mediabot/internal/domain"
)

const cliConversation = "local"

// CLI implements domain.Channel for interactive terminal chat. Local files
// stand in for attachments; delivered artifacts are copied to an outbox.
type CLI struct {
	bus       domain.MessageBus
	logger    *slog.Logger
	in        io.Reader
	out       io.Writer
	outbox    string
	seq       int
	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	OutboxDir string
	Logger    *slog.Logger
	In        io.Reader
	Out       io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OutboxDir == "" {
		cfg.OutboxDir = filepath.Join(os.TempDir(), "mediabot-outbox")
	}
	return &CLI{
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
		outbox: cfg.OutboxDir,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the interactive REPL and blocks until EOF, /quit or ctx is done.
func (c *CLI) Start(ctx context.Context, bus domain.MessageBus) error {
	c.bus = bus
	bus.RegisterTransport(c)

	_, _ = fmt.Fprintln(c.out, "mediabot CLI. Type a message, or attach files with /image <path> [caption] and /doc <path> [caption]. /quit exits.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}
		if line == "/quit" || line == "/exit" || line == "/q" {
			c.logger.Info("user requested quit")
			return nil
		}

		c.seq++
		msg, err := c.parseLine(line, c.seq)
		if err != nil {
			_, _ = fmt.Fprintf(c.out, "error: %v\nYou> ", err)
			continue
		}
		c.bus.Publish(msg)
	}
}

// parseLine turns one REPL line into an inbound message. Attachment commands
// sniff the file so the declared MIME type looks like a real client's.
func (c *CLI) parseLine(line string, seq int) (domain.InboundMessage, error) {
	msg := domain.InboundMessage{
		ID:             "cli-" + strconv.Itoa(seq),
		Channel:        "cli",
		ConversationID: cliConversation,
		SenderID:       "user",
		Kind:           domain.KindText,
		Body:           line,
		Timestamp:      time.Now(),
	}

	cmd, rest, _ := strings.Cut(line, " ")
	var kind domain.MessageKind
	switch cmd {
	case "/image":
		kind = domain.KindImage
	case "/doc":
		kind = domain.KindDocument
	default:
		return msg, nil
	}

	path, caption, _ := strings.Cut(strings.TrimSpace(rest), " ")
	if path == "" {
		return msg, fmt.Errorf("usage: %s <path> [caption]", cmd)
	}
	path = expandHome(path)
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return msg, fmt.Errorf("read %s: %w", path, err)
	}

	caption = strings.TrimSpace(caption)
	msg.Kind = kind
	msg.Body = caption
	msg.Caption = caption
	msg.Filename = filepath.Base(path)
	msg.MimeType = mt.String()
	msg.MediaRef = path
	return msg, nil
}

func (c *CLI) FetchMedia(ctx context.Context, msg domain.InboundMessage) (domain.Payload, error) {
	if msg.MediaRef == "" {
		return domain.Payload{}, fmt.Errorf("cli message %s has no attachment", msg.ID)
	}
	data, err := os.ReadFile(msg.MediaRef)
	if err != nil {
		return domain.Payload{}, fmt.Errorf("read attachment: %w", err)
	}
	return domain.BinaryPayload(data), nil
}

func (c *CLI) SendText(ctx context.Context, conversationID, text string) error {
	c.stopThinking()
	_, _ = fmt.Fprint(c.out, "\r\033[K") // Clear spinner line
	_, err := fmt.Fprintf(c.out, "bot> %s\nYou> ", text)
	return err
}

// SendFile copies the artifact into the outbox, since the artifact itself is
// removed once delivery returns.
func (c *CLI) SendFile(ctx context.Context, conversationID, path, filename, caption string) error {
	c.stopThinking()
	if err := os.MkdirAll(c.outbox, 0755); err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}
	dst := filepath.Join(c.outbox, filepath.Base(filename))
	if err := copyFile(path, dst); err != nil {
		return err
	}
	_, _ = fmt.Fprint(c.out, "\r\033[K")
	if caption != "" {
		_, err := fmt.Fprintf(c.out, "bot> [file] %s (%s)\nYou> ", dst, caption)
		return err
	}
	_, err := fmt.Fprintf(c.out, "bot> [file] %s\nYou> ", dst)
	return err
}

func (c *CLI) SimulateTyping(ctx context.Context, conversationID string, on bool) error {
	if on {
		c.startThinking()
	} else {
		c.stopThinking()
	}
	return nil
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	stop := c.thinkStop
	go func() {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.thinkMu.Lock()
				fmt.Fprintf(c.out, "\r%s typing...", frames[i%len(frames)])
				c.thinkMu.Unlock()
				i++
			}
		}
	}()
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}

// Stop is a no-op for CLI (we exit when Start returns).
func (c *CLI) Stop() error { return nil }

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create outbox file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy artifact: %w", err)
	}
	return out.Close()
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

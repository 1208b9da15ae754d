// Package telegram is the Telegram channel adapter. The bot library
// long-polls in its own goroutine and pushes converted messages into a
// buffered queue; the session aggregator drains the queue once per poll
// cycle, so the update cursor never needs locking against the poll
// path.
package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

const (
	queueSize      = 100
	sendTimeout    = 10 * time.Second
	typingTimeout  = 5 * time.Second
	defaultPoll    = 30
	downloadPrefix = "tg"
)

type group struct {
	name    string
	enabled bool
}

// Plugin implements session.receive, session.send, and session.typing
// for Telegram groups and DMs.
type Plugin struct {
	logger *slog.Logger

	token       string
	pollTimeout int
	mediaDir    string

	// groups is only mutated from the bot's update goroutine.
	groups       map[int64]group
	defaultGroup int64

	bot      *bot.Bot
	messages chan models.IncomingMessage
	cancel   context.CancelFunc
}

func New(logger *slog.Logger) *Plugin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Plugin{
		logger:   logger.With("plugin", "telegram"),
		groups:   map[int64]group{},
		messages: make(chan models.IncomingMessage, queueSize),
	}
}

func (p *Plugin) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "telegram",
		Version:      "0.2.0",
		Capabilities: []string{plugin.CapCommunication},
		Dependencies: []string{"session"},
		Priority:     30,
		Implements: []string{
			plugin.PointSessionReceive,
			plugin.PointSessionSend,
			plugin.PointSessionTyping,
		},
	}
}

func (p *Plugin) Configure(cfg *config.Config) error {
	p.token = cfg.Telegram.BotToken
	if p.token == "" {
		p.token = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	p.pollTimeout = cfg.Telegram.PollTimeout
	if p.pollTimeout <= 0 {
		p.pollTimeout = defaultPoll
	}
	p.mediaDir = cfg.Telegram.MediaDir
	if p.mediaDir == "" {
		p.mediaDir = "./media"
	}

	for _, g := range cfg.Telegram.Groups {
		id, err := strconv.ParseInt(g.ID, 10, 64)
		if err != nil {
			return fmt.Errorf("telegram group id %q: %w", g.ID, err)
		}
		name := g.Name
		if name == "" {
			name = g.ID
		}
		p.groups[id] = group{name: name, enabled: true}
		if p.defaultGroup == 0 {
			p.defaultGroup = id
		}
	}
	return nil
}

// Start connects the bot and begins long polling in the background.
// Without a token the adapter stays inert rather than failing startup.
func (p *Plugin) Start(ctx context.Context) error {
	if p.token == "" {
		p.logger.Warn("no bot token configured")
		return nil
	}

	// The transport timeout must outlive Telegram's long poll hold.
	transport := &http.Client{
		Timeout: time.Duration(p.pollTimeout+5) * time.Second,
	}
	b, err := bot.New(p.token,
		bot.WithDefaultHandler(p.handleUpdate),
		bot.WithHTTPClient(time.Duration(p.pollTimeout)*time.Second, transport),
	)
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}
	p.bot = b

	runCtx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go b.Start(runCtx)

	p.logger.Info("bot started", "groups", len(p.groups), "poll_timeout", p.pollTimeout)
	return nil
}

func (p *Plugin) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// handleUpdate converts each update and queues it. A full queue drops
// the message rather than blocking Telegram's poller.
func (p *Plugin) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg == nil {
		return
	}

	chatID := msg.Chat.ID
	g, known := p.groups[chatID]
	if !known {
		// Auto-register chats the bot is pulled into.
		name := msg.Chat.Title
		if name == "" {
			name = strconv.FormatInt(chatID, 10)
		}
		g = group{name: name, enabled: true}
		p.groups[chatID] = g
		p.logger.Info("registered chat", "chat_id", chatID, "name", name)
	}
	if !g.enabled {
		return
	}

	converted := p.convert(ctx, msg, g)
	select {
	case p.messages <- converted:
	default:
		p.logger.Warn("message queue full, dropping", "chat_id", chatID)
	}
}

func (p *Plugin) convert(ctx context.Context, msg *tgmodels.Message, g group) models.IncomingMessage {
	senderID, senderName := "", "Unknown"
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		switch {
		case msg.From.FirstName != "":
			senderName = msg.From.FirstName
		case msg.From.Username != "":
			senderName = msg.From.Username
		}
	}

	content := msg.Text
	if content == "" {
		content = msg.Caption
	}

	out := models.IncomingMessage{
		ID:          strconv.Itoa(msg.ID),
		ChannelType: "telegram",
		ChannelID:   strconv.FormatInt(msg.Chat.ID, 10),
		SenderID:    senderID,
		SenderName:  senderName,
		Content:     content,
		Timestamp:   time.Unix(int64(msg.Date), 0),
		Metadata:    map[string]any{"group_name": g.name},
	}
	if msg.ReplyToMessage != nil {
		out.ReplyTo = strconv.Itoa(msg.ReplyToMessage.ID)
	}

	if len(msg.Photo) > 0 {
		largest := msg.Photo[len(msg.Photo)-1]
		out.Media = append(out.Media, p.download(ctx, largest.FileID, "image", ""))
	}
	if msg.Document != nil {
		out.Media = append(out.Media, p.download(ctx, msg.Document.FileID, "document", msg.Document.FileName))
	}
	if msg.Voice != nil {
		out.Media = append(out.Media, p.download(ctx, msg.Voice.FileID, "voice", ""))
	}
	return out
}

// download fetches a file into the per-day media directory. Failures
// degrade to an attachment carrying only the file id.
func (p *Plugin) download(ctx context.Context, fileID, kind, name string) models.Attachment {
	att := models.Attachment{Type: kind, URL: fileID}
	if p.bot == nil {
		return att
	}

	file, err := p.bot.GetFile(ctx, &bot.GetFileParams{FileID: fileID})
	if err != nil {
		p.logger.Warn("media lookup failed", "file_id", fileID, "error", err)
		return att
	}

	if name == "" {
		name = fmt.Sprintf("%s_%s%s", downloadPrefix, fileID, filepath.Ext(file.FilePath))
	}
	dir := filepath.Join(p.mediaDir, time.Now().UTC().Format("2006-01-02"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.logger.Warn("media dir failed", "error", err)
		return att
	}
	dest := filepath.Join(dir, name)

	resp, err := http.Get(p.bot.FileDownloadLink(file))
	if err != nil {
		p.logger.Warn("media download failed", "file_id", fileID, "error", err)
		return att
	}
	defer resp.Body.Close()

	f, err := os.Create(dest)
	if err != nil {
		p.logger.Warn("media write failed", "path", dest, "error", err)
		return att
	}
	defer f.Close()
	size, err := io.Copy(f, resp.Body)
	if err != nil {
		p.logger.Warn("media write failed", "path", dest, "error", err)
		return att
	}

	att.Path = dest
	att.Size = size
	return att
}

// Receive implements session.receive by draining the queue.
func (p *Plugin) Receive(ctx context.Context) ([]models.IncomingMessage, error) {
	var out []models.IncomingMessage
	for {
		select {
		case msg := <-p.messages:
			out = append(out, msg)
		default:
			return out, nil
		}
	}
}

// Send implements session.send.
func (p *Plugin) Send(ctx context.Context, msg models.OutgoingMessage) error {
	if p.bot == nil {
		return fmt.Errorf("telegram: bot not started")
	}
	chatID, err := strconv.ParseInt(msg.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: channel id %q: %w", msg.ChannelID, err)
	}

	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   msg.Content,
	}
	if msg.ReplyTo != "" {
		if replyID, err := strconv.Atoi(msg.ReplyTo); err == nil {
			params.ReplyParameters = &tgmodels.ReplyParameters{MessageID: replyID}
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if _, err := p.bot.SendMessage(sendCtx, params); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}

// Typing implements session.typing.
func (p *Plugin) Typing(ctx context.Context, channelID string) error {
	if p.bot == nil {
		return nil
	}
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: channel id %q: %w", channelID, err)
	}

	typingCtx, cancel := context.WithTimeout(ctx, typingTimeout)
	defer cancel()
	_, err = p.bot.SendChatAction(typingCtx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: tgmodels.ChatActionTyping,
	})
	return err
}

// DefaultChannelID nominates the first configured group for broadcasts.
func (p *Plugin) DefaultChannelID() string {
	if p.defaultGroup == 0 {
		return ""
	}
	return strconv.FormatInt(p.defaultGroup, 10)
}

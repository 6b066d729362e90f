package app

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"mediabot/internal/orchestrator"
	"mediabot/internal/provider"
)

// messenger is the part of *tele.Bot the gateway uses.
type messenger interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
	FileByID(fileID string) (tele.File, error)
}

// mediaVault stores bytes and returns a URL for them.
type mediaVault interface {
	Put(ctx context.Context, owner, name, contentType string, data []byte) (string, error)
}

// gateway adapts Telegram chats to orchestrator.Replier.
type gateway struct {
	api     messenger
	fileURL func(filePath string) string
	vault   mediaVault
	http    *http.Client
	logger  *zap.Logger
}

func newGateway(bot *tele.Bot, v mediaVault, httpClient *http.Client, logger *zap.Logger) *gateway {
	apiURL := strings.TrimRight(bot.URL, "/")
	if apiURL == "" {
		apiURL = tele.DefaultApiURL
	}
	token := bot.Token
	return &gateway{
		api: bot,
		fileURL: func(filePath string) string {
			return apiURL + "/file/bot" + token + "/" + filePath
		},
		vault:  v,
		http:   httpClient,
		logger: logger,
	}
}

var (
	markdownOpts = &tele.SendOptions{ParseMode: tele.ModeMarkdownV2, DisableWebPagePreview: true}
	plainOpts    = &tele.SendOptions{DisableWebPagePreview: true}
)

// deliver sends what with MarkdownV2 formatting and retries as plain text
// when Telegram rejects the entities.
func (g *gateway) deliver(chat tele.Recipient, text string, build func(string) interface{}) (*tele.Message, error) {
	formatted := quoteLines(text)
	if len(formatted) <= maxTextLen {
		msg, err := g.api.Send(chat, build(formatted), markdownOpts)
		if err == nil || !isParseError(err) {
			return msg, err
		}
	}
	return g.api.Send(chat, build(truncate(text, maxTextLen)), plainOpts)
}

func (g *gateway) edit(msg *tele.Message, text string) error {
	formatted := quoteLines(text)
	if len(formatted) <= maxTextLen {
		_, err := g.api.Edit(msg, formatted, markdownOpts)
		if err == nil || !isParseError(err) {
			return err
		}
	}
	_, err := g.api.Edit(msg, truncate(text, maxTextLen), plainOpts)
	return err
}

func isParseError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "can't parse entities") || strings.Contains(msg, "can't parse message")
}

func asText(s string) interface{} { return s }

// replier returns the Replier for one command in chat, issued by owner.
func (g *gateway) replier(chat tele.Recipient, owner string) *chatReplier {
	return &chatReplier{gw: g, chat: chat, owner: owner}
}

type chatReplier struct {
	gw    *gateway
	chat  tele.Recipient
	owner string
}

func (r *chatReplier) Send(_ context.Context, text string) error {
	_, err := r.gw.deliver(r.chat, text, asText)
	return err
}

func (r *chatReplier) Status(_ context.Context, text string) (orchestrator.Status, error) {
	msg, err := r.gw.deliver(r.chat, text, asText)
	if err != nil {
		return nil, err
	}
	return &statusMessage{gw: r.gw, msg: msg}, nil
}

// SendFile uploads f to the chat and returns a URL for the stored copy: the
// vault URL when a vault is configured, otherwise the Telegram file URL.
func (r *chatReplier) SendFile(ctx context.Context, f orchestrator.OutboundFile) (string, error) {
	contentType := contentTypeOf(f.Name, f.MIMEType)
	caption := truncate(f.Caption, maxCaptionLen)
	msg, err := r.gw.deliver(r.chat, caption, func(text string) interface{} {
		return outboundMedia(f, contentType, text)
	})
	if err != nil {
		return "", err
	}

	if r.gw.vault != nil {
		return r.gw.vault.Put(ctx, r.owner, f.Name, contentType, f.Data)
	}
	id := sentFileID(msg)
	if id == "" {
		return "", nil
	}
	file, err := r.gw.api.FileByID(id)
	if err != nil {
		return "", fmt.Errorf("resolve sent file: %w", err)
	}
	return r.gw.fileURL(file.FilePath), nil
}

func outboundMedia(f orchestrator.OutboundFile, contentType, caption string) interface{} {
	file := tele.FromReader(bytes.NewReader(f.Data))
	switch {
	case contentType == "image/jpeg" || contentType == "image/png":
		return &tele.Photo{File: file, Caption: caption}
	case strings.HasPrefix(contentType, "video/"):
		return &tele.Video{File: file, Caption: caption, FileName: f.Name, MIME: contentType}
	case strings.HasPrefix(contentType, "audio/"):
		return &tele.Audio{File: file, Caption: caption, FileName: f.Name, MIME: contentType}
	default:
		return &tele.Document{File: file, Caption: caption, FileName: f.Name, MIME: contentType}
	}
}

func sentFileID(msg *tele.Message) string {
	switch {
	case msg == nil:
		return ""
	case msg.Photo != nil:
		return msg.Photo.FileID
	case msg.Video != nil:
		return msg.Video.FileID
	case msg.Audio != nil:
		return msg.Audio.FileID
	case msg.Document != nil:
		return msg.Document.FileID
	case msg.Animation != nil:
		return msg.Animation.FileID
	}
	return ""
}

var extTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".webp": "image/webp",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

func contentTypeOf(name, declared string) string {
	if declared != "" {
		return declared
	}
	ext := strings.ToLower(path.Ext(name))
	if t, ok := extTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		t, _, _ = strings.Cut(t, ";")
		return t
	}
	return "application/octet-stream"
}

type statusMessage struct {
	gw  *gateway
	msg *tele.Message
}

func (s *statusMessage) Update(_ context.Context, text string) error {
	return s.gw.edit(s.msg, text)
}

func (s *statusMessage) Done(context.Context) error {
	return s.gw.api.Delete(s.msg)
}

// inboundMedia is a file attached to a user's message.
type inboundMedia struct {
	fileID      string
	name        string
	contentType string
}

// mediaOf lists the media carried by msg.
func mediaOf(msg *tele.Message) []inboundMedia {
	if msg == nil {
		return nil
	}
	var out []inboundMedia
	if msg.Photo != nil {
		out = append(out, inboundMedia{fileID: msg.Photo.FileID, name: "photo_" + msg.Photo.UniqueID + ".jpg", contentType: "image/jpeg"})
	}
	if msg.Video != nil {
		out = append(out, inboundMedia{fileID: msg.Video.FileID, name: msg.Video.FileName, contentType: contentTypeOf(msg.Video.FileName, msg.Video.MIME)})
	}
	if msg.Animation != nil {
		out = append(out, inboundMedia{fileID: msg.Animation.FileID, name: msg.Animation.FileName, contentType: contentTypeOf(msg.Animation.FileName, msg.Animation.MIME)})
	}
	if msg.Document != nil {
		out = append(out, inboundMedia{fileID: msg.Document.FileID, name: msg.Document.FileName, contentType: contentTypeOf(msg.Document.FileName, msg.Document.MIME)})
	}
	return out
}

// attachments resolves the media on msg and on the message it replies to
// into URLs that model providers can fetch.
func (g *gateway) attachments(ctx context.Context, owner string, msg *tele.Message) ([]orchestrator.Attachment, error) {
	media := mediaOf(msg)
	if msg != nil {
		media = append(media, mediaOf(msg.ReplyTo)...)
	}
	out := make([]orchestrator.Attachment, 0, len(media))
	for _, m := range media {
		name := m.name
		if name == "" {
			name = "file"
		}
		url, err := g.publicURL(ctx, owner, m, name)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", name, err)
		}
		out = append(out, orchestrator.Attachment{Name: name, URL: url, ContentType: m.contentType})
	}
	return out, nil
}

func (g *gateway) publicURL(ctx context.Context, owner string, m inboundMedia, name string) (string, error) {
	file, err := g.api.FileByID(m.fileID)
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	url := g.fileURL(file.FilePath)
	if g.vault == nil {
		return url, nil
	}
	data, err := provider.URLMedia(g.http, url).ReadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	return g.vault.Put(ctx, owner, name, m.contentType, data)
}

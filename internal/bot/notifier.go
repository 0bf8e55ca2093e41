package bot

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/AlekSi/pointer"

	"github.com/kopakash/loanbot/core/logger"
	tghelpers "github.com/kopakash/loanbot/core/telegram/helpers"
	"github.com/kopakash/loanbot/internal/document"
	"github.com/kopakash/loanbot/internal/payment"

	tele "gopkg.in/telebot.v4"
)

// ErrNoSender is returned by Notifier before the bot is running.
var ErrNoSender = errors.New("bot: notifier has no sender")

// Sender is the part of *tele.Bot the notifier uses.
type Sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Notifier delivers payment outcomes outside of an update, addressed by chat id.
type Notifier struct {
	renderer *document.Renderer

	mu     sync.RWMutex
	sender Sender
}

var _ payment.Notifier = (*Notifier)(nil)

// NewNotifier returns a Notifier that attaches documents from renderer.
func NewNotifier(renderer *document.Renderer) *Notifier {
	if renderer == nil {
		renderer = document.NewRenderer("")
	}
	return &Notifier{renderer: renderer}
}

// SetSender binds the running bot.
func (n *Notifier) SetSender(s Sender) {
	n.mu.Lock()
	n.sender = s
	n.mu.Unlock()
}

func (n *Notifier) current() Sender {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sender
}

// PaymentConfirmed sends the confirmation and the PDF summary.
func (n *Notifier) PaymentConfirmed(ctx context.Context, notice payment.Notice) error {
	ctx = logger.WithReference(ctx, notice.Reference)
	chat := tele.ChatID(notice.ChatID)
	if err := n.send(ctx, "notify.confirmed", "sendMessage", chat, confirmedText(notice.Amount, notice.TransactionID)); err != nil {
		return err
	}
	if notice.Fields.FullName == "" {
		logger.Warn(ctx, component, "notify.document",
			slog.String("status", "skip"),
			slog.Int64("user_id", notice.UserID),
			slog.String("reason", "no_fields"),
		)
		return nil
	}

	pdf, err := n.renderer.Render(notice.Fields, pointer.GetString(notice.TransactionID))
	if err != nil {
		logger.Error(ctx, component, "notify.document",
			slog.String("status", "fail"),
			slog.Int64("user_id", notice.UserID),
			slog.String("err", err.Error()),
		)
		return n.send(ctx, "notify.document_failed", "sendMessage", chat, textPDFFailed)
	}
	name := n.renderer.FileName(notice.UserID)
	caption := documentCaption(notice.Fields)
	return n.dispatch(ctx, "notify.document", "sendDocument", func(s Sender) error {
		doc := &tele.Document{
			File:     tele.FromReader(bytes.NewReader(pdf)),
			FileName: name,
			MIME:     "application/pdf",
			Caption:  caption,
		}
		_, err := s.Send(chat, doc, &tele.SendOptions{ParseMode: tele.ModeMarkdown})
		return err
	})
}

// PaymentFailed tells the user and offers a retry.
func (n *Notifier) PaymentFailed(ctx context.Context, notice payment.Notice) error {
	ctx = logger.WithReference(ctx, notice.Reference)
	return n.send(ctx, "notify.failed", "sendMessage", tele.ChatID(notice.ChatID),
		failedText(notice.TransactionID), &tele.SendOptions{ReplyMarkup: retryKeyboard()})
}

// PaymentStillPending is sent once when polling gives up.
func (n *Notifier) PaymentStillPending(ctx context.Context, notice payment.Notice) error {
	ctx = logger.WithReference(ctx, notice.Reference)
	return n.send(ctx, "notify.still_pending", "sendMessage", tele.ChatID(notice.ChatID),
		textStillPending, &tele.SendOptions{ReplyMarkup: retryKeyboard()})
}

func (n *Notifier) send(ctx context.Context, action, endpoint string, to tele.Recipient, text string, opts ...interface{}) error {
	return n.dispatch(ctx, action, endpoint, func(s Sender) error {
		_, err := s.Send(to, text, opts...)
		return err
	})
}

// dispatch runs fn through the shared send queue. fn builds its payload on
// every attempt so retried uploads start from a fresh reader.
func (n *Notifier) dispatch(ctx context.Context, action, endpoint string, fn func(Sender) error) error {
	s := n.current()
	if s == nil {
		logger.Warn(ctx, component, action,
			slog.String("status", "fail"),
			slog.String("err", ErrNoSender.Error()),
		)
		return ErrNoSender
	}
	return tghelpers.Dispatch(ctx, action, endpoint, func() error { return fn(s) })
}

package alerting

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// Button is an inline button carrying callback data.
type Button struct {
	Text string
	Data string
}

// Keyboard is the markup attached to a message. At most one of the fields is used,
// in the order Inline, Reply, Remove.
type Keyboard struct {
	Reply  [][]string
	Inline [][]Button
	Remove bool
}

// Message 是一条出站消息：文本，或者带标题的图片。
type Message struct {
	ChatID    int64
	ReplyTo   int
	Text      string
	Markdown  bool
	Image     []byte
	ImageName string
	Keyboard  *Keyboard
}

// Sender 定义消息输送接口。
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DeliveryObserver receives per-message delivery outcomes.
type DeliveryObserver interface {
	ObserveDelivery(kind string, err error)
}

// Notifier pushes unsolicited messages: fired alerts and broadcasts.
type Notifier struct {
	sender   Sender
	observer DeliveryObserver
	logger   zerolog.Logger
}

// NewNotifier wraps sender; observer may be nil.
func NewNotifier(sender Sender, observer DeliveryObserver, logger zerolog.Logger) *Notifier {
	return &Notifier{
		sender:   sender,
		observer: observer,
		logger:   logger.With().Str("component", "notifier").Logger(),
	}
}

// Notify sends one Markdown text to chatID.
func (n *Notifier) Notify(ctx context.Context, kind string, chatID int64, text string) error {
	err := n.sender.Send(ctx, Message{ChatID: chatID, Text: text, Markdown: true})
	n.observe(kind, err)
	if err != nil {
		return fmt.Errorf("deliver %s to %d: %w", kind, chatID, err)
	}
	n.logger.Debug().Str("kind", kind).Int64("chat_id", chatID).Msg("通知已发送")
	return nil
}

// BroadcastResult summarises a fan-out.
type BroadcastResult struct {
	Delivered int
	Failed    int
	Err       error
}

// Broadcast sends text to every recipient. A failed recipient does not stop the others;
// all failures are joined into Err. It stops early only when ctx is done.
func (n *Notifier) Broadcast(ctx context.Context, kind string, recipients []int64, text string) BroadcastResult {
	var (
		res  BroadcastResult
		errs []error
	)
	for _, chatID := range recipients {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := n.Notify(ctx, kind, chatID, text); err != nil {
			res.Failed++
			errs = append(errs, err)
			n.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("recipient skipped")
			continue
		}
		res.Delivered++
	}
	res.Err = errors.Join(errs...)
	return res
}

func (n *Notifier) observe(kind string, err error) {
	if n.observer != nil {
		n.observer.ObserveDelivery(kind, err)
	}
}

// Package notify delivers order events: admin alerts over Telegram and the
// delivery e-mail to the buyer.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"go-storefront/log"
	"go-storefront/payment/order"
)

// Sender is the part of tgbotapi.BotAPI used here.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Mailer interface {
	Enabled() bool
	SendDeliveryEmail(to, productName, downloadLink, telegramLink string) error
}

// Dispatcher implements order.Notifier. Deliveries run on their own goroutine
// so webhook responses are not held up by Telegram or SMTP.
type Dispatcher struct {
	bot    Sender
	chatID int64
	mailer Mailer
	wg     sync.WaitGroup
}

func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	log.Info("telegram bot authorized", zap.String("account", bot.Self.UserName))
	return bot, nil
}

// NewDispatcher accepts a nil bot or mailer; the matching channel is skipped.
func NewDispatcher(bot Sender, chatID int64, mailer Mailer) *Dispatcher {
	return &Dispatcher{bot: bot, chatID: chatID, mailer: mailer}
}

func (d *Dispatcher) Notify(_ context.Context, ev order.Event) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(ev)
	}()
}

// Wait blocks until every queued delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ev order.Event) {
	d.Alert(adminText(ev))

	if ev.Kind != order.EventCompleted || ev.CustomerEmail == "" {
		return
	}
	if d.mailer == nil || !d.mailer.Enabled() {
		return
	}
	if err := d.mailer.SendDeliveryEmail(ev.CustomerEmail, ev.ProductName, ev.DownloadLink, ev.TelegramLink); err != nil {
		log.Error("delivery email failed", zap.String("order", ev.OrderID), zap.Error(err))
	}
}

// Alert sends text to the admin chat, when one is configured.
func (d *Dispatcher) Alert(text string) {
	if d.bot == nil || d.chatID == 0 {
		return
	}
	msg := tgbotapi.NewMessage(d.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := d.bot.Send(msg); err != nil {
		log.Warn("telegram alert failed", zap.Error(err))
	}
}

func adminText(ev order.Event) string {
	var b strings.Builder
	switch ev.Kind {
	case order.EventCompleted:
		b.WriteString("✅ Order paid")
	case order.EventFailed:
		b.WriteString("❌ Order failed")
	case order.EventOverflow:
		b.WriteString("↪️ Order routed to overflow account")
	default:
		b.WriteString("Order event " + string(ev.Kind))
	}
	if ev.Stateless {
		b.WriteString(" (stateless)")
	}
	fmt.Fprintf(&b, "\nProduct: %s\nAmount: %s %s\nGateway: %s\nRef: %s",
		ev.ProductName, ev.Amount.StringFixed(2), ev.Currency, ev.Gateway, ev.OrderID)
	if ev.CustomerEmail != "" {
		fmt.Fprintf(&b, "\nCustomer: %s", ev.CustomerEmail)
	}
	return b.String()
}

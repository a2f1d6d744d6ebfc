package telegram

import (
	"context"
	"log"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"memory-bot/internal/assistant"
)

// MessageHandler is satisfied by assistant.Handler.
type MessageHandler interface {
	Handle(ctx context.Context, msg assistant.Message, reply assistant.ReplyFunc)
}

type Bot struct {
	api       *tgbotapi.BotAPI
	s         sender
	handler   MessageHandler
	parseMode string
}

func New(botToken string, handler MessageHandler, parseMode string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	log.Printf("Authorized on account @%s (id=%d)", api.Self.UserName, api.Self.ID)
	return &Bot{
		api:       api,
		s:         botAPISender{api: api},
		handler:   handler,
		parseMode: parseMode,
	}, nil
}

// Start long-polls for updates until ctx is cancelled. Messages are handled
// one at a time in arrival order.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.Message != nil {
				b.handleIncomingMessage(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handleIncomingMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	in := toAssistantMessage(msg)
	if !in.AuthorIsBot {
		log.Printf("Incoming message from %d (@%s) in chat %d", msg.From.ID, msg.From.UserName, msg.Chat.ID)
	}
	b.handler.Handle(ctx, in, func(_ context.Context, text string) error {
		return b.reply(msg, text)
	})
}

func toAssistantMessage(msg *tgbotapi.Message) assistant.Message {
	return assistant.Message{
		ChannelID:   strconv.FormatInt(msg.Chat.ID, 10),
		AuthorID:    strconv.FormatInt(msg.From.ID, 10),
		AuthorIsBot: msg.From.IsBot,
		Text:        msg.Text,
	}
}

func (b *Bot) reply(to *tgbotapi.Message, text string) error {
	out := tgbotapi.NewMessage(to.Chat.ID, text)
	out.ReplyToMessageID = to.MessageID
	if b.parseMode != "" {
		out.ParseMode = b.parseMode
	}
	if _, err := b.s.Send(out); err != nil {
		log.Printf("failed to send message: %v", err)
		return err
	}
	return nil
}

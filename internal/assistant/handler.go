package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"

	"memory-bot/internal/conversation"
)

// Message is an inbound chat message as delivered by the messaging platform.
type Message struct {
	ChannelID   string
	AuthorID    string
	AuthorIsBot bool
	Text        string
}

// ReplyFunc sends text back to the channel the message came from.
type ReplyFunc func(ctx context.Context, text string) error

type History interface {
	Conversation(ctx context.Context, key conversation.Key) []conversation.Turn
	Save(ctx context.Context, key conversation.Key, turns []conversation.Turn) error
}

type Generator interface {
	GenerateResponse(ctx context.Context, previous []conversation.Turn, text string) string
}

type Handler struct {
	history  History
	gen      Generator
	observer Observer
}

func NewHandler(history History, gen Generator, observer Observer) *Handler {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Handler{history: history, gen: gen, observer: observer}
}

// Handle runs one message through history lookup, generation, reply and save.
// Bot-authored messages are ignored. Any failure is logged and answered with
// ApologyReply; a failed save is only logged since the user already has a reply.
func (h *Handler) Handle(ctx context.Context, msg Message, reply ReplyFunc) {
	if msg.AuthorIsBot {
		h.observer.Message("ignored_bot")
		return
	}
	if strings.TrimSpace(msg.Text) == "" {
		h.observer.Message("ignored_empty")
		return
	}

	outcome, err := h.process(ctx, msg, reply)
	if err != nil {
		h.observer.Message("failed")
		log.Printf("message handling failed for channel %s user %s: %v", msg.ChannelID, msg.AuthorID, err)
		if rerr := reply(ctx, ApologyReply); rerr != nil {
			log.Printf("failed to send apology: %v", rerr)
		}
		return
	}
	h.observer.Message(outcome)
}

// process returns "handled", or "unsaved" when the reply went out but the
// save did not.
func (h *Handler) process(ctx context.Context, msg Message, reply ReplyFunc) (outcome string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	key, err := conversation.NewKey(msg.ChannelID, msg.AuthorID)
	if err != nil {
		return "", err
	}

	previous := h.history.Conversation(ctx, key)
	answer := h.gen.GenerateResponse(ctx, previous, msg.Text)

	if err := reply(ctx, answer); err != nil {
		return "", fmt.Errorf("send reply: %w", err)
	}

	updated := make([]conversation.Turn, 0, len(previous)+2)
	updated = append(updated, previous...)
	updated = append(updated,
		conversation.Turn{Role: conversation.RoleUser, Content: msg.Text},
		conversation.Turn{Role: conversation.RoleAssistant, Content: answer},
	)
	if err := h.history.Save(ctx, key, updated); err != nil {
		// already logged by the store
		return "unsaved", nil
	}
	return "handled", nil
}

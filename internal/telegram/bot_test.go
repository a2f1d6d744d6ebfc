package telegram

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"memory-bot/internal/assistant"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, f.err
}

type fakeHandler struct {
	got   []assistant.Message
	reply string
	err   error
}

func (f *fakeHandler) Handle(ctx context.Context, msg assistant.Message, reply assistant.ReplyFunc) {
	f.got = append(f.got, msg)
	if msg.AuthorIsBot {
		return
	}
	f.err = reply(ctx, f.reply)
}

func TestHandleIncomingMessage_MapsIDsAndReplies(t *testing.T) {
	fs := &fakeSender{}
	fh := &fakeHandler{reply: "hello"}
	b := &Bot{s: fs, handler: fh}

	msg := &tgbotapi.Message{MessageID: 7, From: &tgbotapi.User{ID: 42}, Chat: &tgbotapi.Chat{ID: -100}, Text: "hi"}
	b.handleIncomingMessage(context.Background(), msg)

	if len(fh.got) != 1 {
		t.Fatalf("handler not called")
	}
	in := fh.got[0]
	if in.ChannelID != "-100" || in.AuthorID != "42" || in.AuthorIsBot || in.Text != "hi" {
		t.Fatalf("unexpected mapping: %+v", in)
	}
	if len(fs.sent) != 1 || fs.sent[0].Text != "hello" || fs.sent[0].ChatID != -100 || fs.sent[0].ReplyToMessageID != 7 {
		t.Fatalf("unexpected sent: %+v", fs.sent)
	}
}

func TestHandleIncomingMessage_FlagsBotAuthors(t *testing.T) {
	fs := &fakeSender{}
	fh := &fakeHandler{reply: "x"}
	b := &Bot{s: fs, handler: fh}

	msg := &tgbotapi.Message{From: &tgbotapi.User{ID: 1, IsBot: true}, Chat: &tgbotapi.Chat{ID: 1}, Text: "beep"}
	b.handleIncomingMessage(context.Background(), msg)

	if len(fh.got) != 1 || !fh.got[0].AuthorIsBot {
		t.Fatalf("bot flag not propagated: %+v", fh.got)
	}
	if len(fs.sent) != 0 {
		t.Fatalf("nothing should be sent for bot messages")
	}
}

func TestHandleIncomingMessage_SkipsMessagesWithoutSender(t *testing.T) {
	fh := &fakeHandler{}
	b := &Bot{s: &fakeSender{}, handler: fh}
	b.handleIncomingMessage(context.Background(), &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "channel post"})
	if len(fh.got) != 0 {
		t.Fatalf("message without sender should be skipped")
	}
}

func TestReply_UsesParseModeAndReturnsSendError(t *testing.T) {
	fs := &fakeSender{err: errors.New("forbidden")}
	b := &Bot{s: fs, parseMode: "HTML"}
	err := b.reply(&tgbotapi.Message{MessageID: 1, Chat: &tgbotapi.Chat{ID: 5}}, "<b>x</b>")
	if err == nil {
		t.Fatalf("expected send error")
	}
	if len(fs.sent) != 1 || fs.sent[0].ParseMode != "HTML" {
		t.Fatalf("unexpected sent: %+v", fs.sent)
	}
}

// Package assistant turns inbound chat messages into replies backed by
// conversation memory and a text generation client.
package assistant

import (
	"context"
	"log"
	"strings"
	"time"

	"memory-bot/internal/conversation"
	"memory-bot/internal/llm"
)

const (
	FallbackNoAPIKey   = "The text generation API key is not configured. Please check the environment variables."
	FallbackGeneration = "Sorry, I can't come up with a good answer right now."
	ApologyReply       = "Sorry, something went wrong while handling your message."
)

// Observer receives generation and message outcomes. observability.Metrics satisfies it.
type Observer interface {
	Message(outcome string)
	GenerationFailed()
	ObserveGeneration(seconds float64)
}

type nopObserver struct{}

func (nopObserver) Message(string)            {}
func (nopObserver) GenerationFailed()         {}
func (nopObserver) ObserveGeneration(float64) {}

// Responder produces the assistant's reply text. It never returns an error:
// every failure becomes a fixed fallback string.
type Responder struct {
	client       llm.Client
	systemPrompt string
	observer     Observer
}

// NewResponder accepts a nil client, meaning generation is not configured.
func NewResponder(client llm.Client, systemPrompt string, observer Observer) *Responder {
	if observer == nil {
		observer = nopObserver{}
	}
	return &Responder{client: client, systemPrompt: systemPrompt, observer: observer}
}

func (r *Responder) GenerateResponse(ctx context.Context, previous []conversation.Turn, text string) string {
	if r.client == nil {
		return FallbackNoAPIKey
	}
	window := conversation.BuildPromptWindow(r.systemPrompt, previous, text)
	msgs := make([]llm.Message, 0, len(window))
	for _, t := range window {
		msgs = append(msgs, llm.Message{Role: string(t.Role), Content: t.Content})
	}

	start := time.Now()
	resp, err := r.client.Generate(ctx, msgs)
	r.observer.ObserveGeneration(time.Since(start).Seconds())
	if err != nil {
		r.observer.GenerationFailed()
		log.Printf("failed to generate text: %v", err)
		return FallbackGeneration
	}
	if strings.TrimSpace(resp.Content) == "" {
		r.observer.GenerationFailed()
		log.Printf("generation returned empty content [model=%s]", resp.Model)
		return FallbackGeneration
	}
	log.Printf("LLM response [model=%s, tokens: prompt=%d, completion=%d, total=%d]",
		resp.Model, resp.PromptTokens, resp.CompletionTokens, resp.TotalTokens)
	return resp.Content
}

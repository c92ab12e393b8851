// Package memory keeps flatten notifications in process. The app falls back
// to it when no Pub/Sub topic is configured, so a local flatten still logs the
// event it would have published.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Message is one recorded publish. Data holds the same JSON body the Pub/Sub
// publisher would send.
type Message struct {
	ID      string
	Topic   string
	Payload any
	Data    []byte
}

// Publisher records publishes instead of sending them.
type Publisher struct {
	logger *zap.Logger

	mu       sync.RWMutex
	messages []Message
}

// New returns an empty Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish encodes payload as JSON, records it and returns a local message ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	id := fmt.Sprintf("local-%d", len(p.messages)+1)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Payload: payload, Data: data})
	p.mu.Unlock()

	p.logger.Info("notification recorded locally",
		zap.String("topic", topic),
		zap.String("message_id", id),
		zap.ByteString("data", data),
	)
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Message(nil), p.messages...)
}

// Last returns the most recent message.
func (p *Publisher) Last() (Message, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.messages) == 0 {
		return Message{}, false
	}
	return p.messages[len(p.messages)-1], true
}

// Package memory records published events in memory for tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher stores published payloads for inspection.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every later Publish return err. A nil err restores normal behavior.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the message and returns a pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("memory-%d", len(p.messages)), nil
}

// Messages returns the recorded publishes for topic, or all of them when topic is empty.
func (p *Publisher) Messages(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, 0, len(p.messages))
	for _, m := range p.messages {
		if topic == "" || m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

var _ crawler.Publisher = (*Publisher)(nil)

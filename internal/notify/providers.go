package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Provider delivers messages over a chat channel
type Provider interface {
	Send(ctx context.Context, msg *Message) error
}

// MockProvider is a mock chat provider for testing
type MockProvider struct {
	mu         sync.RWMutex
	sent       []*Message
	failOnSend bool
	sendDelay  time.Duration
}

// NewMockProvider creates a new mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Send delivers a message (mock implementation)
func (p *MockProvider) Send(ctx context.Context, msg *Message) error {
	if p.sendDelay > 0 {
		time.Sleep(p.sendDelay)
	}

	if p.failOnSend {
		return fmt.Errorf("mock send failure")
	}

	if msg.Recipient == "" {
		return fmt.Errorf("no recipient provided")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sent = append(p.sent, msg)
	return nil
}

// SetFailOnSend sets whether Send should fail
func (p *MockProvider) SetFailOnSend(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failOnSend = fail
}

// SetSendDelay sets artificial delay for Send
func (p *MockProvider) SetSendDelay(delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendDelay = delay
}

// SentMessages returns all delivered messages
func (p *MockProvider) SentMessages() []*Message {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*Message, len(p.sent))
	copy(result, p.sent)
	return result
}

// LogProvider writes messages to the log instead of a chat channel. Used
// when no real channel is configured so the agent still surfaces updates.
type LogProvider struct {
	logger *log.Logger
}

// NewLogProvider creates a log-backed provider
func NewLogProvider(logger *log.Logger) *LogProvider {
	if logger == nil {
		logger = log.Default()
	}
	return &LogProvider{logger: logger}
}

// Send logs the message
func (p *LogProvider) Send(ctx context.Context, msg *Message) error {
	p.logger.Printf("notify: [%s] to %s: %s", msg.Type, msg.Recipient, msg.Body)
	return nil
}

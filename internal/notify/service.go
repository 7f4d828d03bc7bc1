// Package notify delivers claim updates back to the person who sent the
// bill. Delivery is strictly best effort: a failed or undeliverable message
// never touches claim state.
package notify

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/shared/config"
)

// Service queues and delivers outbound messages through a worker pool.
type Service struct {
	provider Provider

	// recipients maps a claim's source message ID to the sender it arrived
	// from. Populated at ingestion; claims whose sender is unknown (e.g.
	// after a restart) simply get no updates.
	mu         sync.RWMutex
	recipients map[string]string
	stats      Stats

	msgCh   chan *Message
	workers int

	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	config config.NotifyConfig
	logger *log.Logger
}

// NewService creates a notification service
func NewService(provider Provider, cfg config.NotifyConfig, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{
		provider:   provider,
		recipients: make(map[string]string),
		msgCh:      make(chan *Message, cfg.BufferSize),
		workers:    cfg.Workers,
		stopCh:     make(chan struct{}),
		config:     cfg,
		logger:     logger,
	}
}

// Start starts the delivery workers
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("service already started")
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	return nil
}

// Stop stops the delivery workers
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("service not started")
	}
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	return nil
}

// RegisterRecipient records who sent the message a claim originated from.
func (s *Service) RegisterRecipient(sourceMessageID, recipient string) {
	if sourceMessageID == "" || recipient == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients[sourceMessageID] = recipient
}

// ClaimReceived sends the intake confirmation for a freshly created claim.
func (s *Service) ClaimReceived(ctx context.Context, c *claim.Claim) {
	s.enqueue(c, TypeConfirmation, FormatConfirmation(c))
}

// ClaimStatusChanged sends a status update. Implements the engine's
// notifier hook.
func (s *Service) ClaimStatusChanged(ctx context.Context, c *claim.Claim, from, to claim.Status) {
	// PROCESSING is an internal in-flight marker; messaging it would spam
	// the submitter twice per submission.
	if to == claim.StatusProcessing {
		return
	}
	typ := TypeStatusUpdate
	if to == claim.StatusError {
		typ = TypeFailure
	}
	s.enqueue(c, typ, FormatStatusUpdate(c))
}

// ClaimStatusRequested answers an explicit status query from a known sender.
// The recipient comes from the query itself, so this works even when the
// original submission predates this process.
func (s *Service) ClaimStatusRequested(ctx context.Context, recipient string, c *claim.Claim) {
	s.RegisterRecipient(c.SourceMessageID, recipient)
	s.enqueue(c, TypeStatusUpdate, FormatStatusUpdate(c))
}

func (s *Service) enqueue(c *claim.Claim, typ MessageType, body string) {
	s.mu.RLock()
	recipient, ok := s.recipients[c.SourceMessageID]
	s.mu.RUnlock()
	if !ok {
		s.logger.Printf("notify: no known recipient for claim %d, skipping %s", c.ID, typ)
		return
	}

	msg := &Message{
		ID:        fmt.Sprintf("msg-%d", time.Now().UnixNano()),
		Type:      typ,
		Status:    StatusPending,
		Recipient: recipient,
		Body:      body,
		ClaimID:   c.ID,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.stats.TotalQueued++
	s.mu.Unlock()

	select {
	case s.msgCh <- msg:
	default:
		s.logger.Printf("notify: buffer full, dropping %s for claim %d", typ, c.ID)
		s.recordOutcome(msg, fmt.Errorf("buffer full"))
	}
}

func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case msg := <-s.msgCh:
			s.deliver(ctx, msg)
		}
	}
}

func (s *Service) deliver(ctx context.Context, msg *Message) {
	err := s.provider.Send(ctx, msg)
	if err == nil {
		now := time.Now()
		msg.SentAt = &now
		s.recordOutcome(msg, nil)
		return
	}

	msg.RetryCount++
	msg.ErrorMessage = err.Error()

	if msg.RetryCount >= s.config.RetryAttempts {
		s.logger.Printf("notify: giving up on message %s for claim %d: %v", msg.ID, msg.ClaimID, err)
		s.recordOutcome(msg, err)
		return
	}

	// Re-queue after a delay; drop silently if the buffer is full by then.
	go func() {
		select {
		case <-s.stopCh:
			return
		case <-time.After(s.config.RetryDelay):
		}
		select {
		case s.msgCh <- msg:
		default:
		}
	}()
}

func (s *Service) recordOutcome(msg *Message, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats.ByType == nil {
		s.stats.ByType = make(map[MessageType]int64)
	}
	s.stats.ByType[msg.Type]++

	if err != nil {
		msg.Status = StatusFailed
		s.stats.TotalFailed++
	} else {
		msg.Status = StatusSent
		s.stats.TotalSent++
	}
	if delivered := s.stats.TotalSent + s.stats.TotalFailed; delivered > 0 {
		s.stats.DeliveryRate = float64(s.stats.TotalSent) / float64(delivered)
	}
}

// GetStats returns delivery statistics
func (s *Service) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	if s.stats.ByType != nil {
		stats.ByType = make(map[MessageType]int64, len(s.stats.ByType))
		for k, v := range s.stats.ByType {
			stats.ByType[k] = v
		}
	}
	return stats
}

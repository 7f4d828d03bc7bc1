// Package events records the claim lifecycle as an append-only audit trail
// in KurrentDB. Each claim gets its own stream, so the full history of one
// claim is a single ordered read. The trail is optional infrastructure: when
// the store is unreachable the agent runs without it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/shared/config"
)

const (
	TypeClaimCreated       = "claim.created"
	TypeClaimStatusChanged = "claim.status_changed"
)

// Event is one entry in a claim's audit trail
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	ClaimID   int64     `json:"claim_id"`
	Timestamp time.Time `json:"timestamp"`

	FromStatus claim.Status `json:"from_status,omitempty"`
	ToStatus   claim.Status `json:"to_status,omitempty"`

	ExternalClaimNumber string   `json:"external_claim_number,omitempty"`
	SettlementAmount    *float64 `json:"settlement_amount,omitempty"`
	ErrorMessage        string   `json:"error_message,omitempty"`
}

// Bus provides event publishing and history reads using KurrentDB
type Bus struct {
	client *esdb.Client
	logger *log.Logger
}

// NewBus creates a new event bus connected to KurrentDB
func NewBus(ctx context.Context, cfg config.KurrentDBConfig, logger *log.Logger) (*Bus, error) {
	if logger == nil {
		logger = log.Default()
	}

	settings, err := esdb.ParseConnectionString(buildConnectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create KurrentDB client: %w", err)
	}

	return &Bus{client: client, logger: logger}, nil
}

// buildConnectionString creates the esdb:// connection string
func buildConnectionString(cfg config.KurrentDBConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false"
		params += "&keepAliveInterval=10000&keepAliveTimeout=10000&discoveryInterval=100&maxDiscoverAttempts=3&gossipTimeout=5"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// RecordTransition appends a status change to the claim's stream. Implements
// the engine's transition recorder hook; failures are logged, never
// propagated, so the audit trail cannot block claim processing.
func (b *Bus) RecordTransition(ctx context.Context, c *claim.Claim, from, to claim.Status) {
	event := Event{
		ID:                  uuid.New().String(),
		Type:                TypeClaimStatusChanged,
		ClaimID:             c.ID,
		Timestamp:           time.Now().UTC(),
		FromStatus:          from,
		ToStatus:            to,
		ExternalClaimNumber: c.ExternalClaimNumber,
		SettlementAmount:    c.SettlementAmount,
		ErrorMessage:        c.ErrorMessage,
	}
	if err := b.Publish(ctx, event); err != nil {
		b.logger.Printf("events: failed to record transition for claim %d: %v", c.ID, err)
	}
}

// RecordCreated appends the creation event to a new claim's stream.
func (b *Bus) RecordCreated(ctx context.Context, c *claim.Claim) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      TypeClaimCreated,
		ClaimID:   c.ID,
		Timestamp: time.Now().UTC(),
		ToStatus:  c.Status,
	}
	if err := b.Publish(ctx, event); err != nil {
		b.logger.Printf("events: failed to record creation of claim %d: %v", c.ID, err)
	}
}

// Publish appends one event to its claim's stream
func (b *Bus) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	esdbEvent := esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	}

	_, err = b.client.AppendToStream(ctx, streamName(event.ClaimID), esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdbEvent)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// History reads a claim's full audit trail in order.
func (b *Bus) History(ctx context.Context, claimID int64) ([]Event, error) {
	stream, err := b.client.ReadStream(ctx, streamName(claimID), esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1000)
	if err != nil {
		return nil, fmt.Errorf("failed to read claim stream: %w", err)
	}
	defer stream.Close()

	var events []Event
	for {
		resolved, err := stream.Recv()
		if err != nil {
			break
		}
		if resolved.Event == nil {
			continue
		}
		var event Event
		if err := json.Unmarshal(resolved.Event.Data, &event); err != nil {
			b.logger.Printf("events: skipping undecodable event in stream %s: %v", streamName(claimID), err)
			continue
		}
		events = append(events, event)
	}
	return events, nil
}

func streamName(claimID int64) string {
	return fmt.Sprintf("claim-%d", claimID)
}

// Close closes the event bus connection
func (b *Bus) Close() {
	if b.client != nil {
		b.client.Close()
	}
}

// Health checks the KurrentDB connection
func (b *Bus) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := b.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)
	if err != nil {
		return fmt.Errorf("KurrentDB health check failed: %w", err)
	}
	defer stream.Close()

	return nil
}

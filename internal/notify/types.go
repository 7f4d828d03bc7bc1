package notify

import "time"

// MessageType identifies what kind of update a message carries
type MessageType string

const (
	TypeConfirmation MessageType = "confirmation"
	TypeStatusUpdate MessageType = "status_update"
	TypeFailure      MessageType = "failure"
)

// MessageStatus tracks delivery state
type MessageStatus string

const (
	StatusPending MessageStatus = "pending"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// Message is one outbound message to a claim submitter
type Message struct {
	ID        string        `json:"id"`
	Type      MessageType   `json:"type"`
	Status    MessageStatus `json:"status"`
	Recipient string        `json:"recipient"`
	Body      string        `json:"body"`
	ClaimID   int64         `json:"claim_id"`

	RetryCount   int        `json:"retry_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Stats holds delivery statistics
type Stats struct {
	TotalQueued    int64                 `json:"total_queued"`
	TotalSent      int64                 `json:"total_sent"`
	TotalFailed    int64                 `json:"total_failed"`
	ByType         map[MessageType]int64 `json:"by_type"`
	DeliveryRate   float64               `json:"delivery_rate"`
}

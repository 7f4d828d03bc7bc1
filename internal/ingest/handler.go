// Package ingest turns incoming chat messages carrying bill photos into
// claim records. Ingestion is idempotent on the channel's message ID, so a
// webhook redelivery never creates a second claim.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clearclaim/agent/internal/claim"
	"github.com/clearclaim/agent/internal/claim/store"
	"github.com/clearclaim/agent/internal/shared/errors"
	"github.com/clearclaim/agent/internal/shared/metrics"
	"github.com/clearclaim/agent/internal/shared/types"
)

// Extractor turns a saved bill image into structured bill data.
type Extractor interface {
	Enabled() bool
	ExtractBill(ctx context.Context, imagePath string) (claim.MedicalBill, error)
}

// Notifier receives intake events for best-effort messaging.
type Notifier interface {
	RegisterRecipient(sourceMessageID, recipient string)
	ClaimReceived(ctx context.Context, c *claim.Claim)
	ClaimStatusRequested(ctx context.Context, recipient string, c *claim.Claim)
}

// Recorder appends claim creations to the audit trail. Optional.
type Recorder interface {
	RecordCreated(ctx context.Context, c *claim.Claim)
}

// IncomingMessage is one inbound chat message, already decoded from the
// channel's webhook format.
type IncomingMessage struct {
	MessageID string
	From      string
	Body      string
	MediaURL  string
	MediaType string
}

// Handler processes incoming messages
type Handler struct {
	store      store.Store
	extractor  Extractor
	notifier   Notifier
	recorder   Recorder
	httpClient *http.Client
	imageDir   string
	logger     *log.Logger
}

// NewHandler creates an ingestion handler. extractor, notifier, and recorder
// may be nil.
func NewHandler(s store.Store, extractor Extractor, notifier Notifier, recorder Recorder, imageDir string, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		store:      s,
		extractor:  extractor,
		notifier:   notifier,
		recorder:   recorder,
		httpClient: &http.Client{},
		imageDir:   imageDir,
		logger:     logger,
	}
}

// HandleMessage routes one inbound message: media creates a claim, a STATUS
// text answers a query, anything else is ignored.
func (h *Handler) HandleMessage(ctx context.Context, msg IncomingMessage) (*claim.Claim, error) {
	if msg.MediaURL != "" {
		return h.handleBillImage(ctx, msg)
	}
	if id, ok := parseStatusQuery(msg.Body); ok {
		return nil, h.handleStatusQuery(ctx, msg.From, id)
	}
	h.logger.Printf("ingest: ignoring message %s with no media", msg.MessageID)
	return nil, nil
}

// handleBillImage downloads the photo, extracts bill data, and creates a
// RECEIVED claim for the lifecycle engine to pick up.
func (h *Handler) handleBillImage(ctx context.Context, msg IncomingMessage) (*claim.Claim, error) {
	if msg.MessageID == "" {
		return nil, errors.BadRequest("message id is required")
	}

	imagePath, err := h.saveImage(ctx, msg)
	if err != nil {
		return nil, err
	}

	bill := claim.MedicalBill{
		ProviderName: "Unknown Provider",
		PatientName:  "Unknown Patient",
		ServiceDate:  types.DateOf(time.Now()),
		Currency:     "USD",
	}
	if h.extractor != nil && h.extractor.Enabled() {
		extracted, err := h.extractor.ExtractBill(ctx, imagePath)
		if err != nil {
			// The claim is still worth creating; extraction can be redone
			// by an operator via reprocess once the bill data is corrected.
			h.logger.Printf("ingest: extraction failed for message %s, storing with placeholder data: %v", msg.MessageID, err)
		} else {
			bill = extracted
		}
	}

	c, err := claim.New(msg.MessageID, imagePath, bill)
	if err != nil {
		os.Remove(imagePath)
		return nil, errors.BadRequest(err.Error())
	}
	if _, err := h.store.Insert(ctx, c); err != nil {
		if errors.IsConflict(err) {
			h.logger.Printf("ingest: message %s already processed, ignoring redelivery", msg.MessageID)
			os.Remove(imagePath)
			return nil, nil
		}
		return nil, err
	}

	metrics.ClaimCreated("chat")
	h.logger.Printf("ingest: created claim %d from message %s", c.ID, msg.MessageID)

	if h.recorder != nil {
		h.recorder.RecordCreated(ctx, c)
	}
	if h.notifier != nil {
		h.notifier.RegisterRecipient(msg.MessageID, msg.From)
		h.notifier.ClaimReceived(ctx, c)
	}
	return c, nil
}

func (h *Handler) handleStatusQuery(ctx context.Context, from string, id int64) error {
	c, err := h.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if h.notifier != nil {
		h.notifier.ClaimStatusRequested(ctx, from, c)
	}
	return nil
}

// saveImage downloads the media and writes it under the image directory with
// a fresh name, so claims never share or overwrite image files.
func (h *Handler) saveImage(ctx context.Context, msg IncomingMessage) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", msg.MediaURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create media request: %w", err)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download bill image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(h.imageDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}

	name := uuid.New().String() + extensionFor(msg.MediaType)
	path := filepath.Join(h.imageDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write image file: %w", err)
	}
	return path, nil
}

// parseStatusQuery recognizes "STATUS <claim id>" text commands.
func parseStatusQuery(body string) (int64, bool) {
	fields := strings.Fields(strings.TrimSpace(body))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "STATUS") {
		return 0, false
	}
	var id int64
	if _, err := fmt.Sscanf(fields[1], "%d", &id); err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func extensionFor(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

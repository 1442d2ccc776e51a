package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventDocumentValidated = "audit.document.validated"
	EventBatchCompleted    = "audit.batch.completed"
)

// Exchange names
const (
	ExchangeAuditEvents = "audit.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// GenerateEventID returns a unique event identifier
func GenerateEventID() string {
	return uuid.New().String()
}

// DocumentValidatedEvent is published after a document finishes validation
type DocumentValidatedEvent struct {
	BatchID         string `json:"batch_id"`
	AccessKey       string `json:"access_key"`
	Status          string `json:"status"`
	CriticalCount   int    `json:"critical_count"`
	ErrorCount      int    `json:"error_count"`
	WarningCount    int    `json:"warning_count"`
	InfoCount       int    `json:"info_count"`
	FinancialImpact string `json:"financial_impact"`
}

// BatchCompletedEvent is published when a whole batch has been processed
type BatchCompletedEvent struct {
	BatchID        string `json:"batch_id"`
	DocumentCount  int    `json:"document_count"`
	InvalidCount   int    `json:"invalid_count"`
	ParseErrors    int    `json:"parse_errors"`
	DurationMillis int64  `json:"duration_millis"`
}

package services

import (
	"context"
	"time"

	domain "github.com/pagecraft/api/internal/domain"
	"github.com/pagecraft/api/internal/print/compose"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	ProductSpec   = domain.ProductSpec
	PrintJob      = domain.PrintJob
	QualityReport = domain.QualityReport
	Finding       = domain.Finding
	Order         = domain.Order
	OrderStatus   = domain.OrderStatus
	Recipient     = domain.Recipient
)

// JobState tracks a production run through its lifecycle.
type JobState string

const (
	JobStateCreated        JobState = "created"
	JobStateComposing      JobState = "composing"
	JobStateQualityChecked JobState = "quality_checked"
	JobStateReady          JobState = "ready"
	JobStateRejected       JobState = "rejected"
)

// ProductionService turns a print job into a press-ready document.
type ProductionService interface {
	ProducePrintJob(ctx context.Context, cmd ProducePrintJobCommand) (ProduceResult, error)
}

// OrderService submits finished documents to fulfillment providers and
// tracks the resulting orders.
type OrderService interface {
	SubmitOrder(ctx context.Context, cmd SubmitOrderCommand) (Order, error)
	TrackOrder(ctx context.Context, provider string, orderID string) (Order, error)
	CancelOrder(ctx context.Context, provider string, orderID string) (bool, error)
}

// DocumentStore persists finished print documents and returns a URL that
// fulfillment providers can fetch them from.
type DocumentStore interface {
	StoreDocument(ctx context.Context, jobID string, data []byte) (string, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	Provider       string
	OrderID        string
	ProjectID      string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]string
}

// BuildInfo describes the running binary for health reporting.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// Command and DTO definitions ------------------------------------------------

// ProducePrintJobCommand carries a print job plus caller-level production options.
type ProducePrintJobCommand struct {
	Job domain.PrintJob
	// AcceptFailing lets the caller take delivery of a document whose
	// quality verdict is fail instead of receiving a QualityError.
	AcceptFailing bool
}

// ProduceResult is the outcome of a production run.
type ProduceResult struct {
	JobID       string
	State       JobState
	Document    *compose.Document
	DocumentURL string
	Report      domain.QualityReport
}

// SubmitOrderCommand describes an order submission against a named provider.
type SubmitOrderCommand struct {
	Provider    string
	ProjectID   string
	Spec        domain.ProductSpec
	Recipient   domain.Recipient
	DocumentURL string
}

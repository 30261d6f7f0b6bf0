package domain

import (
	"time"

	"github.com/google/uuid"
)

// RawEvent is the archive unit: a parsed event awaiting or residing in a
// columnar blob. Created at parse time, owned by the Archiver's buffer
// until flush, then owned by the object-store blob.
type RawEvent struct {
	TransactionID   string
	CorrelationID   uuid.UUID
	EventPayload    EventPayload
	CreatedAt       time.Time
}

// EventPayload is the flattened, column-ready view of a Transaction used
// for parquet-equivalent serialization. Kept distinct from Transaction so
// the archive schema can evolve (e.g. add columns) without touching the
// live data model.
type EventPayload struct {
	TransactionTimestamp  time.Time
	IngestionTimestamp    time.Time
	ProcessingTimestamp   time.Time
	Amount                string // decimal string, archived as a string column (not a decimal(19,4) column)
	Currency              string
	PaymentMethod         string
	PaymentStatus         string
	CustomerID            string
	CustomerEmail         string
	CustomerCountry       string
	MerchantID            string
	MerchantName          string
	MerchantCategory      string
	TransactionType       string
	Channel               string
	DeviceType            string
	Metadata              map[string]any
	UpdatedAt             time.Time
}

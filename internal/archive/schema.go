// Package archive implements the Columnar Archiver (C3): an in-memory,
// size/time/overflow-triggered buffer that flushes RawEvents as
// compressed columnar blobs to an S3-compatible object store, and
// answers date/range retrieval queries. Grounded on original_source's
// parquet_serializer.py (schema, round-trip semantics) and
// blob_raw_event_store.py (buffer+timer, retry classification, blob path
// layout), realized with parquet-go/parquet-go in place of pyarrow and
// minio-go in place of the Azure Blob SDK (see DESIGN.md).
package archive

import (
	"time"

	"github.com/paynet/nexus-pipeline/internal/domain"
)

// row is the one-to-one Go realization of parquet_serializer.py's
// PARQUET_SCHEMA, expressed as parquet-go struct tags. Nullable string
// fields use the empty string as their absent representation, matching
// the wire-level nullability the original schema declares.
type row struct {
	TransactionID        string `parquet:"transaction_id"`
	CorrelationID        string `parquet:"correlation_id"`
	TransactionTimestamp int64  `parquet:"transaction_timestamp,timestamp"`
	IngestionTimestamp   int64  `parquet:"ingestion_timestamp,timestamp,optional"`
	ProcessingTimestamp  int64  `parquet:"processing_timestamp,timestamp,optional"`
	Amount               string `parquet:"amount"`
	Currency             string `parquet:"currency"`
	PaymentMethod        string `parquet:"payment_method"`
	PaymentStatus        string `parquet:"payment_status"`
	CustomerID           string `parquet:"customer_id,optional"`
	CustomerEmail        string `parquet:"customer_email,optional"`
	CustomerCountry      string `parquet:"customer_country,optional"`
	MerchantID           string `parquet:"merchant_id,optional"`
	MerchantName         string `parquet:"merchant_name,optional"`
	MerchantCategory     string `parquet:"merchant_category,optional"`
	TransactionType      string `parquet:"transaction_type,optional"`
	Channel              string `parquet:"channel,optional"`
	DeviceType           string `parquet:"device_type,optional"`
	Metadata             string `parquet:"metadata,optional"` // JSON-encoded
	CreatedAt            int64  `parquet:"created_at,timestamp"`
	UpdatedAt            int64  `parquet:"updated_at,timestamp,optional"`
}

func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}

func eventToRow(e domain.RawEvent) row {
	p := e.EventPayload
	return row{
		TransactionID:        e.TransactionID,
		CorrelationID:        e.CorrelationID.String(),
		TransactionTimestamp: toUnixNano(p.TransactionTimestamp),
		IngestionTimestamp:   toUnixNano(p.IngestionTimestamp),
		ProcessingTimestamp:  toUnixNano(p.ProcessingTimestamp),
		Amount:               p.Amount,
		Currency:             p.Currency,
		PaymentMethod:        p.PaymentMethod,
		PaymentStatus:        p.PaymentStatus,
		CustomerID:           p.CustomerID,
		CustomerEmail:        p.CustomerEmail,
		CustomerCountry:      p.CustomerCountry,
		MerchantID:           p.MerchantID,
		MerchantName:         p.MerchantName,
		MerchantCategory:     p.MerchantCategory,
		TransactionType:      p.TransactionType,
		Channel:              p.Channel,
		DeviceType:           p.DeviceType,
		Metadata:             encodeMetadata(p.Metadata),
		CreatedAt:            toUnixNano(e.CreatedAt),
		UpdatedAt:            toUnixNano(p.UpdatedAt),
	}
}

func rowToEvent(r row) domain.RawEvent {
	id, _ := parseUUID(r.CorrelationID)
	return domain.RawEvent{
		TransactionID: r.TransactionID,
		CorrelationID: id,
		CreatedAt:     fromUnixNano(r.CreatedAt),
		EventPayload: domain.EventPayload{
			TransactionTimestamp: fromUnixNano(r.TransactionTimestamp),
			IngestionTimestamp:   fromUnixNano(r.IngestionTimestamp),
			ProcessingTimestamp:  fromUnixNano(r.ProcessingTimestamp),
			Amount:               r.Amount,
			Currency:             r.Currency,
			PaymentMethod:        r.PaymentMethod,
			PaymentStatus:        r.PaymentStatus,
			CustomerID:           r.CustomerID,
			CustomerEmail:        r.CustomerEmail,
			CustomerCountry:      r.CustomerCountry,
			MerchantID:           r.MerchantID,
			MerchantName:         r.MerchantName,
			MerchantCategory:     r.MerchantCategory,
			TransactionType:      r.TransactionType,
			Channel:              r.Channel,
			DeviceType:           r.DeviceType,
			Metadata:             decodeMetadata(r.Metadata),
			UpdatedAt:            fromUnixNano(r.UpdatedAt),
		},
	}
}

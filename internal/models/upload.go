package models

import "time"

// BatchStatus tracks the ingest state machine per upload.
type BatchStatus string

const (
	BatchReceived        BatchStatus = "received"
	BatchHeadersProposed BatchStatus = "headers_proposed"
	BatchMapped          BatchStatus = "mapped"
	BatchValidating      BatchStatus = "validating"
	BatchPersisted       BatchStatus = "persisted"
	BatchReported        BatchStatus = "reported"
	BatchAborted         BatchStatus = "aborted"
)

// UploadBatch is the immutable record of one CSV ingest.
type UploadBatch struct {
	ID           string      `db:"id" json:"id"`
	ActivityID   string      `db:"activity_id" json:"activity_id"`
	Filename     string      `db:"filename" json:"filename"`
	StoragePath  string      `db:"storage_path" json:"storage_path"`
	Headers      []byte      `db:"headers" json:"headers"`
	Mapping      []byte      `db:"mapping" json:"mapping"`
	RowCount     int         `db:"row_count" json:"row_count"`
	ValidCount   int         `db:"valid_count" json:"valid_count"`
	InvalidCount int         `db:"invalid_count" json:"invalid_count"`
	Status       BatchStatus `db:"status" json:"status"`
	AbortedAtRow *int        `db:"aborted_at_row" json:"aborted_at_row,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
	CompletedAt  *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
}

// UploadReport summarises an ingest run for the operator.
type UploadReport struct {
	BatchID                string         `json:"batch_id"`
	ActivityID             string         `json:"activity_id"`
	RowCount               int            `json:"row_count"`
	ValidCount             int            `json:"valid_count"`
	InvalidCount           int            `json:"invalid_count"`
	ErrorBreakdown         map[string]int `json:"error_breakdown"`
	NewPersons             int            `json:"new_persons"`
	ExistingPersons        int            `json:"existing_persons"`
	WithinUploadDuplicates int            `json:"within_upload_duplicates"`
}

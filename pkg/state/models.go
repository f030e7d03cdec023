package state

import "time"

// Status represents the lifecycle state of a content record.
//
// Records move along synced -> processing -> processed -> indexing ->
// indexed. Each stage has a failed counterpart that keeps the record
// visible for retries and statistics; processing and indexing may be
// re-entered on retry.
type Status string

const (
	// StatusSynced means the source bytes are stored in CAS.
	StatusSynced Status = "synced"
	// StatusProcessing means an extraction worker owns the record.
	StatusProcessing Status = "processing"
	// StatusProcessed means the derivative bundle has been written.
	StatusProcessed Status = "processed"
	// StatusIndexing means an indexing worker owns the record.
	StatusIndexing Status = "indexing"
	// StatusIndexed means the extracted text is attached to the vector store.
	StatusIndexed Status = "indexed"

	// StatusFailedSync marks a record whose upload never completed.
	StatusFailedSync Status = "failed_sync"
	// StatusFailedProcess marks a record whose extraction gave up.
	StatusFailedProcess Status = "failed_process"
	// StatusFailedIndex marks a record whose indexing gave up.
	StatusFailedIndex Status = "failed_index"
)

// AllStatuses lists every valid status in pipeline order.
func AllStatuses() []Status {
	return []Status{
		StatusSynced, StatusProcessing, StatusProcessed,
		StatusIndexing, StatusIndexed,
		StatusFailedSync, StatusFailedProcess, StatusFailedIndex,
	}
}

// IsValid checks if the status is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusSynced, StatusProcessing, StatusProcessed,
		StatusIndexing, StatusIndexed,
		StatusFailedSync, StatusFailedProcess, StatusFailedIndex:
		return true
	}
	return false
}

// Failed reports whether the status is one of the failed_* states.
func (s Status) Failed() bool {
	return s == StatusFailedSync || s == StatusFailedProcess || s == StatusFailedIndex
}

// FailedStatusFor maps a working status to its failed counterpart.
func FailedStatusFor(s Status) Status {
	if s == StatusIndexing {
		return StatusFailedIndex
	}
	return StatusFailedProcess
}

// ErrorKind classifies a recorded failure by meaning rather than by the
// Go type that produced it. The kind is stored in the error block and
// drives retry policy and reporting.
type ErrorKind string

const (
	// ErrorTransientBackend marks retriable I/O failures against the
	// drive, CAS, the database or the vector service.
	ErrorTransientBackend ErrorKind = "TransientBackend"
	// ErrorOCRTimeout marks an extraction that hit the hard OCR wall clock.
	ErrorOCRTimeout ErrorKind = "OCRTimeout"
	// ErrorEmptyContent marks a document that produced no text at all.
	ErrorEmptyContent ErrorKind = "EmptyContent"
	// ErrorStaleProcessing marks records reaped by the stale sweep.
	ErrorStaleProcessing ErrorKind = "StaleProcessing"
	// ErrorPermanent marks unrecoverable input (malformed or unsupported).
	ErrorPermanent ErrorKind = "Permanent"
)

// ContentRecord tracks one content digest through the pipeline.
//
// The digest is the primary key; many drive items may map to the same
// record (see OriginMapping). Stage-success timestamps are written at
// most once and never cleared, so a record that loops through retries
// keeps its original history. The origin snapshot reflects the most
// recently seen originating drive item.
type ContentRecord struct {
	Digest    string `gorm:"primaryKey;size:64" json:"digest"`
	ObjectKey string `gorm:"not null;size:512" json:"object_key"`
	Extension string `gorm:"size:16" json:"extension"`
	Status    Status `gorm:"index;not null;size:32" json:"status"`

	// First-success timestamps, set once per stage.
	SyncedAt    *time.Time `json:"synced_at,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	IndexedAt   *time.Time `json:"indexed_at,omitempty"`

	// Origin snapshot, copied from the most recently seen drive item.
	OriginID         string     `gorm:"index;size:128" json:"origin_id,omitempty"`
	OriginalName     string     `gorm:"size:512" json:"original_name,omitempty"`
	OriginPath       string     `gorm:"size:1024" json:"origin_path,omitempty"`
	OriginMIME       string     `gorm:"size:255" json:"origin_mime,omitempty"`
	OriginCreatedAt  *time.Time `json:"origin_created_at,omitempty"`
	OriginModifiedAt *time.Time `json:"origin_modified_at,omitempty"`
	OriginalSize     int64      `json:"original_size,omitempty"`

	// TextSize is the extracted text length in bytes, set on processed.
	TextSize int64 `json:"text_size,omitempty"`

	// Vector service handles, set on the transition to indexed.
	VectorFileID  string `gorm:"size:128" json:"vector_file_id,omitempty"`
	VectorStoreID string `gorm:"size:128" json:"vector_store_id,omitempty"`

	// Error block. The retry count only ever grows; a successful
	// transition clears message and type but keeps the count.
	ErrorMessage string     `gorm:"size:2048" json:"error_message,omitempty"`
	ErrorType    ErrorKind  `gorm:"size:64" json:"error_type,omitempty"`
	RetryCount   int        `gorm:"default:0" json:"retry_count"`
	LastErrorAt  *time.Time `json:"last_error_at,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"index;autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for ContentRecord.
func (ContentRecord) TableName() string {
	return "content_records"
}

// HasError reports whether the record carries an unresolved error.
func (r *ContentRecord) HasError() bool {
	return r.ErrorMessage != ""
}

// OriginMapping links a drive item to the content record holding its
// bytes. Several mappings may point at the same digest when distinct
// drive items carry identical content. Mappings are inserted on first
// sight, updated on rename or move, and never deleted by the pipeline.
type OriginMapping struct {
	OriginID string `gorm:"primaryKey;size:128" json:"origin_id"`
	Digest   string `gorm:"index;not null;size:64" json:"digest"`

	Name             string     `gorm:"size:512" json:"name,omitempty"`
	Path             string     `gorm:"size:1024" json:"path,omitempty"`
	MIME             string     `gorm:"size:255" json:"mime,omitempty"`
	OriginCreatedAt  *time.Time `json:"origin_created_at,omitempty"`
	OriginModifiedAt *time.Time `json:"origin_modified_at,omitempty"`
	Size             int64      `json:"size,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for OriginMapping.
func (OriginMapping) TableName() string {
	return "origin_mappings"
}

// Checkpoint is a small named value persisted between runs.
type Checkpoint struct {
	Name      string    `gorm:"primaryKey;size:128" json:"name"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Checkpoint.
func (Checkpoint) TableName() string {
	return "checkpoints"
}

// CheckpointSyncWatermark names the drive traversal watermark: the
// greatest origin modified time fully committed by a sync run, RFC 3339.
const CheckpointSyncWatermark = "drive_sync_last_modified"

// AllModels returns all models for GORM auto-migration.
func AllModels() []any {
	return []any{
		&ContentRecord{},
		&OriginMapping{},
		&Checkpoint{},
	}
}

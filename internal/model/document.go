package model

import (
	"encoding/json"
	"time"
)

// DocumentStatus is the processing state of an ingested document.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// IsValid reports whether s is one of the four known states.
func (s DocumentStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving from s to next.
// pending -> processing -> {completed | failed}; failed -> pending re-enters
// processing for a new attempt.
func (s DocumentStatus) CanTransitionTo(next DocumentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	case StatusCompleted, StatusFailed:
		return next == StatusPending
	}
	return false
}

// Document is one ingested compliance document. Scope fields use 0 = unscoped.
// Only status/error/count fields change after processing; the rest is immutable
// until deletion.
type Document struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	UserID         uint           `gorm:"not null;index" json:"user_id"`
	OrganizationID uint           `gorm:"index" json:"organization_id"` // 0 = no organization
	AssessmentID   uint           `gorm:"index" json:"assessment_id"`   // 0 = no assessment
	ControlID      uint           `gorm:"index" json:"control_id"`      // 0 = no control
	Title          string         `gorm:"size:256;not null" json:"title"`
	FileType       string         `gorm:"size:16;not null" json:"file_type"`
	FileSize       int64          `gorm:"not null" json:"file_size"`
	TextLength     int            `json:"text_length"`
	Status         DocumentStatus `gorm:"size:16;not null;index;default:pending" json:"status"`
	ErrorKind      string         `gorm:"size:64" json:"error_kind,omitempty"`
	ErrorDetail    string         `gorm:"type:text" json:"error_detail,omitempty"`
	ChunkCount     int            `json:"chunk_count"`
	EmbeddingCount int            `json:"embedding_count"`
	ChunkSize      int            `gorm:"not null" json:"chunk_size"`
	ChunkOverlap   int            `gorm:"not null" json:"chunk_overlap"`
	Strategy       string         `gorm:"size:16;not null" json:"strategy"`
	AutoEmbed      bool           `gorm:"not null;default:true" json:"auto_embed"`
	Metadata       string         `gorm:"type:text" json:"-"` // JSON object
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// MetadataMap returns the parsed metadata; nil on empty or parse error.
func (d *Document) MetadataMap() map[string]any {
	if d.Metadata == "" {
		return nil
	}
	var m map[string]any
	_ = json.Unmarshal([]byte(d.Metadata), &m)
	return m
}

// SetMetadata stores the metadata map as JSON.
func (d *Document) SetMetadata(m map[string]any) {
	if len(m) == 0 {
		d.Metadata = ""
		return
	}
	b, _ := json.Marshal(m)
	d.Metadata = string(b)
}

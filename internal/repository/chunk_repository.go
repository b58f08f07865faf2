package repository

import (
	"fmt"

	"gorm.io/gorm"

	"compliance-doc-engine/internal/model"
)

const insertBatchSize = 200

type ChunkRepository struct {
	db *gorm.DB
}

func NewChunkRepository(db *gorm.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// ReplaceForDocument atomically swaps the document's chunk set: the old chunks
// and the new ones are never visible together. Re-processing with a different
// configuration therefore cannot mix chunks from two passes.
func (r *ChunkRepository) ReplaceForDocument(documentID uint, chunks []model.Chunk) error {
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
			return err
		}
		if len(chunks) == 0 {
			return nil
		}
		return tx.CreateInBatches(&chunks, insertBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("replace chunks for document %d failed: %w", documentID, err)
	}
	return nil
}

func (r *ChunkRepository) ListByDocumentID(documentID uint) ([]model.Chunk, error) {
	var chunks []model.Chunk
	if err := r.db.Where("document_id = ?", documentID).
		Order("chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, fmt.Errorf("list chunks by document failed: %w", err)
	}
	return chunks, nil
}

func (r *ChunkRepository) GetByID(id uint) (*model.Chunk, error) {
	var chunk model.Chunk
	if err := r.db.Where("id = ?", id).First(&chunk).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get chunk failed: %w", err)
	}
	return &chunk, nil
}

func (r *ChunkRepository) DeleteByDocumentID(documentID uint) error {
	if err := r.db.Where("document_id = ?", documentID).Delete(&model.Chunk{}).Error; err != nil {
		return fmt.Errorf("delete chunks by document failed: %w", err)
	}
	return nil
}

func (r *ChunkRepository) CountByDocumentID(documentID uint) (int64, error) {
	var count int64
	if err := r.db.Model(&model.Chunk{}).Where("document_id = ?", documentID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count chunks by document failed: %w", err)
	}
	return count, nil
}

// CandidateFilter restricts candidate retrieval to the caller's declared scope
// plus an optional explicit document allowlist.
type CandidateFilter struct {
	UserID         uint
	OrganizationID uint
	AssessmentID   uint
	ControlID      uint
	DocumentIDs    []uint
}

// Candidates returns every chunk of completed documents matching the filter,
// keyed documents alongside for provenance and scope checks. Pending,
// processing, and failed documents never contribute candidates.
func (r *ChunkRepository) Candidates(f CandidateFilter) ([]model.Chunk, map[uint]model.Document, error) {
	q := r.db.Model(&model.Document{}).Where("status = ?", model.StatusCompleted)
	if f.UserID != 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.OrganizationID != 0 {
		q = q.Where("organization_id = ?", f.OrganizationID)
	}
	if f.AssessmentID != 0 {
		q = q.Where("assessment_id = ?", f.AssessmentID)
	}
	if f.ControlID != 0 {
		q = q.Where("control_id = ?", f.ControlID)
	}
	if len(f.DocumentIDs) > 0 {
		q = q.Where("id IN ?", f.DocumentIDs)
	}

	var docs []model.Document
	if err := q.Find(&docs).Error; err != nil {
		return nil, nil, fmt.Errorf("list candidate documents failed: %w", err)
	}
	if len(docs) == 0 {
		return nil, map[uint]model.Document{}, nil
	}

	docsByID := make(map[uint]model.Document, len(docs))
	ids := make([]uint, 0, len(docs))
	for _, d := range docs {
		docsByID[d.ID] = d
		ids = append(ids, d.ID)
	}

	var chunks []model.Chunk
	if err := r.db.Where("document_id IN ?", ids).
		Order("document_id ASC, chunk_index ASC").
		Find(&chunks).Error; err != nil {
		return nil, nil, fmt.Errorf("list candidate chunks failed: %w", err)
	}
	return chunks, docsByID, nil
}

package repository

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"compliance-doc-engine/internal/model"
)

type DocumentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) Create(doc *model.Document) error {
	if err := r.db.Create(doc).Error; err != nil {
		return fmt.Errorf("create document failed: %w", err)
	}
	return nil
}

func (r *DocumentRepository) GetByID(id uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

func (r *DocumentRepository) GetByIDAndUserID(id, userID uint) (*model.Document, error) {
	var doc model.Document
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document failed: %w", err)
	}
	return &doc, nil
}

// ListFilter narrows a document listing. Zero scope ids and an empty file type
// mean "no filter on that field".
type ListFilter struct {
	UserID         uint
	OrganizationID uint
	AssessmentID   uint
	ControlID      uint
	FileType       string
	Page           int
	PageSize       int
}

func (r *DocumentRepository) List(f ListFilter) ([]model.Document, int64, error) {
	q := r.db.Model(&model.Document{})
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
	if f.FileType != "" {
		q = q.Where("file_type = ?", f.FileType)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count documents failed: %w", err)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	pageSize := f.PageSize
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var list []model.Document
	if err := q.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&list).Error; err != nil {
		return nil, 0, fmt.Errorf("list documents failed: %w", err)
	}
	return list, total, nil
}

// TransitionStatus moves a document from one status to another with a
// conditional update. Returns false when the document was not in the expected
// status, which serializes concurrent processing passes over the same document.
func (r *DocumentRepository) TransitionStatus(id uint, from, to model.DocumentStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("illegal status transition %s -> %s", from, to)
	}
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return false, fmt.Errorf("transition document status failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkCompleted finishes a processing pass: status, text length, and the
// denormalized chunk/embedding counts in one update. Guarded on processing so
// a cancelled pass cannot resurrect a deleted or re-queued document.
func (r *DocumentRepository) MarkCompleted(id uint, textLength, chunkCount, embeddingCount int) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status = ?", id, model.StatusProcessing).
		Updates(map[string]interface{}{
			"status":          model.StatusCompleted,
			"text_length":     textLength,
			"chunk_count":     chunkCount,
			"embedding_count": embeddingCount,
			"error_kind":      "",
			"error_detail":    "",
		})
	if res.Error != nil {
		return false, fmt.Errorf("mark document completed failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// MarkFailed records a terminal failure for the current attempt.
func (r *DocumentRepository) MarkFailed(id uint, kind, detail string) error {
	res := r.db.Model(&model.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.StatusFailed,
			"error_kind":   kind,
			"error_detail": detail,
		})
	if res.Error != nil {
		return fmt.Errorf("mark document failed failed: %w", res.Error)
	}
	return nil
}

// ResetForReprocess re-enters pending with a new chunk configuration. Only
// terminal documents (completed or failed) can be re-queued; a document mid
// processing is left alone.
func (r *DocumentRepository) ResetForReprocess(id uint, chunkSize, chunkOverlap int, strategy string) (bool, error) {
	res := r.db.Model(&model.Document{}).
		Where("id = ? AND status IN ?", id, []model.DocumentStatus{model.StatusCompleted, model.StatusFailed}).
		Updates(map[string]interface{}{
			"status":          model.StatusPending,
			"chunk_size":      chunkSize,
			"chunk_overlap":   chunkOverlap,
			"strategy":        strategy,
			"chunk_count":     0,
			"embedding_count": 0,
			"error_kind":      "",
			"error_detail":    "",
		})
	if res.Error != nil {
		return false, fmt.Errorf("reset document for reprocess failed: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *DocumentRepository) Delete(id uint) error {
	if err := r.db.Where("id = ?", id).Delete(&model.Document{}).Error; err != nil {
		return fmt.Errorf("delete document failed: %w", err)
	}
	return nil
}

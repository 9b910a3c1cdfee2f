package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/reelhouse/reelhouse/app/models"
)

const maxAuditPageSize = 200

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new audit log repository instance
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

// List returns a page of audit rows, newest first, and the filtered total.
func (r *auditRepository) List(filter AuditFilter) ([]models.AdminAuditLog, int64, error) {
	q := r.db.Model(&models.AdminAuditLog{})
	if filter.ActorID != 0 {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.TargetUserID != 0 {
		q = q.Where("target_user_id = ?", filter.TargetUserID)
	}
	if filter.Action != "" {
		q = q.Where("action = ?", filter.Action)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > maxAuditPageSize {
		limit = 50
	}
	var logs []models.AdminAuditLog
	err := q.Order("created_at DESC, id DESC").Offset(filter.Offset).Limit(limit).Find(&logs).Error
	return logs, total, err
}

// ListUnarchived returns rows created before the cutoff that were not yet
// uploaded, oldest first.
func (r *auditRepository) ListUnarchived(before time.Time, limit int) ([]models.AdminAuditLog, error) {
	var logs []models.AdminAuditLog
	err := r.db.Where("archived_at IS NULL AND created_at < ?", before).
		Order("id ASC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// MarkArchived stamps rows as uploaded. Already stamped rows are left alone.
func (r *auditRepository) MarkArchived(ids []uint, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.Model(&models.AdminAuditLog{}).
		Where("id IN ? AND archived_at IS NULL", ids).
		Update("archived_at", at)
	return res.RowsAffected, res.Error
}

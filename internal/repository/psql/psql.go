package psql

import (
	"context"
	"fmt"
	"time"

	"github.com/GrayCatHQ/graycat-aiserver/internal/domain/entity"
	"gorm.io/gorm"
)

// GormJobLog keeps the diagnostic audit trail of submitted jobs.
type GormJobLog struct {
	DB *gorm.DB
}

func NewGormJobLog(db *gorm.DB) *GormJobLog {
	return &GormJobLog{DB: db}
}

func (r *GormJobLog) CreateJob(ctx context.Context, rec *entity.JobRecord) error {
	return r.DB.WithContext(ctx).Create(rec).Error
}

func (r *GormJobLog) UpdateJobStatus(ctx context.Context, jobID string, status entity.JobStatus, lastError string) error {
	rec := &entity.JobRecord{}
	if err := r.DB.WithContext(ctx).First(rec, "job_id = ?", jobID).Error; err != nil {
		return fmt.Errorf("job record not found: %w", err)
	}

	rec.Status = status
	rec.LastError = lastError
	rec.UpdatedAt = time.Now()

	return r.DB.WithContext(ctx).Save(rec).Error
}

func (r *GormJobLog) GetJob(ctx context.Context, jobID string) (*entity.JobRecord, error) {
	rec := &entity.JobRecord{}
	if err := r.DB.WithContext(ctx).First(rec, "job_id = ?", jobID).Error; err != nil {
		return nil, fmt.Errorf("job record not found: %w", err)
	}
	return rec, nil
}

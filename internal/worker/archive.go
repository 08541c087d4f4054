package worker

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsecheck/backend/internal/models"
	"github.com/pulsecheck/backend/pkg/queue"
	"github.com/pulsecheck/backend/pkg/storage"
)

// SubmissionSource loads immutable submission snapshots.
type SubmissionSource interface {
	GetSubmitted(ctx context.Context, assessmentID uuid.UUID) (*models.SubmittedAssessment, error)
}

// SnapshotStore writes archived snapshots.
type SnapshotStore interface {
	SnapshotExists(ctx context.Context, key string) bool
	PutSnapshot(ctx context.Context, key string, v any) error
}

// ArchiveProcessor copies submission snapshots to object storage.
type ArchiveProcessor struct {
	source SubmissionSource
	store  SnapshotStore
	logger *zap.Logger
}

// NewArchiveProcessor creates an archive processor.
func NewArchiveProcessor(source SubmissionSource, store SnapshotStore, logger *zap.Logger) *ArchiveProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveProcessor{source: source, store: store, logger: logger}
}

// Process executes one archive job. Already archived snapshots are skipped.
func (p *ArchiveProcessor) Process(ctx context.Context, job *queue.Job) error {
	var payload queue.ArchivePayload
	if err := job.Decode(&payload); err != nil {
		return err
	}
	key := storage.SnapshotKey(payload.OrgName, payload.AssessmentID.String())
	if p.store.SnapshotExists(ctx, key) {
		p.logger.Info("snapshot already archived", zap.String("key", key))
		return nil
	}
	snap, err := p.source.GetSubmitted(ctx, payload.AssessmentID)
	if err != nil {
		return fmt.Errorf("load submission %s: %w", payload.AssessmentID, err)
	}
	if err := p.store.PutSnapshot(ctx, key, snap); err != nil {
		return fmt.Errorf("archive %s: %w", payload.AssessmentID, err)
	}
	p.logger.Info("snapshot archived", zap.String("assessment_id", payload.AssessmentID.String()), zap.String("key", key))
	return nil
}

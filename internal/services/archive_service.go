package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/internal/repository"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

const archiveActor = "system:archive"

// ArchiveScheduler periodically closes delivered documents: it marks them
// arrived and flips their kind to ARCHIVED. Sweeps run on one goroutine.
type ArchiveScheduler struct {
	repo      repository.Repository
	docs      *DocumentService
	logger    *zap.Logger
	metrics   *metrics.MetricsCollector
	threshold time.Duration
	now       func() time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
}

func NewArchiveScheduler(repo repository.Repository, docs *DocumentService, logger *zap.Logger, metrics *metrics.MetricsCollector, threshold time.Duration) *ArchiveScheduler {
	return &ArchiveScheduler{
		repo:      repo,
		docs:      docs,
		logger:    logger.With(zap.String("service", "archive_scheduler")),
		metrics:   metrics,
		threshold: threshold,
		now:       time.Now,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (as *ArchiveScheduler) Start(ctx context.Context, interval time.Duration) {
	go func() {
		defer close(as.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-as.stopChan:
				return
			case <-ticker.C:
				if _, err := as.Sweep(ctx); err != nil {
					as.logger.Error("Archive sweep failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop ends the loop and waits for a running sweep to finish.
func (as *ArchiveScheduler) Stop() {
	as.stopOnce.Do(func() { close(as.stopChan) })
	<-as.done
}

// Sweep archives every eligible document and returns how many it archived.
// Running it twice archives nothing the second time.
func (as *ArchiveScheduler) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	candidates, err := as.repo.ListArchivable(ctx, as.now().Add(-as.threshold))
	if err != nil {
		return 0, err
	}
	archived := 0
	for i := range candidates {
		if err := ctx.Err(); err != nil {
			return archived, err
		}
		ok, err := as.archive(ctx, candidates[i].ID)
		if err != nil {
			as.logger.Warn("Could not archive document", zap.String("doc_id", candidates[i].ID), zap.Error(err))
			continue
		}
		if ok {
			archived++
			as.metrics.IncrementCounter("documents_archived", nil)
		}
	}
	as.metrics.IncrementCounter("archive_sweeps", nil)
	as.metrics.ObserveLatency("archive_sweep", time.Since(start))
	if archived > 0 {
		as.logger.Info("Archive sweep completed", zap.Int("archived", archived), zap.Int("candidates", len(candidates)))
	}
	return archived, nil
}

func (as *ArchiveScheduler) archive(ctx context.Context, documentID string) (bool, error) {
	for attempt := 0; attempt < maxVersionRetries; attempt++ {
		doc, err := as.repo.GetDocument(ctx, documentID)
		if err != nil {
			return false, err
		}
		if doc.Kind != models.KindDraft {
			return false, nil
		}
		doc, err = as.docs.markArrived(ctx, doc, archiveActor, "archive_sweep")
		if errors.Is(err, repository.ErrStaleVersion) {
			continue
		}
		if err != nil {
			return false, err
		}
		archivedDoc := doc.Clone()
		archivedDoc.Kind = models.KindArchived
		archivedDoc.UpdatedBy = archiveActor
		if err := as.repo.UpdateDocument(ctx, archivedDoc, doc.Version); err != nil {
			if errors.Is(err, repository.ErrStaleVersion) {
				continue
			}
			return false, err
		}
		as.logger.Info("Document archived", zap.String("doc_id", documentID), zap.String("status", string(archivedDoc.Status)))
		return true, nil
	}
	return false, nil
}

package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"hometrack/server/config"
	"hometrack/server/internal/database"
	"hometrack/server/internal/identity"
	"hometrack/server/internal/ledger"
	"hometrack/server/internal/models"
	"hometrack/server/internal/queue"
)

// Journal outcome values.
const (
	outcomeRecorded  = "recorded"
	outcomeUnchanged = "unchanged"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

// BatchProcessor drains observation batches from the queue and applies them
// to the ledger store. Entities within a batch are processed by a worker
// pool; per-entity ordering is guaranteed by the store's keyed locks.
type BatchProcessor struct {
	journal   *gorm.DB
	ledgers   *ledger.Store
	logger    *logrus.Logger
	config    *config.Config
	queue     *queue.ObservationQueue
	waitGroup sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewBatchProcessor creates a new batch processor instance.
func NewBatchProcessor(journal *gorm.DB, ledgers *ledger.Store, q *queue.ObservationQueue, cfg *config.Config, logger *logrus.Logger) *BatchProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &BatchProcessor{
		journal: journal,
		ledgers: ledgers,
		queue:   q,
		config:  cfg,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes the processor to the queue.
func (p *BatchProcessor) Start() {
	p.queue.Subscribe(func(batch []*models.Observation) error {
		return p.ProcessBatch(batch)
	})
}

// Stop cancels in-flight work and waits for it to finish.
func (p *BatchProcessor) Stop() {
	p.cancel()
	p.waitGroup.Wait()
}

// ProcessBatch applies one batch of observations. Failures local to one
// observation are absorbed and reported in the run audit; the batch always
// runs to completion unless the processor is stopped.
func (p *BatchProcessor) ProcessBatch(batch []*models.Observation) error {
	runID := uuid.NewString()
	startedAt := time.Now()

	workers := p.config.BatchProcessing.ProcessorCount
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan *models.Observation)
	outcomes := make([]outcome, 0, len(batch))
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		p.waitGroup.Add(1)
		go func() {
			defer wg.Done()
			defer p.waitGroup.Done()
			for obs := range jobs {
				o := p.processObservation(runID, obs)
				mu.Lock()
				outcomes = append(outcomes, o)
				mu.Unlock()
			}
		}()
	}

	for _, obs := range batch {
		if p.ctx.Err() != nil {
			break
		}
		jobs <- obs
	}
	close(jobs)
	wg.Wait()

	audit := &models.RunAudit{
		RunID:      runID,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	journalRows := make([]*models.ObservationJournal, 0, len(outcomes))
	var failedIDs []string
	for i := range outcomes {
		o := &outcomes[i]
		audit.Processed++
		journalRows = append(journalRows, &o.journal)
		switch o.journal.Outcome {
		case outcomeRecorded:
			if o.result != nil && o.result.Created {
				audit.NewCount++
			} else {
				audit.Changed++
			}
		case outcomeUnchanged:
			audit.Unchanged++
		case outcomeSkipped:
			audit.Skipped++
		case outcomeFailed:
			id := o.journal.EntityID
			if id == "" {
				id = o.journal.NaturalKey
			}
			if id == "" {
				id = "unknown"
			}
			failedIDs = append(failedIDs, id)
		}
	}
	audit.FailedIDs = strings.Join(failedIDs, ",")

	if err := p.persistAudit(journalRows, audit); err != nil {
		return fmt.Errorf("failed to persist run audit: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":    runID,
		"processed": audit.Processed,
		"new":       audit.NewCount,
		"changed":   audit.Changed,
		"unchanged": audit.Unchanged,
		"skipped":   audit.Skipped,
		"failed":    len(failedIDs),
	}).Info("Processed observation batch")
	return nil
}

// outcome pairs one observation's journal row with its append result.
type outcome struct {
	journal models.ObservationJournal
	result  *ledger.AppendResult
}

func (p *BatchProcessor) processObservation(runID string, obs *models.Observation) (o outcome) {
	o.journal = models.ObservationJournal{
		RunID:      runID,
		NaturalKey: obs.NaturalKey,
		Price:      obs.Price,
		Source:     obs.Source,
		ObservedAt: obs.ObservedAt,
	}

	// Malformed observations are transient input errors: skip, log,
	// continue the batch.
	if obs.Price <= 0 {
		o.journal.Outcome = outcomeSkipped
		p.logger.WithFields(logrus.Fields{
			"natural_key": obs.NaturalKey,
			"price":       obs.Price,
		}).Warn("Skipping observation without a positive price")
		return o
	}

	result, err := p.appendWithRetry(obs)
	if err != nil {
		o.journal.Outcome = outcomeFailed
		if result != nil {
			o.journal.EntityID = result.EntityID
		}
		p.logger.WithError(err).WithField("natural_key", obs.NaturalKey).
			Error("Failed to apply observation")
		return o
	}

	o.result = result
	o.journal.EntityID = result.EntityID
	if result.Recorded {
		o.journal.Outcome = outcomeRecorded
	} else {
		o.journal.Outcome = outcomeUnchanged
	}
	return o
}

// appendWithRetry retries failed store writes a small fixed number of times
// before reporting the id as failed. Identity errors are not retried; a bad
// natural key stays bad.
func (p *BatchProcessor) appendWithRetry(obs *models.Observation) (*ledger.AppendResult, error) {
	var lastErr error
	for attempt := 0; attempt <= p.config.BatchProcessing.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying observation append, attempt %d of %d", attempt, p.config.BatchProcessing.MaxRetries)
			time.Sleep(time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second)
		}

		result, err := p.ledgers.AppendIfChanged(p.ctx, obs)
		if err == nil {
			return result, nil
		}
		lastErr = err

		// Identity resolution and validation failures are permanent.
		if errors.Is(err, identity.ErrEmptyNaturalKey) || errors.Is(err, ledger.ErrNoPrice) || p.ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("append failed after %d attempts: %w", p.config.BatchProcessing.MaxRetries, lastErr)
}

// persistAudit writes the journal rows and the audit summary in one gorm
// transaction, retried with the configured backoff.
func (p *BatchProcessor) persistAudit(rows []*models.ObservationJournal, audit *models.RunAudit) error {
	var err error
	for attempt := 0; attempt <= p.config.BatchProcessing.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(p.config.BatchProcessing.RetryDelay) * time.Second)
		}

		err = p.journal.Transaction(func(tx *gorm.DB) error {
			if err := database.JournalObservations(tx, rows); err != nil {
				return err
			}
			return database.SaveRunAudit(tx, audit)
		})
		if err == nil {
			return nil
		}
		p.logger.Errorf("Audit persistence failed: %v", err)
	}
	return err
}

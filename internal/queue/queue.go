package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"hometrack/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// ObservationQueue buffers observation batches between the ingest endpoint
// and the batch processors. Batches are delivered whole; splitting or
// re-grouping them is the processor's business.
type ObservationQueue struct {
	items    chan []*models.Observation
	done     chan struct{}
	maxSize  int
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
	handlers []func([]*models.Observation) error
}

func NewObservationQueue(bufferSize int, logger *logrus.Logger) *ObservationQueue {
	return &ObservationQueue{
		items:    make(chan []*models.Observation, bufferSize),
		done:     make(chan struct{}),
		maxSize:  bufferSize,
		logger:   logger,
		handlers: make([]func([]*models.Observation) error, 0),
	}
}

// Push enqueues one batch. When the buffer is full the batch is rejected
// with ErrQueueFull rather than blocking the ingest request; the upstream
// feed retries on its own cadence.
func (q *ObservationQueue) Push(observations []*models.Observation) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	select {
	case q.items <- observations:
		q.logger.WithField("batch_size", len(observations)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe registers a handler invoked for every dequeued batch.
func (q *ObservationQueue) Subscribe(handler func([]*models.Observation) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, handler)
}

// Start launches the drain loop.
func (q *ObservationQueue) Start() {
	go q.process()
}

func (q *ObservationQueue) process() {
	for {
		select {
		case <-q.done:
			return
		case batch := <-q.items:
			q.processBatch(batch)
		}
	}
}

func (q *ObservationQueue) processBatch(batch []*models.Observation) {
	q.mu.RLock()
	handlers := q.handlers
	q.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(batch); err != nil {
			q.logger.WithError(err).Error("Handler failed to process batch")
		}
	}
}

// Close stops the drain loop and rejects further pushes. Batches still
// buffered are dropped; the next scrape run re-observes them anyway.
func (q *ObservationQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.done)
	close(q.items)
	return nil
}

// Len reports the number of batches currently buffered.
func (q *ObservationQueue) Len() int {
	return len(q.items)
}

func (q *ObservationQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

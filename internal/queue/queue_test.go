package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"hometrack/server/internal/models"
)

func TestNewObservationQueue(t *testing.T) {
	logger := logrus.New()
	q := NewObservationQueue(10, logger)
	assert.NotNil(t, q)
	assert.Equal(t, 10, q.maxSize)
	assert.False(t, q.IsClosed())
}

func TestObservationQueue_Push(t *testing.T) {
	logger := logrus.New()
	q := NewObservationQueue(2, logger)

	obs := []*models.Observation{{NaturalKey: "key-1"}}
	err := q.Push(obs)
	assert.NoError(t, err)
	assert.Equal(t, 1, q.Len())

	// Fill the buffer; the next push is rejected, not blocked.
	for i := 0; i < 2; i++ {
		batch := []*models.Observation{{NaturalKey: "key"}}
		_ = q.Push(batch)
	}
	err = q.Push(obs)
	assert.Equal(t, ErrQueueFull, err)

	q.Close()
	err = q.Push(obs)
	assert.Equal(t, ErrQueueClosed, err)
}

func TestObservationQueue_Subscribe(t *testing.T) {
	logger := logrus.New()
	q := NewObservationQueue(10, logger)

	var processed []*models.Observation
	var mu sync.Mutex

	q.Subscribe(func(obs []*models.Observation) error {
		mu.Lock()
		processed = append(processed, obs...)
		mu.Unlock()
		return nil
	})

	q.Start()

	batch := []*models.Observation{{NaturalKey: "key-1"}, {NaturalKey: "key-2"}}
	err := q.Push(batch)
	assert.NoError(t, err)

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 2, len(processed))
	assert.Equal(t, "key-1", processed[0].NaturalKey)
	assert.Equal(t, "key-2", processed[1].NaturalKey)
	mu.Unlock()
}

func TestObservationQueue_Close(t *testing.T) {
	logger := logrus.New()
	q := NewObservationQueue(10, logger)

	err := q.Close()
	assert.NoError(t, err)
	assert.True(t, q.IsClosed())

	err = q.Close()
	assert.NoError(t, err)
}

func TestObservationQueue_ProcessBatch(t *testing.T) {
	logger := logrus.New()
	q := NewObservationQueue(10, logger)

	var wg sync.WaitGroup
	processedBatches := 0
	var mu sync.Mutex

	for i := 0; i < 3; i++ {
		wg.Add(1)
		q.Subscribe(func(obs []*models.Observation) error {
			mu.Lock()
			processedBatches++
			mu.Unlock()
			wg.Done()
			return nil
		})
	}

	q.Start()

	batch := []*models.Observation{{NaturalKey: "key"}}
	err := q.Push(batch)
	assert.NoError(t, err)

	wg.Wait()

	mu.Lock()
	assert.Equal(t, 3, processedBatches)
	mu.Unlock()
}

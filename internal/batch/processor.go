package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Kamar-Folarin/commerce-sync/internal/config"
)

// Progress reports how far a batched write has come
type Progress struct {
	TotalBatches     int
	ProcessedBatches int
	TotalItems       int
	ProcessedItems   int
	StartTime        time.Time
	LastUpdateTime   time.Time
	Errors           []error
}

// ProgressFunc receives a snapshot after every finished batch. Calls for one
// Process run are serialized.
type ProgressFunc func(Progress)

// Processor splits writes into chunks and retries each chunk
type Processor struct {
	config *config.BatchConfig
}

// NewProcessor creates a new batch processor
func NewProcessor(cfg *config.BatchConfig) *Processor {
	return &Processor{config: cfg}
}

// Process runs processFn over items in batches of the configured size, using
// up to the configured number of workers. The first batch error is returned
// after all started batches finish. onProgress may be nil.
func Process[T any](ctx context.Context, p *Processor, items []T, processFn func(ctx context.Context, batch []T) error, onProgress ProgressFunc) error {
	totalItems := len(items)
	if totalItems == 0 {
		return nil
	}

	batchSize := p.config.Size
	if batchSize <= 0 {
		batchSize = 100
	}
	workers := p.config.Workers
	if workers <= 0 {
		workers = 1
	}

	totalBatches := (totalItems + batchSize - 1) / batchSize
	progress := Progress{
		TotalBatches:   totalBatches,
		TotalItems:     totalItems,
		StartTime:      time.Now(),
		LastUpdateTime: time.Now(),
	}
	report := func() {
		if onProgress != nil {
			snapshot := progress
			snapshot.Errors = append([]error(nil), progress.Errors...)
			onProgress(snapshot)
		}
	}

	var (
		workerChan = make(chan int, workers)
		wg         sync.WaitGroup
		mu         sync.Mutex
		processErr error
	)

	for i := 0; i < totalBatches; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			mu.Lock()
			progress.Errors = append(progress.Errors, ctx.Err())
			report()
			mu.Unlock()
			return ctx.Err()
		case workerChan <- i:
			wg.Add(1)
			go func(batchNum int) {
				defer wg.Done()
				defer func() { <-workerChan }()

				start := batchNum * batchSize
				end := start + batchSize
				if end > totalItems {
					end = totalItems
				}

				chunk := items[start:end]
				err := processWithRetry(ctx, p.config, chunk, processFn)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if processErr == nil {
						processErr = err
					}
					progress.Errors = append(progress.Errors, err)
					return
				}
				progress.ProcessedBatches++
				progress.ProcessedItems += len(chunk)
				progress.LastUpdateTime = time.Now()
				report()
			}(i)
		}
	}

	wg.Wait()
	return processErr
}

func processWithRetry[T any](ctx context.Context, cfg *config.BatchConfig, chunk []T, processFn func(ctx context.Context, batch []T) error) error {
	var lastErr error
	for retry := 0; retry <= cfg.MaxRetries; retry++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := processFn(ctx, chunk)
		if err == nil {
			return nil
		}
		lastErr = err

		if retry < cfg.MaxRetries {
			backoff := time.Duration(float64(cfg.BatchDelay) * float64(retry+1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return fmt.Errorf("failed to process batch after %d retries: %w", cfg.MaxRetries, lastErr)
}

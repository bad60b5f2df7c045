// Package worker provides an asynchronous worker pool for bulk cassette
// verification: loading, decoding, and integrity-checking stored cassettes
// concurrently.
//
// The pool decouples store reads from the caller so a large cassette
// archive can be checked with bounded concurrency.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"

	"github.com/retracehq/retrace/pkg/storage"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// Job is a unit of work for the worker pool to execute against.
type Job struct {
	Key string
}

// Result is the verification outcome for one cassette.
type Result struct {
	Key           string
	SchemaVersion string
	Events        int
	Err           error
}

// OK reports whether the cassette decoded and passed integrity checks.
func (r Result) OK() bool { return r.Err == nil }

// Config is the configuration options for the worker pool.
type Config struct {
	// Store is the cassette store to read from.
	Store storage.Store

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool verifies cassettes asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	mu      sync.Mutex
	results []Result
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full, resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	select {
	case p.queue <- job:
		p.logger.Debug("job queued", zap.String("key", job.Key))
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("key", job.Key),
		)
		return false
	}
}

// Close signals workers to stop and waits for in-flight jobs to drain.
func (p *Pool) Close() {
	close(p.queue)
	p.wg.Wait()
}

// Results returns the verification outcomes collected so far. Call after
// Close to get the complete set.
func (p *Pool) Results() []Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Result, len(p.results))
	copy(out, p.results)
	return out
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("verify worker stopped", zap.Uint("worker_id", id))
}

// processJob loads, decodes, and integrity-checks one cassette.
func (p *Pool) processJob(job Job) {
	ctx := context.Background()
	res := Result{Key: job.Key}

	cas, err := storage.LoadCassette(ctx, p.config.Store, job.Key)
	if err != nil {
		res.Err = err
		p.logger.Error("cassette failed verification",
			zap.String("key", job.Key),
			zap.Error(err),
		)
		p.append(res)
		return
	}

	res.SchemaVersion = cas.SchemaVersion
	res.Events = len(cas.Events)

	// Event IDs define replay order; a gap or inversion means the cassette
	// cannot be replayed deterministically.
	prev := 0
	for _, ev := range cas.Events {
		if ev.EID <= prev {
			res.Err = fmt.Errorf("event ids not strictly increasing: %d after %d", ev.EID, prev)
			break
		}
		prev = ev.EID
	}

	if res.Err != nil {
		p.logger.Error("cassette failed verification",
			zap.String("key", job.Key),
			zap.Error(res.Err),
		)
	} else {
		p.logger.Debug("cassette verified",
			zap.String("key", job.Key),
			zap.Int("events", res.Events),
		)
	}
	p.append(res)
}

func (p *Pool) append(res Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results = append(p.results, res)
}

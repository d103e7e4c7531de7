package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/andresmejia3/portrait/internal/crop"
	"github.com/andresmejia3/portrait/internal/face"
	"github.com/andresmejia3/portrait/internal/imageprep"
	"github.com/andresmejia3/portrait/internal/logger"
	"github.com/andresmejia3/portrait/internal/pipeline"
	"github.com/andresmejia3/portrait/internal/types"
	"github.com/andresmejia3/portrait/internal/utils"
	"golang.org/x/time/rate"
)

// Status is the terminal state of one batch item.
type Status string

const (
	StatusAccepted Status = "accepted" // exactly one face
	StatusInvalid  Status = "invalid"  // zero or several faces
	StatusFailed   Status = "failed"
)

// BatchConfig controls fan-out, retries and throttling.
type BatchConfig struct {
	Workers            int
	MaxConflictRetries int
	RequestsPerSecond  float64 // zero disables throttling
	Detect             face.DetectOptions
	Extensions         []string
	EnlargeFactor      float64
}

// Outcome is reported once per input path.
type Outcome struct {
	Path     string
	Status   Status
	Faces    int
	Face     *types.DetectedFace
	Target   types.CropRegion // enlarged face rectangle, accepted items only
	Width    int
	Height   int
	Attempts int
	Err      error
}

// Summary counts terminal outcomes.
type Summary struct {
	Total    int64
	Accepted int64
	Invalid  int64
	Failed   int64
	Retries  int64
}

// Batch runs detection over many files with a bounded number of calls in flight.
type Batch struct {
	cfg      BatchConfig
	detector pipeline.Detector
	preparer imageprep.Preparer
	limiter  *rate.Limiter
	logger   *logger.Logger
	readFile func(string) ([]byte, error)

	total, accepted, invalid, failed, retries atomic.Int64
}

// task is one unit of work. Encoded bytes are kept so a re-queued item is
// not decoded and resized again.
type task struct {
	path     string
	attempts int
	encoded  []byte
	width    int
	height   int
}

type taskResult struct {
	task
	faces []types.DetectedFace
	err   error
}

func NewBatch(detector pipeline.Detector, preparer imageprep.Preparer, cfg BatchConfig, log *logger.Logger) *Batch {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.EnlargeFactor < 1 {
		cfg.EnlargeFactor = 1.2
	}
	if log == nil {
		log = logger.NewNop()
	}
	b := &Batch{
		cfg:      cfg,
		detector: detector,
		preparer: preparer,
		logger:   log,
		readFile: os.ReadFile,
	}
	if cfg.RequestsPerSecond > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return b
}

// List returns the images under root matching the configured extensions.
func (b *Batch) List(root string) ([]string, error) {
	return utils.ListImages(root, b.cfg.Extensions)
}

// Snapshot returns the counters of the current or last run. Safe to call
// from other goroutines while Run is active.
func (b *Batch) Snapshot() Summary {
	return Summary{
		Total:    b.total.Load(),
		Accepted: b.accepted.Load(),
		Invalid:  b.invalid.Load(),
		Failed:   b.failed.Load(),
		Retries:  b.retries.Load(),
	}
}

// Run processes paths and calls onResult (from a single goroutine) for each
// terminal outcome. Items that hit a concurrent-operation conflict go back
// to the end of the queue until MaxConflictRetries is spent. On ctx
// cancellation no new items are dispatched; in-flight items finish and
// ctx.Err() is returned.
func (b *Batch) Run(ctx context.Context, paths []string, onResult func(Outcome)) (Summary, error) {
	for _, c := range []*atomic.Int64{&b.total, &b.accepted, &b.invalid, &b.failed, &b.retries} {
		c.Store(0)
	}
	b.total.Store(int64(len(paths)))

	taskChan := make(chan task)
	resultsChan := make(chan taskResult, b.cfg.Workers)
	var wg sync.WaitGroup

	for i := 0; i < b.cfg.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for t := range taskChan {
				resultsChan <- b.process(ctx, workerID, t)
			}
		}(i)
	}

	pending := make([]task, 0, len(paths))
	for _, p := range paths {
		pending = append(pending, task{path: p})
	}

	doneCh := ctx.Done()
	cancelled := false
	inFlight, finished := 0, 0

	for finished < len(paths) && !(cancelled && inFlight == 0) {
		// a nil channel disables the send case
		var send chan task
		var next task
		if !cancelled && len(pending) > 0 {
			send = taskChan
			next = pending[0]
		}

		select {
		case send <- next:
			pending = pending[1:]
			inFlight++

		case r := <-resultsChan:
			inFlight--
			if types.IsConflict(r.err) && r.attempts <= b.cfg.MaxConflictRetries && !cancelled {
				b.retries.Add(1)
				b.logger.Debug("Conflict, re-queueing", "path", r.path, "attempt", r.attempts)
				pending = append(pending, r.task)
				continue
			}
			finished++
			out := b.finalize(r)
			if onResult != nil {
				onResult(out)
			}

		case <-doneCh:
			cancelled = true
			doneCh = nil
		}
	}

	close(taskChan)
	wg.Wait()
	close(resultsChan)

	sum := b.Snapshot()
	if cancelled {
		return sum, ctx.Err()
	}
	return sum, nil
}

// process reads, prepares and detects one item.
func (b *Batch) process(ctx context.Context, workerID int, t task) taskResult {
	t.attempts++
	res := taskResult{task: t}

	if res.encoded == nil {
		data, err := b.readFile(t.path)
		if err != nil {
			res.err = fmt.Errorf("read: %w", err)
			return res
		}
		prepared, err := b.preparer.Prepare(data)
		if err != nil {
			res.err = fmt.Errorf("prepare: %w", err)
			return res
		}
		bounds := prepared.Image.Bounds()
		res.encoded, res.width, res.height = prepared.Encoded, bounds.Dx(), bounds.Dy()
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			res.err = err
			return res
		}
	}

	res.faces, res.err = b.detector.Detect(ctx, res.encoded, b.cfg.Detect)
	if res.err != nil {
		b.logger.Debug("Detect failed", "worker", workerID, "path", t.path, "error", res.err)
	}
	return res
}

// finalize turns a result into its terminal outcome and updates counters.
func (b *Batch) finalize(r taskResult) Outcome {
	out := Outcome{
		Path:     r.path,
		Faces:    len(r.faces),
		Width:    r.width,
		Height:   r.height,
		Attempts: r.attempts,
	}

	switch {
	case r.err != nil:
		out.Status = StatusFailed
		out.Err = r.err
		if types.IsConflict(r.err) {
			out.Err = fmt.Errorf("%w after %d attempts: %v", types.ErrRetriesExhausted, r.attempts, r.err)
		}
		b.failed.Add(1)
		if !errors.Is(r.err, context.Canceled) {
			b.logger.Warn("Batch item failed", "path", r.path, "error", out.Err)
		}

	case len(r.faces) != 1:
		out.Status = StatusInvalid
		b.invalid.Add(1)

	default:
		f := r.faces[0]
		out.Status = StatusAccepted
		out.Face = &f
		out.Target = crop.Enlarge(f.Box, b.cfg.EnlargeFactor, r.width, r.height)
		b.accepted.Add(1)
	}
	return out
}

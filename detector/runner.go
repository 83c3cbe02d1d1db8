package detector

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/postprocess"
	"github.com/swdee/yolo-detect/postprocess/result"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"
)

// Runner reads image paths from an input stream, detects objects in each
// image and writes one JSON line per processed image
type Runner struct {
	cfg      Config
	pool     *Pool
	pipeline *Pipeline
	out      io.Writer
	log      *zap.Logger
	annotate *Annotator
}

// NewRunner creates a Runner drawing models from the pool.  The pool must
// hold a model for each configured worker.
func NewRunner(cfg Config, pool *Pool, pipeline *Pipeline, out io.Writer,
	log *zap.Logger) (*Runner, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if pool.Size() < cfg.Workers {
		return nil, errors.Wrapf(ErrInvalidConfig, "pool holds %d models for %d workers",
			pool.Size(), cfg.Workers)
	}

	return &Runner{
		cfg:      cfg,
		pool:     pool,
		pipeline: pipeline,
		out:      out,
		log:      log,
		annotate: NewAnnotator(cfg, log),
	}, nil
}

// job is one image path read from the input, done receives its outcome
type job struct {
	seq  int
	path string
	done chan outcome
}

// outcome of processing an image, ok is false when the image was skipped
type outcome struct {
	res result.ImageResult
	img gocv.Mat
	ok  bool
}

// Run processes paths from in until end of input or until ctx is cancelled.
// Images that can not be read or decoded are logged and skipped, only
// output write failures end the run with an error.
func (r *Runner) Run(ctx context.Context, in io.Reader) error {

	defer r.annotate.Close()

	lines := readLines(ctx, in)

	if r.cfg.Workers == 1 {
		return r.runSequential(ctx, lines)
	}

	return r.runParallel(ctx, lines)
}

// runSequential reads, infers and emits one image at a time
func (r *Runner) runSequential(ctx context.Context, lines <-chan string) error {

	model := r.pool.Get()
	defer r.pool.Return(model)

	seq := 0

	for {
		select {
		case <-ctx.Done():
			r.log.Info("Interrupted, stopping")
			return nil

		case path, ok := <-lines:
			if !ok {
				r.log.Info("End of input reached", zap.Int("images", seq))
				return nil
			}

			seq++

			if err := r.emit(r.process(model, seq, path)); err != nil {
				return err
			}
		}
	}
}

// runParallel fans images out to one goroutine per worker and emits results
// in input order
func (r *Runner) runParallel(ctx context.Context, lines <-chan string) error {

	g, gctx := errgroup.WithContext(ctx)

	jobs := make(chan *job, r.cfg.Workers)
	pending := make(chan *job, r.cfg.Workers)

	// jobs taken off a channel but never emitted when the run is cancelled
	var unqueued, unemitted *job

	// reader, pending carries jobs in input order to the emitter
	g.Go(func() error {
		defer close(jobs)
		defer close(pending)

		seq := 0

		for {
			var path string
			var ok bool

			select {
			case <-gctx.Done():
				return nil
			case path, ok = <-lines:
			}

			if !ok {
				r.log.Info("End of input reached", zap.Int("images", seq))
				return nil
			}

			seq++
			j := &job{seq: seq, path: path, done: make(chan outcome, 1)}

			select {
			case jobs <- j:
			case <-gctx.Done():
				return nil
			}

			select {
			case pending <- j:
			case <-gctx.Done():
				unqueued = j
				return nil
			}
		}
	})

	for w := 0; w < r.cfg.Workers; w++ {
		g.Go(func() error {
			model := r.pool.Get()
			defer r.pool.Return(model)

			for j := range jobs {
				j.done <- r.process(model, j.seq, j.path)
			}

			return nil
		})
	}

	// emitter
	g.Go(func() error {
		for j := range pending {
			select {
			case o := <-j.done:
				if err := r.emit(o); err != nil {
					return err
				}
			case <-gctx.Done():
				unemitted = j
				return nil
			}
		}

		return nil
	})

	err := g.Wait()

	r.discard(unqueued, unemitted)

	for j := range pending {
		r.discard(j)
	}

	if ctx.Err() != nil {
		r.log.Info("Interrupted, stopping")
	}

	return err
}

// process runs detection on the image at path
func (r *Runner) process(model Model, seq int, path string) outcome {

	log := r.log.With(zap.Int("seq", seq), zap.String("image", path))

	if _, err := os.Stat(path); err != nil {
		log.Warn("Image not found, skipping", zap.Error(err))
		return outcome{}
	}

	img := gocv.IMRead(path, gocv.IMReadColor)

	if img.Empty() {
		img.Close()
		log.Warn("Image could not be decoded, skipping")
		return outcome{}
	}

	rgbImg := gocv.NewMat()
	defer rgbImg.Close()

	gocv.CvtColor(img, &rgbImg, gocv.ColorBGRToRGB)

	start := time.Now()

	outputs, err := model.Run(rgbImg)

	if err != nil {
		img.Close()
		log.Error("Inference failed, skipping", zap.Error(err))
		return outcome{}
	}

	set, err := r.pipeline.Process(outputs)

	if err != nil {
		img.Close()

		if errors.Is(err, postprocess.ErrShapeMismatch) {
			log.Error("Model output has an unsupported shape, skipping",
				zap.Stringers("outputs", outputs), zap.Error(err))
		} else {
			log.Error("Post processing failed, skipping", zap.Error(err))
		}

		return outcome{}
	}

	res := r.pipeline.Describe(path, set, img.Cols(), img.Rows())

	log.Debug("Image processed",
		zap.Int("kept", len(set)),
		zap.Int("detections", len(res.Detections)),
		zap.Duration("elapsed", time.Since(start)))

	if !r.annotate.Enabled() {
		img.Close()
		return outcome{res: res, ok: true}
	}

	return outcome{res: res, img: img, ok: true}
}

// emit writes the result line followed by any annotation side effects
func (r *Runner) emit(o outcome) error {

	if !o.ok {
		return nil
	}

	err := o.res.Write(r.out)

	if r.annotate.Enabled() {
		r.annotate.Apply(o.res, o.img)
		o.img.Close()
	}

	return err
}

// discard releases the image held by finished jobs that were not emitted
func (r *Runner) discard(jobs ...*job) {

	for _, j := range jobs {
		if j == nil {
			continue
		}

		select {
		case o := <-j.done:
			if o.ok && r.annotate.Enabled() {
				o.img.Close()
			}
		default:
		}
	}
}

// readLines scans in for non blank trimmed lines until end of input or
// cancellation.  The scanner runs in its own goroutine so a blocked read
// does not delay shutdown.
func readLines(ctx context.Context, in io.Reader) <-chan string {

	lines := make(chan string)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			if line == "" {
				continue
			}

			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	return lines
}

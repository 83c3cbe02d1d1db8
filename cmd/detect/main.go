/*
Detect reads image paths from stdin, one per line, runs a YOLO object
detection model on each image and writes one JSON line per image to stdout:

	{"image":"a.jpg","detections":[{"object":"person","box":[12,40,200,380],"probability":0.91}]}

The inference backend is chosen by the model file extension.  Settings may
also be given as DETECT_* environment variables or in a .env file in the
working directory.  Logs are written to stderr.

	find /images -name '*.jpg' | detect --model yolov8n.rknn --workers 3
*/
package main

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/backend"
	"github.com/swdee/yolo-detect/detector"
	"github.com/swdee/yolo-detect/labels"
	"github.com/swdee/yolo-detect/logging"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// envFile is loaded before flags are parsed when it exists
const envFile = ".env"

func main() {

	err := godotenv.Load(envFile)

	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading %s: %v\n", envFile, err)
		os.Exit(1)
	}

	app := newApp(os.Stdin, os.Stdout)

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "detect: %v\n", err)
		os.Exit(1)
	}
}

// newApp returns the cli application reading paths from in and writing
// results to out
func newApp(in io.Reader, out io.Writer) *cli.App {
	return &cli.App{
		Name:      "detect",
		Usage:     "detect objects in images listed on stdin",
		Flags:     appFlags(),
		ErrWriter: os.Stderr,
		Action: func(c *cli.Context) error {

			cfg, err := configFromContext(c)

			if err != nil {
				return err
			}

			log, err := logging.NewLogger(c.String(flagLogLevel))

			if err != nil {
				return err
			}

			defer log.Sync()

			return run(c.Context, cfg, c.Bool(flagModelInfo), in, out, log)
		},
	}
}

// run loads the labels and models then processes stdin until end of input
// or until interrupted.  Models are released on every return path.
func run(ctx context.Context, cfg detector.Config, modelInfo bool,
	in io.Reader, out io.Writer, log *zap.Logger) (err error) {

	catalog := labels.COCO()

	if cfg.LabelsFile != "" {
		catalog, err = labels.Load(cfg.LabelsFile)

		if err != nil {
			return err
		}
	}

	pipeline, err := detector.NewPipeline(cfg, catalog)

	if err != nil {
		return err
	}

	factory, kind, err := backend.NewFactory(cfg)

	if err != nil {
		return err
	}

	log.Info("Loading model",
		zap.String("model", cfg.ModelPath),
		zap.Stringer("backend", kind),
		zap.Int("workers", cfg.Workers),
		zap.Int("classes", catalog.Len()))

	pool, err := detector.NewPool(cfg.Workers, factory)

	if err != nil {
		return errors.Wrapf(err, "error loading model %s", cfg.ModelPath)
	}

	defer func() {
		if closeErr := pool.Close(); closeErr != nil {
			log.Error("Error releasing models", zap.Error(closeErr))
		}
	}()

	if modelInfo {
		logModelInfo(pool, log)
	}

	runner, err := detector.NewRunner(cfg, pool, pipeline, out, log)

	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runner.Run(ctx, in)
}

// querier is implemented by backends that can describe their loaded model
type querier interface {
	Query(w io.Writer) error
}

// logModelInfo writes the tensor information of a pooled model to stderr
func logModelInfo(pool *detector.Pool, log *zap.Logger) {

	model := pool.Get()
	defer pool.Return(model)

	q, ok := model.(querier)

	if !ok {
		log.Info("Backend does not report model information")
		return
	}

	if err := q.Query(os.Stderr); err != nil {
		log.Warn("Error querying model", zap.Error(err))
	}
}

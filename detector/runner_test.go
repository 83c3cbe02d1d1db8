package detector

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/yolo-detect/postprocess"
	"go.uber.org/zap/zapcore"
	"gocv.io/x/gocv"
)

func flatRun(gocv.Mat) ([]postprocess.Tensor, error) {
	return flatOutput(), nil
}

func TestRunnerEmptyInput(t *testing.T) {

	runner, pool, fakes, out, _ := newTestRunner(t, testConfig(1), flatRun)

	err := runner.Run(context.Background(), strings.NewReader(""))

	require.NoError(t, err)
	assert.Zero(t, out.Len(), "expected no output lines")

	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	for _, m := range fakes {
		assert.Equal(t, int32(1), atomic.LoadInt32(&m.closed), "model closed once")
	}
}

func TestRunnerSingleImage(t *testing.T) {

	dir := t.TempDir()
	img := writeImage(t, dir, "a.png", testSize)

	runner, _, _, out, _ := newTestRunner(t, testConfig(1), flatRun)

	err := runner.Run(context.Background(), strings.NewReader("\n  "+img+"  \n\n"))
	require.NoError(t, err)

	results := decodeLines(t, out)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, img, res.Image)
	require.Len(t, res.Detections, 1)

	det := res.Detections[0]
	assert.Equal(t, "motorbike", det.Object)
	assert.Equal(t, [4]int{22, 22, 42, 42}, det.Box)
	assert.InDelta(t, 0.9, det.Probability, 1e-6)
}

func TestRunnerNoDetectionsEmitsEmptyList(t *testing.T) {

	dir := t.TempDir()
	img := writeImage(t, dir, "a.png", testSize)

	runner, _, _, out, _ := newTestRunner(t, testConfig(1), func(gocv.Mat) ([]postprocess.Tensor, error) {
		o := flatOutput()
		o[0].Data[(4+3)*4] = 0.1
		return o, nil
	})

	require.NoError(t, runner.Run(context.Background(), strings.NewReader(img+"\n")))

	assert.Equal(t, fmt.Sprintf(`{"image":%q,"detections":[]}`+"\n", img), out.String())
}

func TestRunnerMissingFile(t *testing.T) {

	dir := t.TempDir()
	img := writeImage(t, dir, "a.png", testSize)
	missing := filepath.Join(dir, "missing.png")

	runner, _, _, out, logs := newTestRunner(t, testConfig(1), flatRun)

	err := runner.Run(context.Background(), strings.NewReader(missing+"\n"+img+"\n"))
	require.NoError(t, err)

	results := decodeLines(t, out)
	require.Len(t, results, 1)
	assert.Equal(t, img, results[0].Image)

	warns := logs.FilterMessage("Image not found, skipping").All()
	require.Len(t, warns, 1)
	assert.Equal(t, zapcore.WarnLevel, warns[0].Level)
	assert.Equal(t, missing, warns[0].ContextMap()["image"])
}

func TestRunnerUndecodableImage(t *testing.T) {

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.png")
	require.NoError(t, writeFile(bad, "not an image"))

	runner, _, _, out, logs := newTestRunner(t, testConfig(1), flatRun)

	require.NoError(t, runner.Run(context.Background(), strings.NewReader(bad+"\n")))

	assert.Zero(t, out.Len())
	assert.Equal(t, 1, logs.FilterMessage("Image could not be decoded, skipping").Len())
}

// TestRunnerShapeMismatchSkip checks an image whose outputs do not decode is
// logged and skipped while the images around it are still processed
func TestRunnerShapeMismatchSkip(t *testing.T) {

	dir := t.TempDir()
	first := writeImage(t, dir, "first.png", testSize)
	narrow := writeImage(t, dir, "narrow.png", testSize/2)
	last := writeImage(t, dir, "last.png", testSize)

	runner, _, _, out, logs := newTestRunner(t, testConfig(1), func(img gocv.Mat) ([]postprocess.Tensor, error) {
		if img.Cols() != testSize {
			return mismatchOutput(), nil
		}
		return flatOutput(), nil
	})

	input := strings.Join([]string{first, narrow, last}, "\n")

	require.NoError(t, runner.Run(context.Background(), strings.NewReader(input)))

	results := decodeLines(t, out)
	require.Len(t, results, 2)
	assert.Equal(t, first, results[0].Image)
	assert.Equal(t, last, results[1].Image)

	errs := logs.FilterMessage("Model output has an unsupported shape, skipping").All()
	require.Len(t, errs, 1)
	assert.Equal(t, zapcore.ErrorLevel, errs[0].Level)
	assert.Equal(t, narrow, errs[0].ContextMap()["image"])
}

func TestRunnerInferenceErrorSkip(t *testing.T) {

	dir := t.TempDir()
	img := writeImage(t, dir, "a.png", testSize)

	runner, _, _, out, logs := newTestRunner(t, testConfig(1), func(gocv.Mat) ([]postprocess.Tensor, error) {
		return nil, errors.New("npu fault")
	})

	require.NoError(t, runner.Run(context.Background(), strings.NewReader(img+"\n"+img+"\n")))

	assert.Zero(t, out.Len())
	assert.Equal(t, 2, logs.FilterMessage("Inference failed, skipping").Len())
}

// TestRunnerOrderedWorkers checks results follow input order when workers
// finish out of order
func TestRunnerOrderedWorkers(t *testing.T) {

	dir := t.TempDir()

	const images = 12
	paths := make([]string, images)

	for i := range paths {
		paths[i] = writeImage(t, dir, fmt.Sprintf("img%02d.png", i), testSize)
	}

	var calls int32

	runner, pool, fakes, out, _ := newTestRunner(t, testConfig(3), func(gocv.Mat) ([]postprocess.Tensor, error) {
		// earlier calls take longer so later images finish first
		n := atomic.AddInt32(&calls, 1)
		time.Sleep(time.Duration(images-n) * 2 * time.Millisecond)
		return flatOutput(), nil
	})

	err := runner.Run(context.Background(), strings.NewReader(strings.Join(paths, "\n")))
	require.NoError(t, err)

	results := decodeLines(t, out)
	require.Len(t, results, images)

	for i, res := range results {
		assert.Equal(t, paths[i], res.Image, "result %d out of order", i)
	}

	require.NoError(t, pool.Close())
	assert.Len(t, fakes, 3)

	for _, m := range fakes {
		assert.Equal(t, int32(1), atomic.LoadInt32(&m.closed))
	}
}

// TestRunnerCancel checks a cancelled context ends the run while input is
// still open
func TestRunnerCancel(t *testing.T) {

	for _, workers := range []int{1, 2} {

		runner, _, _, out, _ := newTestRunner(t, testConfig(workers), flatRun)

		pr, pw := io.Pipe()

		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)

		go func() {
			done <- runner.Run(ctx, pr)
		}()

		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err, "workers=%d", workers)
		case <-time.After(5 * time.Second):
			t.Fatalf("workers=%d: run did not stop after cancel", workers)
		}

		pw.Close()
		assert.Zero(t, out.Len())
	}
}

func TestNewRunnerPoolTooSmall(t *testing.T) {

	cfg := testConfig(1)

	pool, err := NewPool(1, func(int) (Model, error) {
		return &fakeModel{run: flatRun}, nil
	})
	require.NoError(t, err)

	pipeline, err := NewPipeline(cfg, nil)
	assert.Error(t, err, "empty catalog has no classes")
	assert.Nil(t, pipeline)

	cfg.Workers = 2
	_, err = NewRunner(cfg, pool, nil, io.Discard, nil)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

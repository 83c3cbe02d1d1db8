package detector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/swdee/yolo-detect/labels"
	"github.com/swdee/yolo-detect/postprocess"
	"github.com/swdee/yolo-detect/postprocess/result"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gocv.io/x/gocv"
)

// testSize is the width and height of test images and the model input
const testSize = 64

// fakeModel runs a function in place of inference and counts Close calls
type fakeModel struct {
	run    func(img gocv.Mat) ([]postprocess.Tensor, error)
	closed int32
}

func (m *fakeModel) Run(img gocv.Mat) ([]postprocess.Tensor, error) {
	return m.run(img)
}

func (m *fakeModel) Close() error {
	atomic.AddInt32(&m.closed, 1)
	return nil
}

// flatOutput returns a channel major flat tensor over the COCO classes with
// one anchor holding a 20x20 box centred in the image scoring 0.9 for class 3
func flatOutput() []postprocess.Tensor {

	const n = 4
	width := 4 + labels.COCO().Len()

	out := postprocess.NewTensor(make([]float32, width*n), 1, width, n)

	out.Data[0*n] = 32
	out.Data[1*n] = 32
	out.Data[2*n] = 20
	out.Data[3*n] = 20
	out.Data[(4+3)*n] = 0.9

	return []postprocess.Tensor{out}
}

// mismatchOutput returns a tensor no encoding accepts
func mismatchOutput() []postprocess.Tensor {
	return []postprocess.Tensor{postprocess.NewTensor(make([]float32, 40), 1, 10, 4)}
}

func testConfig(workers int) Config {

	cfg := DefaultConfig()
	cfg.ModelPath = "model.onnx"
	cfg.Width = testSize
	cfg.Height = testSize
	cfg.Workers = workers

	return cfg
}

// writeImage writes a black image of the given width to dir
func writeImage(t *testing.T, dir, name string, width int) string {

	t.Helper()

	mat := gocv.NewMatWithSize(testSize, width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	path := filepath.Join(dir, name)
	require.True(t, gocv.IMWrite(path, mat), "writing %s", path)

	return path
}

// newTestRunner builds a Runner over a pool of fake models sharing run
func newTestRunner(t *testing.T, cfg Config,
	run func(img gocv.Mat) ([]postprocess.Tensor, error)) (*Runner, *Pool, []*fakeModel, *bytes.Buffer, *observer.ObservedLogs) {

	t.Helper()

	var mu sync.Mutex
	fakes := make([]*fakeModel, 0, cfg.Workers)

	pool, err := NewPool(cfg.Workers, func(int) (Model, error) {
		m := &fakeModel{run: run}
		mu.Lock()
		fakes = append(fakes, m)
		mu.Unlock()
		return m, nil
	})
	require.NoError(t, err)

	pipeline, err := NewPipeline(cfg, labels.COCO())
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	out := &bytes.Buffer{}

	runner, err := NewRunner(cfg, pool, pipeline, out, zap.New(core))
	require.NoError(t, err)

	return runner, pool, fakes, out, logs
}

// decodeLines parses each JSON output line
func decodeLines(t *testing.T, out *bytes.Buffer) []result.ImageResult {

	t.Helper()

	var results []result.ImageResult

	scanner := bufio.NewScanner(out)

	for scanner.Scan() {
		var res result.ImageResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &res), scanner.Text())
		results = append(results, res)
	}

	return results
}

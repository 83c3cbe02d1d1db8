package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swdee/yolo-detect/backend"
	"github.com/swdee/yolo-detect/detector"
	"github.com/swdee/yolo-detect/postprocess"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

// parseConfig runs the flags over args and returns the resulting config
func parseConfig(t *testing.T, args ...string) (detector.Config, error) {

	t.Helper()

	var cfg detector.Config

	app := &cli.App{
		Name:  "detect",
		Flags: appFlags(),
		Action: func(c *cli.Context) error {
			var err error
			cfg, err = configFromContext(c)
			return err
		},
	}

	err := app.Run(append([]string{"detect"}, args...))

	return cfg, err
}

func TestFlagDefaults(t *testing.T) {

	cfg, err := parseConfig(t, "--model", "yolov8n.rknn")
	require.NoError(t, err)

	expected := detector.DefaultConfig()
	expected.ModelPath = "yolov8n.rknn"

	assert.Equal(t, expected, cfg)
}

func TestFlagValues(t *testing.T) {

	cfg, err := parseConfig(t,
		"-m", "model.onnx",
		"--obj-threshold", "0.5",
		"--nms-threshold", "0.6",
		"--width", "320",
		"--height", "256",
		"--encoding", "flat",
		"--score-activation", "sigmoid",
		"--max-detections", "10",
		"-w", "4",
		"--img-save",
		"--result-dir", "/tmp/out",
	)
	require.NoError(t, err)

	assert.Equal(t, "model.onnx", cfg.ModelPath)
	assert.Equal(t, float32(0.5), cfg.ObjThreshold)
	assert.Equal(t, float32(0.6), cfg.NMSThreshold)
	assert.Equal(t, 320, cfg.Width)
	assert.Equal(t, 256, cfg.Height)
	assert.Equal(t, postprocess.EncodingFlat, cfg.Encoding)
	assert.Equal(t, postprocess.ActivationSigmoid, cfg.ScoreActivation)
	assert.Equal(t, 10, cfg.MaxDetections)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.ImgSave)
	assert.Equal(t, "/tmp/out", cfg.ResultDir)
}

func TestFlagEnvVars(t *testing.T) {

	t.Setenv("DETECT_MODEL", "env.rknn")
	t.Setenv("DETECT_OBJ_THRESHOLD", "0.4")
	t.Setenv("DETECT_QUANTIZED", "true")
	t.Setenv("DETECT_NPU_CORE", "0_1_2")

	cfg, err := parseConfig(t)
	require.NoError(t, err)

	assert.Equal(t, "env.rknn", cfg.ModelPath)
	assert.Equal(t, float32(0.4), cfg.ObjThreshold)
	assert.True(t, cfg.Quantized)
	assert.Equal(t, "0_1_2", cfg.NPUCore)
}

func TestFlagInvalid(t *testing.T) {

	tests := [][]string{
		{"--model", "m.rknn", "--encoding", "anchors"},
		{"--model", "m.rknn", "--score-activation", "relu"},
		{"--model", "m.rknn", "--workers", "0"},
		{"--model", "m.rknn", "--obj-threshold", "1.5"},
	}

	for _, args := range tests {

		_, err := parseConfig(t, args...)

		assert.True(t, errors.Is(err, detector.ErrInvalidConfig), "%v: %v", args, err)
	}
}

func TestFlagModelRequired(t *testing.T) {

	_, err := parseConfig(t)

	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, []string{"DETECT_OBJ_THRESHOLD"}, env(flagObjThreshold))
	assert.Equal(t, []string{"DETECT_ONNX_LIBRARY"}, env(flagONNXLibrary))
}

func TestRunUnsupportedModel(t *testing.T) {

	cfg := detector.DefaultConfig()
	cfg.ModelPath = "model.tflite"

	var out bytes.Buffer

	err := run(context.Background(), cfg, false, strings.NewReader(""), &out, zap.NewNop())

	assert.True(t, errors.Is(err, backend.ErrUnsupportedModel), "got %v", err)
	assert.Zero(t, out.Len())
}

func TestRunMissingLabels(t *testing.T) {

	cfg := detector.DefaultConfig()
	cfg.ModelPath = "model.rknn"
	cfg.LabelsFile = filepath.Join(t.TempDir(), "missing.txt")

	err := run(context.Background(), cfg, false, strings.NewReader(""), &bytes.Buffer{}, zap.NewNop())

	assert.Error(t, err)
}

package main

import (
	"github.com/pkg/errors"
	"github.com/swdee/yolo-detect/detector"
	"github.com/swdee/yolo-detect/postprocess"
	"github.com/urfave/cli/v2"
)

// flag names
const (
	flagModel         = "model"
	flagLabels        = "labels"
	flagObjThreshold  = "obj-threshold"
	flagNMSThreshold  = "nms-threshold"
	flagWidth         = "width"
	flagHeight        = "height"
	flagEncoding      = "encoding"
	flagDFLBins       = "dfl-bins"
	flagActivation    = "score-activation"
	flagMaxDetections = "max-detections"
	flagWorkers       = "workers"
	flagPlatform      = "platform"
	flagNPUCore       = "npu-core"
	flagQuantized     = "quantized"
	flagCPUAffinity   = "cpu-affinity"
	flagONNXLibrary   = "onnx-library"
	flagThreads       = "threads"
	flagImgSave       = "img-save"
	flagImgOverwrite  = "img-overwrite"
	flagImgShow       = "img-show"
	flagResultDir     = "result-dir"
	flagLogLevel      = "log-level"
	flagModelInfo     = "model-info"
)

// envPrefix is prepended to the upper case flag name to form its
// environment variable, eg: DETECT_OBJ_THRESHOLD
const envPrefix = "DETECT_"

func env(name string) []string {

	b := []byte(name)

	for i, ch := range b {
		switch {
		case ch == '-':
			b[i] = '_'
		case ch >= 'a' && ch <= 'z':
			b[i] = ch - 'a' + 'A'
		}
	}

	return []string{envPrefix + string(b)}
}

// appFlags returns the command line flags with defaults from DefaultConfig
func appFlags() []cli.Flag {

	def := detector.DefaultConfig()

	return []cli.Flag{
		&cli.StringFlag{
			Name:     flagModel,
			Aliases:  []string{"m"},
			Usage:    "model `FILE`, .rknn, .onnx or .pt/.torchscript/.t7/.net",
			EnvVars:  env(flagModel),
			Required: true,
		},
		&cli.StringFlag{
			Name:    flagLabels,
			Usage:   "class names `FILE` with one label per line, defaults to the COCO classes",
			EnvVars: env(flagLabels),
		},
		&cli.Float64Flag{
			Name:    flagObjThreshold,
			Usage:   "minimum detection confidence",
			Value:   float64(def.ObjThreshold),
			EnvVars: env(flagObjThreshold),
		},
		&cli.Float64Flag{
			Name:    flagNMSThreshold,
			Usage:   "IoU above which overlapping boxes of a class are suppressed",
			Value:   float64(def.NMSThreshold),
			EnvVars: env(flagNMSThreshold),
		},
		&cli.IntFlag{
			Name:    flagWidth,
			Usage:   "model input width in pixels",
			Value:   def.Width,
			EnvVars: env(flagWidth),
		},
		&cli.IntFlag{
			Name:    flagHeight,
			Usage:   "model input height in pixels",
			Value:   def.Height,
			EnvVars: env(flagHeight),
		},
		&cli.StringFlag{
			Name:    flagEncoding,
			Usage:   "output tensor encoding auto|grid-dfl|flat",
			Value:   def.Encoding.String(),
			EnvVars: env(flagEncoding),
		},
		&cli.IntFlag{
			Name:    flagDFLBins,
			Usage:   "distribution bins per box side of grid outputs",
			Value:   def.DFLBins,
			EnvVars: env(flagDFLBins),
		},
		&cli.StringFlag{
			Name:    flagActivation,
			Usage:   "activation applied to class scores none|sigmoid",
			Value:   def.ScoreActivation.String(),
			EnvVars: env(flagActivation),
		},
		&cli.IntFlag{
			Name:    flagMaxDetections,
			Usage:   "maximum detections per image, 0 is unlimited",
			Value:   def.MaxDetections,
			EnvVars: env(flagMaxDetections),
		},
		&cli.IntFlag{
			Name:    flagWorkers,
			Aliases: []string{"w"},
			Usage:   "number of images processed concurrently",
			Value:   def.Workers,
			EnvVars: env(flagWorkers),
		},
		&cli.StringFlag{
			Name:    flagPlatform,
			Usage:   "Rockchip platform rk3562|rk3566|rk3568|rk3576|rk3582|rk3588",
			Value:   def.Platform,
			EnvVars: env(flagPlatform),
		},
		&cli.StringFlag{
			Name:    flagNPUCore,
			Usage:   "pin all workers to NPU core auto|0|1|2|0_1|0_1_2|skip",
			EnvVars: env(flagNPUCore),
		},
		&cli.BoolFlag{
			Name:    flagQuantized,
			Usage:   "fetch native int8/fp16 NPU outputs and dequantize them in Go",
			EnvVars: env(flagQuantized),
		},
		&cli.StringFlag{
			Name:    flagCPUAffinity,
			Usage:   "pin the process to the platform's fast|slow|all CPU cores",
			EnvVars: env(flagCPUAffinity),
		},
		&cli.StringFlag{
			Name:    flagONNXLibrary,
			Usage:   "onnxruntime shared library `FILE`",
			EnvVars: env(flagONNXLibrary),
		},
		&cli.IntFlag{
			Name:    flagThreads,
			Usage:   "onnxruntime intra op threads, 0 is the runtime default",
			EnvVars: env(flagThreads),
		},
		&cli.BoolFlag{
			Name:    flagImgSave,
			Usage:   "save annotated copies to the result directory",
			EnvVars: env(flagImgSave),
		},
		&cli.BoolFlag{
			Name:    flagImgOverwrite,
			Usage:   "overwrite source images with the annotated copy",
			EnvVars: env(flagImgOverwrite),
		},
		&cli.BoolFlag{
			Name:    flagImgShow,
			Usage:   "show each annotated image and wait for a key press",
			EnvVars: env(flagImgShow),
		},
		&cli.StringFlag{
			Name:    flagResultDir,
			Usage:   "`DIR` annotated copies are saved to",
			Value:   def.ResultDir,
			EnvVars: env(flagResultDir),
		},
		&cli.StringFlag{
			Name:    flagLogLevel,
			Usage:   "log level debug|info|warn|error",
			Value:   "info",
			EnvVars: env(flagLogLevel),
		},
		&cli.BoolFlag{
			Name:  flagModelInfo,
			Usage: "log the model's tensor information at startup when the backend supports it",
		},
	}
}

// configFromContext builds and validates the detector config from the
// parsed flags
func configFromContext(c *cli.Context) (detector.Config, error) {

	encoding, err := postprocess.ParseEncoding(c.String(flagEncoding))

	if err != nil {
		return detector.Config{}, errors.Wrap(detector.ErrInvalidConfig, err.Error())
	}

	activation, err := postprocess.ParseActivation(c.String(flagActivation))

	if err != nil {
		return detector.Config{}, errors.Wrap(detector.ErrInvalidConfig, err.Error())
	}

	cfg := detector.Config{
		ModelPath:       c.String(flagModel),
		LabelsFile:      c.String(flagLabels),
		ObjThreshold:    float32(c.Float64(flagObjThreshold)),
		NMSThreshold:    float32(c.Float64(flagNMSThreshold)),
		Width:           c.Int(flagWidth),
		Height:          c.Int(flagHeight),
		Encoding:        encoding,
		DFLBins:         c.Int(flagDFLBins),
		ScoreActivation: activation,
		MaxDetections:   c.Int(flagMaxDetections),
		Workers:         c.Int(flagWorkers),
		Platform:        c.String(flagPlatform),
		NPUCore:         c.String(flagNPUCore),
		Quantized:       c.Bool(flagQuantized),
		CPUAffinity:     c.String(flagCPUAffinity),
		ONNXLibrary:     c.String(flagONNXLibrary),
		Threads:         c.Int(flagThreads),
		ImgSave:         c.Bool(flagImgSave),
		ImgOverwrite:    c.Bool(flagImgOverwrite),
		ImgShow:         c.Bool(flagImgShow),
		ResultDir:       c.String(flagResultDir),
	}

	if err := cfg.Validate(); err != nil {
		return detector.Config{}, err
	}

	return cfg, nil
}

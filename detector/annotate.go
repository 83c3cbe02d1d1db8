package detector

import (
	"os"
	"path/filepath"

	"github.com/swdee/yolo-detect/postprocess/result"
	"github.com/swdee/yolo-detect/render"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// windowTitle is the title of the window annotated images are shown in
const windowTitle = "full post process result"

// lineThickness of the detection box outlines
const lineThickness = 2

// Annotator draws detections onto images and saves, overwrites or shows the
// annotated copy as configured
type Annotator struct {
	save      bool
	overwrite bool
	show      bool
	resultDir string
	font      render.Font
	window    *gocv.Window
	log       *zap.Logger
}

// NewAnnotator returns an Annotator for the image flags of the config
func NewAnnotator(cfg Config, log *zap.Logger) *Annotator {
	return &Annotator{
		save:      cfg.ImgSave,
		overwrite: cfg.ImgOverwrite,
		show:      cfg.ImgShow,
		resultDir: cfg.ResultDir,
		font:      render.DefaultFont(),
		log:       log,
	}
}

// Enabled reports whether any annotation side effect is configured
func (a *Annotator) Enabled() bool {
	return a.save || a.overwrite || a.show
}

// Apply draws the detections of res on img, the BGR source image, then
// performs the configured side effects.  Failures are logged, they never
// stop detection.
func (a *Annotator) Apply(res result.ImageResult, img gocv.Mat) {

	render.Detections(&img, res.Detections, a.font, lineThickness)

	if a.save {
		a.saveCopy(res.Image, img)
	}

	if a.overwrite {
		if !gocv.IMWrite(res.Image, img) {
			a.log.Warn("Failed to overwrite image", zap.String("image", res.Image))
		}
	}

	if a.show {
		if a.window == nil {
			a.window = gocv.NewWindow(windowTitle)
		}

		a.window.IMShow(img)
		a.window.WaitKey(0)
	}
}

// saveCopy writes the annotated image under the result directory using the
// source file name
func (a *Annotator) saveCopy(path string, img gocv.Mat) {

	err := os.MkdirAll(a.resultDir, 0o755)

	if err != nil {
		a.log.Warn("Failed to create result directory",
			zap.String("dir", a.resultDir), zap.Error(err))
		return
	}

	dst := filepath.Join(a.resultDir, filepath.Base(path))

	if !gocv.IMWrite(dst, img) {
		a.log.Warn("Failed to save annotated image", zap.String("file", dst))
		return
	}

	a.log.Info("Detection result saved", zap.String("file", dst))
}

// Close destroys the display window if one was opened
func (a *Annotator) Close() {

	if a.window != nil {
		a.window.Close()
		a.window = nil
	}
}

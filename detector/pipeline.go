package detector

import (
	"github.com/swdee/yolo-detect/labels"
	"github.com/swdee/yolo-detect/postprocess"
	"github.com/swdee/yolo-detect/postprocess/result"
)

// Pipeline post processes the outputs of one image at a time.  It holds no
// per image state so a worker reuses it across images.
type Pipeline struct {
	decoder *postprocess.Decoder
	catalog labels.Catalog
}

// NewPipeline validates the configuration and builds the decoder for a model
// trained on the classes of the catalog
func NewPipeline(cfg Config, catalog labels.Catalog) (*Pipeline, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := cfg.Params(catalog.Len())

	if err := p.Validate(); err != nil {
		return nil, err
	}

	return &Pipeline{
		decoder: postprocess.NewDecoder(p),
		catalog: catalog,
	}, nil
}

// Process decodes, filters and suppresses the raw outputs of one image
func (p *Pipeline) Process(outputs []postprocess.Tensor) (postprocess.DetectionSet, error) {
	return p.decoder.Run(outputs)
}

// Describe formats the detections of an image width x height pixels in size
// into its JSON result
func (p *Pipeline) Describe(path string, set postprocess.DetectionSet,
	width, height int) result.ImageResult {

	return result.Describe(path, set, p.catalog, width, height)
}

// Catalog returns the class names detections are labelled with
func (p *Pipeline) Catalog() labels.Catalog {
	return p.catalog
}

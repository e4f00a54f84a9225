package integration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/RubachokBoss/proctoring-pipeline/internal/config"
	"github.com/RubachokBoss/proctoring-pipeline/internal/models"
	"github.com/rs/zerolog"
)

// google.rpc.Code INVALID_ARGUMENT
const rpcInvalidArgument = 3

var ErrEmptyVisionResponse = errors.New("vision returned no image response")

var (
	personLabels = map[string]bool{"person": true}
	phoneLabels  = map[string]bool{"mobile phone": true, "cell phone": true, "telephone": true}
)

// ObjectDetector counts persons and phones with Cloud Vision object
// localization.
type ObjectDetector struct {
	client        *vision.ImageAnnotatorClient
	minConfidence float64
	timeout       time.Duration
	logger        zerolog.Logger
}

func NewObjectDetector(ctx context.Context, cfg config.VisionConfig, logger zerolog.Logger) (*ObjectDetector, error) {
	c, err := vision.NewImageAnnotatorClient(ctx, ClientOptionsFromEnv()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &ObjectDetector{
		client:        c,
		minConfidence: cfg.MinConfidence,
		timeout:       cfg.Timeout,
		logger:        logger.With().Str("component", "gcp_vision").Logger(),
	}, nil
}

func (d *ObjectDetector) Close() error {
	return d.client.Close()
}

func (d *ObjectDetector) Detect(ctx context.Context, img []byte) (models.ObjectCounts, error) {
	if err := CheckImage(img); err != nil {
		return models.ObjectCounts{}, err
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: img},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: 50}},
		}},
	}
	resp, err := d.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return models.ObjectCounts{}, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}

	counts, err := countsFromResponse(resp, d.minConfidence)
	if err != nil {
		return models.ObjectCounts{}, err
	}
	d.logger.Debug().
		Int("persons", counts.Persons).
		Int("phones", counts.Phones).
		Msg("Objects localized")
	return counts, nil
}

// countsFromResponse reads the single-image batch reply. A reply without an
// image response is an error, never an empty frame.
func countsFromResponse(resp *visionpb.BatchAnnotateImagesResponse, minConfidence float64) (models.ObjectCounts, error) {
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return models.ObjectCounts{}, ErrEmptyVisionResponse
	}

	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Code != 0 {
		if r0.Error.Code == rpcInvalidArgument {
			return models.ObjectCounts{}, fmt.Errorf("%w: %s", models.ErrInvalidImage, r0.Error.Message)
		}
		return models.ObjectCounts{}, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	return CountObjects(r0.LocalizedObjectAnnotations, minConfidence), nil
}

// CheckImage reports models.ErrInvalidImage when img is not a decodable
// raster image.
func CheckImage(img []byte) error {
	if len(img) == 0 {
		return fmt.Errorf("%w: empty image", models.ErrInvalidImage)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(img)); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidImage, err)
	}
	return nil
}

func CountObjects(objects []*visionpb.LocalizedObjectAnnotation, minConfidence float64) models.ObjectCounts {
	var c models.ObjectCounts
	for _, o := range objects {
		if o == nil || float64(o.Score) < minConfidence {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(o.Name))
		switch {
		case personLabels[name]:
			c.Persons++
		case phoneLabels[name]:
			c.Phones++
		}
	}
	return c
}

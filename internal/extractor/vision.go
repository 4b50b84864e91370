package extractor

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// imageAnnotator is the subset of the Vision client used here.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
	Close() error
}

// VisionOCR detects text with the Google Cloud Vision API.
type VisionOCR struct {
	client imageAnnotator
}

// NewVisionOCR creates a client from a service-account credentials file. An
// empty path is a configuration error.
func NewVisionOCR(ctx context.Context, credentialsFile string) (*VisionOCR, error) {
	if credentialsFile == "" {
		return nil, ErrMissingCredentials
	}
	client, err := vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}
	return &VisionOCR{client: client}, nil
}

// DetectText returns the full text annotation of image, or "" when nothing
// was detected. Permission and billing rejections come back as *BillingError.
func (v *VisionOCR) DetectText(ctx context.Context, image []byte) (string, error) {
	resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: image},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return "", classifyOCRError(err)
	}
	if len(resp.GetResponses()) == 0 {
		return "", nil
	}

	r := resp.GetResponses()[0]
	if e := r.GetError(); e != nil && e.GetMessage() != "" {
		return "", classifyOCRError(status.Error(codes.Code(e.GetCode()), e.GetMessage()))
	}
	annotations := r.GetTextAnnotations()
	if len(annotations) == 0 {
		return "", nil
	}
	// The first annotation spans the whole image.
	return annotations[0].GetDescription(), nil
}

// Close releases the client connection.
func (v *VisionOCR) Close() error {
	return v.client.Close()
}

func classifyOCRError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.PermissionDenied || isBillingMessage(err.Error()) {
		return &BillingError{Err: err}
	}
	return fmt.Errorf("%w: vision: %w", ErrExtraction, err)
}

package face

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// AttributeKind names an optional per-face attribute the service can return.
type AttributeKind string

const (
	AttributeBlur                  AttributeKind = "blur"
	AttributeHeadPose              AttributeKind = "headPose"
	AttributeMask                  AttributeKind = "mask"
	AttributeQualityForRecognition AttributeKind = "qualityForRecognition"
)

var knownAttributes = map[AttributeKind]bool{
	AttributeBlur:                  true,
	AttributeHeadPose:              true,
	AttributeMask:                  true,
	AttributeQualityForRecognition: true,
}

const (
	DefaultDetectionModel   = "detection_03"
	DefaultRecognitionModel = "recognition_04"
)

// DetectOptions selects models and the optional outputs of a detect call.
type DetectOptions struct {
	DetectionModel   string
	RecognitionModel string
	ReturnFaceID     bool
	Attributes       []AttributeKind
	ReturnLandmarks  bool
}

// DefaultDetectOptions requests blur, head pose, mask and recognition
// quality plus landmarks, without persisting a face id.
func DefaultDetectOptions() DetectOptions {
	return DetectOptions{
		DetectionModel:   DefaultDetectionModel,
		RecognitionModel: DefaultRecognitionModel,
		Attributes: []AttributeKind{
			AttributeBlur,
			AttributeHeadPose,
			AttributeMask,
			AttributeQualityForRecognition,
		},
		ReturnLandmarks: true,
	}
}

// ParseAttributes converts configured names into attribute kinds.
func ParseAttributes(names []string) ([]AttributeKind, error) {
	out := make([]AttributeKind, 0, len(names))
	for _, n := range names {
		k := AttributeKind(strings.TrimSpace(n))
		if !knownAttributes[k] {
			return nil, fmt.Errorf("unknown face attribute %q", n)
		}
		out = append(out, k)
	}
	return out, nil
}

// normalize fills empty models and rejects unknown attributes.
func (o DetectOptions) normalize() (DetectOptions, error) {
	if o.DetectionModel == "" {
		o.DetectionModel = DefaultDetectionModel
	}
	if o.RecognitionModel == "" {
		o.RecognitionModel = DefaultRecognitionModel
	}
	for _, a := range o.Attributes {
		if !knownAttributes[a] {
			return o, fmt.Errorf("unknown face attribute %q", a)
		}
	}
	return o, nil
}

func (o DetectOptions) query() string {
	q := url.Values{}
	q.Set("detectionModel", o.DetectionModel)
	q.Set("recognitionModel", o.RecognitionModel)
	q.Set("returnFaceId", strconv.FormatBool(o.ReturnFaceID))
	q.Set("returnFaceLandmarks", strconv.FormatBool(o.ReturnLandmarks))
	if len(o.Attributes) > 0 {
		names := make([]string, len(o.Attributes))
		for i, a := range o.Attributes {
			names[i] = string(a)
		}
		q.Set("returnFaceAttributes", strings.Join(names, ","))
	}
	return q.Encode()
}

package types

import "image"

// FaceBox is a detected face rectangle in source-image pixel coordinates.
type FaceBox struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the box area in pixels.
func (b FaceBox) Area() int {
	return b.Width * b.Height
}

// Point is a landmark position in source-image pixel coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// HeadPose holds head rotation angles in degrees.
type HeadPose struct {
	Yaw   float64 `json:"yaw"`
	Pitch float64 `json:"pitch"`
	Roll  float64 `json:"roll"`
}

// BlurLevel is the coarse blur classification returned by detection.
type BlurLevel string

const (
	BlurLow    BlurLevel = "low"
	BlurMedium BlurLevel = "medium"
	BlurHigh   BlurLevel = "high"
)

// Rank orders blur levels from sharpest (1) to blurriest (3). Unknown levels rank 0.
func (b BlurLevel) Rank() int {
	switch b {
	case BlurLow:
		return 1
	case BlurMedium:
		return 2
	case BlurHigh:
		return 3
	}
	return 0
}

// Blur is the blur measurement of a face.
type Blur struct {
	Level BlurLevel `json:"blurLevel"`
	Value float64   `json:"value"`
}

// Mask describes face-covering detection.
type Mask struct {
	Type                string `json:"type"`
	NoseAndMouthCovered bool   `json:"noseAndMouthCovered"`
}

// QualityLevel is the "quality for recognition" rating.
type QualityLevel string

const (
	QualityLow    QualityLevel = "low"
	QualityMedium QualityLevel = "medium"
	QualityHigh   QualityLevel = "high"
)

// Rank orders quality levels from worst (1) to best (3). Unknown levels rank 0.
func (q QualityLevel) Rank() int {
	switch q {
	case QualityLow:
		return 1
	case QualityMedium:
		return 2
	case QualityHigh:
		return 3
	}
	return 0
}

// FaceAttributes are optional auxiliary measurements attached to a face.
// A nil field means the attribute was not requested or not returned.
type FaceAttributes struct {
	HeadPose              *HeadPose    `json:"headPose,omitempty"`
	Blur                  *Blur        `json:"blur,omitempty"`
	Mask                  *Mask        `json:"mask,omitempty"`
	QualityForRecognition QualityLevel `json:"qualityForRecognition,omitempty"`
}

// DetectedFace is one entry of a detection response.
type DetectedFace struct {
	FaceID     string           `json:"faceId,omitempty"`
	Box        FaceBox          `json:"faceRectangle"`
	Attributes *FaceAttributes  `json:"faceAttributes,omitempty"`
	Landmarks  map[string]Point `json:"faceLandmarks,omitempty"`
}

// Margins expand a face box into a crop region. Top and Bottom are fractions
// of the face height, Left and Right fractions of the face width.
type Margins struct {
	Top    float64 `yaml:"top" json:"top"`
	Bottom float64 `yaml:"bottom" json:"bottom"`
	Left   float64 `yaml:"left" json:"left"`
	Right  float64 `yaml:"right" json:"right"`
}

// CropRegion is a pixel rectangle clamped to the image bounds.
// Invariant: Right >= Left and Bottom >= Top.
type CropRegion struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Width of the region in pixels.
func (r CropRegion) Width() int { return r.Right - r.Left }

// Height of the region in pixels.
func (r CropRegion) Height() int { return r.Bottom - r.Top }

// Empty reports whether the region covers no pixels.
func (r CropRegion) Empty() bool {
	return r.Right <= r.Left || r.Bottom <= r.Top
}

// Rect converts the region to an image.Rectangle.
func (r CropRegion) Rect() image.Rectangle {
	return image.Rect(r.Left, r.Top, r.Right, r.Bottom)
}

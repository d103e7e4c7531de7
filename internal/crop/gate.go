package crop

import (
	"fmt"
	"math"

	"github.com/andresmejia3/portrait/internal/types"
)

// Gate rejects faces whose attributes fall outside configured limits.
// Zero-valued fields disable their check, and an attribute the service did
// not return never causes a rejection.
type Gate struct {
	MinQuality        types.QualityLevel
	MaxBlur           types.BlurLevel
	MaxYaw            float64
	MaxPitch          float64
	MaxRoll           float64
	RejectCoveredFace bool
}

// Check returns one reason per failed limit. An empty result means accepted.
func (g Gate) Check(attrs *types.FaceAttributes) []string {
	if attrs == nil {
		return nil
	}
	var reasons []string

	if g.MinQuality != "" && attrs.QualityForRecognition != "" &&
		attrs.QualityForRecognition.Rank() < g.MinQuality.Rank() {
		reasons = append(reasons, fmt.Sprintf("quality %s below %s", attrs.QualityForRecognition, g.MinQuality))
	}

	if g.MaxBlur != "" && attrs.Blur != nil && attrs.Blur.Level.Rank() > g.MaxBlur.Rank() {
		reasons = append(reasons, fmt.Sprintf("blur %s above %s", attrs.Blur.Level, g.MaxBlur))
	}

	if p := attrs.HeadPose; p != nil {
		if g.MaxYaw > 0 && math.Abs(p.Yaw) > g.MaxYaw {
			reasons = append(reasons, fmt.Sprintf("yaw %.1f exceeds %.1f", p.Yaw, g.MaxYaw))
		}
		if g.MaxPitch > 0 && math.Abs(p.Pitch) > g.MaxPitch {
			reasons = append(reasons, fmt.Sprintf("pitch %.1f exceeds %.1f", p.Pitch, g.MaxPitch))
		}
		if g.MaxRoll > 0 && math.Abs(p.Roll) > g.MaxRoll {
			reasons = append(reasons, fmt.Sprintf("roll %.1f exceeds %.1f", p.Roll, g.MaxRoll))
		}
	}

	if g.RejectCoveredFace && attrs.Mask != nil && attrs.Mask.NoseAndMouthCovered {
		reasons = append(reasons, "nose and mouth covered")
	}

	return reasons
}

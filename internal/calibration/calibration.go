package calibration

import (
	"context"
	"fmt"
	"log"
	"sort"

	"proctord/pkg/interfaces"
)

// Coordinator establishes a personalized head-pose baseline from a short
// burst of frames captured before monitoring begins. It keeps no state
// between bursts, so a failed attempt leaves nothing behind for a retry to
// trip over.
type Coordinator struct {
	detector interfaces.FrameDetector
	minValid int
}

// Result is a successful calibration outcome.
type Result struct {
	// Baseline is the median deviation across qualifying frames.
	Baseline    float64
	ValidFrames int
}

// NewCoordinator creates a calibration coordinator. minValid is the number
// of single-face frames the burst must contain.
func NewCoordinator(detector interfaces.FrameDetector, minValid int) *Coordinator {
	if minValid < 1 {
		minValid = 1
	}
	return &Coordinator{
		detector: detector,
		minValid: minValid,
	}
}

// Calibrate evaluates the burst and computes the baseline. A frame
// qualifies when the detector reports exactly one face; detector failures
// skip the frame rather than failing the burst.
func (c *Coordinator) Calibrate(ctx context.Context, frames [][]byte) (*Result, error) {
	if len(frames) == 0 {
		return nil, ErrEmptyBurst
	}

	var deviations []float64
	for i, frame := range frames {
		result, err := c.detector.EvaluateFrame(ctx, frame)
		if err != nil {
			log.Printf("Calibration frame %d/%d inconclusive: %v", i+1, len(frames), err)
			continue
		}
		if result.FaceCount != 1 {
			continue
		}
		deviations = append(deviations, result.Deviation)
	}

	if len(deviations) < c.minValid {
		return nil, fmt.Errorf("%w: %d qualifying frames, need %d",
			ErrNoFaceDetected, len(deviations), c.minValid)
	}

	return &Result{
		Baseline:    median(deviations),
		ValidFrames: len(deviations),
	}, nil
}

// median is robust against the occasional wild pose estimate in the burst.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

package inventory

import "math"

// VarianceLevel grades how far a counted quantity strays from the expected
// one.
type VarianceLevel string

// Variance levels.
const (
	VarianceOK      VarianceLevel = "OK"
	VarianceWarning VarianceLevel = "WARNING"
	VarianceError   VarianceLevel = "ERROR"
)

// Thresholds configure variance grading and the approval cut-off, all in
// percent of the previous quantity.
type Thresholds struct {
	Warning     float64
	Error       float64
	AutoApprove float64
}

// DefaultThresholds grade at 10/25 percent and auto-approve everything up to
// a 100 percent swing.
func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 10, Error: 25, AutoApprove: 100}
}

// Variance describes the difference between a previous and a new quantity.
type Variance struct {
	Variance int64         `json:"variance"`
	Percent  float64       `json:"variancePercent"`
	Level    VarianceLevel `json:"varianceLevel"`
}

// Classify computes the variance of moving |previous| to |next|. The percent
// base is clamped to 1 so rows with zero expected stock still grade.
func (t Thresholds) Classify(previous, next int64) Variance {
	var variance = next - previous
	var base = previous
	if base < 1 {
		base = 1
	}
	var percent = 100 * float64(variance) / float64(base)

	var level = VarianceError
	if math.Abs(percent) < t.Warning {
		level = VarianceOK
	} else if math.Abs(percent) < t.Error {
		level = VarianceWarning
	}
	return Variance{Variance: variance, Percent: percent, Level: level}
}

// RequiresApproval reports whether |v| exceeds the auto-approval cut-off.
func (t Thresholds) RequiresApproval(v Variance) bool {
	return math.Abs(v.Percent) > t.AutoApprove
}

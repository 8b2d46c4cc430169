// Package report summarises and renders recorded trajectories.
package report

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/odometry/internal/db"
	"github.com/banshee-data/odometry/internal/motion"
	"github.com/banshee-data/odometry/internal/odometry"
)

// Stats describes a trajectory. Distances are in calibration units and
// angles in degrees.
type Stats struct {
	Poses    int           `json:"poses"`
	Duration time.Duration `json:"duration_ns"`

	PathLength      float64 `json:"path_length"`
	NetDisplacement float64 `json:"net_displacement"`
	TotalRotation   float64 `json:"total_rotation"`
	MeanSpeed       float64 `json:"mean_speed"` // units per second

	MeanStep   float64 `json:"mean_step"`
	StdDevStep float64 `json:"stddev_step"`
	MaxStep    float64 `json:"max_step"`

	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`

	Start odometry.Pose `json:"start"`
	End   odometry.Pose `json:"end"`
}

// Summarize computes Stats over recs, which must be in sequence order.
func Summarize(recs []db.PoseRecord) Stats {
	var s Stats
	s.Poses = len(recs)
	if len(recs) == 0 {
		return s
	}

	xs := make([]float64, len(recs))
	ys := make([]float64, len(recs))
	for i, r := range recs {
		xs[i], ys[i] = r.Pose.X, r.Pose.Y
	}
	s.MinX, s.MaxX = floats.Min(xs), floats.Max(xs)
	s.MinY, s.MaxY = floats.Min(ys), floats.Max(ys)

	first, last := recs[0], recs[len(recs)-1]
	s.Start, s.End = first.Pose, last.Pose
	s.Duration = last.Recorded.Sub(first.Recorded)
	s.NetDisplacement = math.Hypot(last.Pose.X-first.Pose.X, last.Pose.Y-first.Pose.Y)
	if len(recs) < 2 {
		return s
	}

	steps := make([]float64, len(recs)-1)
	turns := make([]float64, len(recs)-1)
	for i := 1; i < len(recs); i++ {
		a, b := recs[i-1].Pose, recs[i].Pose
		steps[i-1] = math.Hypot(b.X-a.X, b.Y-a.Y)
		turns[i-1] = math.Abs(motion.AngleError(b.Heading, a.Heading))
	}
	s.PathLength = floats.Sum(steps)
	s.TotalRotation = floats.Sum(turns)
	s.MaxStep = floats.Max(steps)
	s.MeanStep = stat.Mean(steps, nil)
	if len(steps) > 1 {
		s.StdDevStep = stat.StdDev(steps, nil)
	}
	if secs := s.Duration.Seconds(); secs > 0 {
		s.MeanSpeed = s.PathLength / secs
	}
	return s
}

// Drift compares an estimated trajectory with ground truth sampled at the
// same instants and returns the RMS and worst position error.
func Drift(estimated, truth []odometry.Pose) (rms, worst float64) {
	n := len(estimated)
	if len(truth) < n {
		n = len(truth)
	}
	if n == 0 {
		return 0, 0
	}
	sq := make([]float64, n)
	for i := 0; i < n; i++ {
		d := math.Hypot(estimated[i].X-truth[i].X, estimated[i].Y-truth[i].Y)
		sq[i] = d * d
	}
	return math.Sqrt(stat.Mean(sq, nil)), math.Sqrt(floats.Max(sq))
}

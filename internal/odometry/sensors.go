package odometry

// DisplacementSource reports a tracking wheel's cumulative angular position
// in degrees. Rotation sensors and quadrature encoders both satisfy it.
type DisplacementSource interface {
	PositionDegrees() (float64, error)
}

// HeadingSensor is the inertial sensor contract. Heading is the absolute
// compass heading in [0, 360); Rotation is the unwrapped cumulative rotation.
// Both grow clockwise.
type HeadingSensor interface {
	Heading() (float64, error)
	Rotation() (float64, error)
	SetHeading(deg float64) error
	SetRotation(deg float64) error
}

// SnapshotSource delivers both wheel positions and the cumulative rotation,
// all in degrees, from a single sensor reading.
type SnapshotSource interface {
	Snapshot() (vertical, horizontal, rotation float64, err error)
}

// DisplacementFunc adapts a plain function to DisplacementSource.
type DisplacementFunc func() (float64, error)

// PositionDegrees calls f.
func (f DisplacementFunc) PositionDegrees() (float64, error) {
	return f()
}

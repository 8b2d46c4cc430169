// Package odometry estimates a robot's planar pose from two perpendicular
// tracking wheels and an inertial heading sensor.
//
// Integrator holds the per-tick arc math: wheel travel over a heading change
// is treated as a circular arc, converted to its chord and rotated into the
// field frame using the heading at the middle of the tick. Tracker owns the
// fixed-period sampling loop around it and the shared Pose.
//
// Conventions: headings grow clockwise (compass style, as reported by the
// inertial sensor), the vertical wheel measures forward travel and the
// horizontal wheel sideways travel. Field X and Y share the linear unit of
// the calibration's units-per-degree constants.
package odometry

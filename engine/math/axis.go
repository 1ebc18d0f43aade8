package math

import (
	"github.com/pkg/errors"
)

// Engine basis used when converting authored scenes. Sources are taken as
// right-handed Z-up exports and relabeled to the engine's right/up/forward.
// Y-up sources (plain glTF) need a root pitch offset to stand upright.
var (
	AxisRight   = Vec3{1, 0, 0}
	AxisUp      = Vec3{0, 1, 0}
	AxisForward = Vec3{0, 0, 1}
)

// ErrTripletLength is returned when a flattened vector slice is not made of
// whole (x, y, z) triplets.
var ErrTripletLength = errors.New("vector data length is not a multiple of 3")

/**
 * @brief Converts an authored vector into the engine basis:
 * (x, y, z) becomes (-x*scale, z*scale, y*scale).
 * The conversion is not its own inverse; use InvertVector to go back.
 */
func ConvertVector(v Vec3, scale float32) Vec3 {
	return Vec3{
		X: -v.X * scale,
		Y: v.Z * scale,
		Z: v.Y * scale,
	}
}

/**
 * @brief Undoes ConvertVector: (x, y, z) becomes (-x/scale, z/scale, y/scale).
 * A zero scale is treated as 1.
 */
func InvertVector(v Vec3, scale float32) Vec3 {
	if scale == 0 {
		scale = 1
	}
	return Vec3{
		X: -v.X / scale,
		Y: v.Z / scale,
		Z: v.Y / scale,
	}
}

// ConvertFloat32s converts flattened triplets in place.
func ConvertFloat32s(values []float32, scale float32) error {
	if len(values)%3 != 0 {
		return errors.Wrapf(ErrTripletLength, "got %d values", len(values))
	}
	for i := 0; i < len(values); i += 3 {
		x, y, z := values[i], values[i+1], values[i+2]
		values[i] = -x * scale
		values[i+1] = z * scale
		values[i+2] = y * scale
	}
	return nil
}

// ConvertFloat64s is ConvertFloat32s for double precision buffers.
func ConvertFloat64s(values []float64, scale float64) error {
	if len(values)%3 != 0 {
		return errors.Wrapf(ErrTripletLength, "got %d values", len(values))
	}
	for i := 0; i < len(values); i += 3 {
		x, y, z := values[i], values[i+1], values[i+2]
		values[i] = -x * scale
		values[i+1] = z * scale
		values[i+2] = y * scale
	}
	return nil
}

/**
 * @brief Converts an authored Euler rotation into an engine quaternion.
 *
 * The result is composed, in this exact order, of a pitchOffset rotation about
 * right, -roll about forward, -yaw about up and -pitch about negative right.
 * Changing the order breaks skeletal and animation data.
 *
 * @param euler Pitch (X), yaw (Y) and roll (Z) in degrees.
 * @param pitchOffset Extra pitch in degrees applied first, usually 0 or -90.
 * @return A normalized quaternion.
 */
func ConvertRotation(euler Vec3, pitchOffset float32) Quaternion {
	pitch := DegToRad(euler.X)
	yaw := DegToRad(euler.Y)
	roll := DegToRad(euler.Z)

	negRight := AxisRight.MulScalar(-1)

	q := NewQuatFromAxisAngle(AxisRight, DegToRad(pitchOffset), true)
	q = q.Mul(NewQuatFromAxisAngle(AxisForward, -roll, true))
	q = q.Mul(NewQuatFromAxisAngle(AxisUp, -yaw, true))
	q = q.Mul(NewQuatFromAxisAngle(negRight, -pitch, true))
	return q.Normalize()
}

/**
 * @brief Returns the Euler angles (degrees) of q: X rotation about x, Y about y,
 * Z about z, extracted in Z-Y-X order.
 */
func QuaternionToEuler(q Quaternion) Vec3 {
	n := q.Normalize()

	sinrCosp := 2 * (n.W*n.X + n.Y*n.Z)
	cosrCosp := 1 - 2*(n.X*n.X+n.Y*n.Y)
	x := katan2(sinrCosp, cosrCosp)

	sinp := Clamp(2*(n.W*n.Y-n.Z*n.X), -1, 1)
	y := kasin(sinp)

	sinyCosp := 2 * (n.W*n.Z + n.X*n.Y)
	cosyCosp := 1 - 2*(n.Y*n.Y+n.Z*n.Z)
	z := katan2(sinyCosp, cosyCosp)

	return Vec3{RadToDeg(x), RadToDeg(y), RadToDeg(z)}
}

package core

import (
	"math"

	voxtrace "github.com/gekko3d/voxtrace"

	"github.com/go-gl/mathgl/mgl32"
)

// Matrices with |det| below this are treated as singular.
const singularDeterminant = 1e-6

type Transform struct {
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Scale    mgl32.Vec3
}

func NewTransform() *Transform {
	return &Transform{
		Position: mgl32.Vec3{0, 0, 0},
		Rotation: mgl32.QuatIdent(),
		Scale:    mgl32.Vec3{1, 1, 1},
	}
}

// NewTransformEuler builds a transform from a position, XYZ rotation in degrees and scale.
func NewTransformEuler(position, rotationDeg, scale mgl32.Vec3) *Transform {
	rot := mgl32.AnglesToQuat(
		mgl32.DegToRad(rotationDeg.X()),
		mgl32.DegToRad(rotationDeg.Y()),
		mgl32.DegToRad(rotationDeg.Z()),
		mgl32.XYZ,
	)
	return &Transform{Position: position, Rotation: rot, Scale: scale}
}

func (t *Transform) ObjectToWorld() mgl32.Mat4 {
	// M = T * R * S
	translate := mgl32.Translate3D(t.Position.X(), t.Position.Y(), t.Position.Z())
	rotate := t.Rotation.Mat4()
	scale := mgl32.Scale3D(t.Scale.X(), t.Scale.Y(), t.Scale.Z())

	return translate.Mul4(rotate).Mul4(scale)
}

// InvertMatrix returns the inverse of m. Singular or near-singular matrices yield the
// identity and a warning instead of NaNs.
func InvertMatrix(m mgl32.Mat4, logger voxtrace.Logger) mgl32.Mat4 {
	det := m.Det()
	if math.Abs(float64(det)) < singularDeterminant {
		voxtrace.OrNop(logger).Warnf("matrix is singular (det=%g), using identity", det)
		return mgl32.Ident4()
	}
	return m.Inv()
}

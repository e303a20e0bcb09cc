package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Z-up yaw/pitch camera used to generate preview primary rays.
type CameraState struct {
	Position mgl32.Vec3
	Yaw      float32
	Pitch    float32
	FovY     float32 // radians
}

func NewCameraState() *CameraState {
	return &CameraState{
		Position: mgl32.Vec3{0, 2, 20},
		Yaw:      0,
		Pitch:    0,
		FovY:     mgl32.DegToRad(60),
	}
}

func (c *CameraState) GetForward() mgl32.Vec3 {
	// Z-up: Forward in XY plane, Z for pitch
	return mgl32.Vec3{
		float32(math.Cos(float64(c.Pitch)) * math.Sin(float64(c.Yaw))),
		float32(-math.Cos(float64(c.Pitch)) * math.Cos(float64(c.Yaw))),
		float32(math.Sin(float64(c.Pitch))),
	}
}

func (c *CameraState) GetRight() mgl32.Vec3 {
	// Z-up: Right in XY plane
	return mgl32.Vec3{
		float32(-math.Cos(float64(c.Yaw))),
		float32(-math.Sin(float64(c.Yaw))),
		0,
	}
}

func (c *CameraState) GetUp() mgl32.Vec3 {
	return c.GetRight().Cross(c.GetForward())
}

func (c *CameraState) GetViewMatrix() mgl32.Mat4 {
	forward := c.GetForward()
	eye := c.Position
	target := eye.Add(forward)
	up := mgl32.Vec3{0, 0, 1} // Z-up
	return mgl32.LookAtV(eye, target, up)
}

// LookAt points the camera at target by setting yaw and pitch.
func (c *CameraState) LookAt(target mgl32.Vec3) {
	d := target.Sub(c.Position)
	if d.Len() == 0 {
		return
	}
	d = d.Normalize()
	c.Pitch = float32(math.Asin(float64(mgl32.Clamp(d.Z(), -1, 1))))
	c.Yaw = float32(math.Atan2(float64(d.X()), float64(-d.Y())))
}

// PrimaryRay returns the normalized direction through screen point (u, v), both in
// [-1, 1] with v pointing up. The origin is the camera position.
func (c *CameraState) PrimaryRay(u, v, aspect float32) (mgl32.Vec3, mgl32.Vec3) {
	h := float32(math.Tan(float64(c.FovY) * 0.5))
	dir := c.GetForward().
		Add(c.GetRight().Mul(u * h * aspect)).
		Add(c.GetUp().Mul(v * h))
	return c.Position, dir.Normalize()
}

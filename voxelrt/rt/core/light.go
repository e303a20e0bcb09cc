package core

import "github.com/go-gl/mathgl/mgl32"

// Light is the directional light used by the CPU preview.
type Light struct {
	Direction mgl32.Vec3 // towards the light
	Color     mgl32.Vec3
	Ambient   float32
}

func DefaultLight() Light {
	return Light{
		Direction: mgl32.Vec3{0.4, 0.3, 0.85}.Normalize(),
		Color:     mgl32.Vec3{1, 1, 1},
		Ambient:   0.2,
	}
}

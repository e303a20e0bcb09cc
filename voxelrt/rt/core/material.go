package core

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/lucasb-eyer/go-colorful"
)

// Material describes a surface. Channels are expected in [0,1]; EmissionStrength is an
// unbounded non-negative multiplier on Emission.
type Material struct {
	Color            mgl32.Vec3
	Roughness        float32
	Metalness        float32
	Emission         mgl32.Vec3
	EmissionStrength float32
}

func NewMaterial(color mgl32.Vec3) Material {
	return Material{
		Color:     color,
		Roughness: 1.0,
		Metalness: 0.0,
	}
}

// Helper for default white
func DefaultMaterial() Material {
	return NewMaterial(mgl32.Vec3{1, 1, 1})
}

// Clamped returns m with channels clamped to [0,1] and a non-negative emission strength.
func (m Material) Clamped() Material {
	for i := 0; i < 3; i++ {
		m.Color[i] = mgl32.Clamp(m.Color[i], 0, 1)
		m.Emission[i] = mgl32.Clamp(m.Emission[i], 0, 1)
	}
	m.Roughness = mgl32.Clamp(m.Roughness, 0, 1)
	m.Metalness = mgl32.Clamp(m.Metalness, 0, 1)
	m.EmissionStrength = max(m.EmissionStrength, 0)
	return m
}

// Radiance is Emission scaled by EmissionStrength.
func (m Material) Radiance() mgl32.Vec3 {
	return m.Emission.Mul(m.EmissionStrength)
}

// ParseColor decodes a "#rrggbb" (or "#rgb") string into linear-ish [0,1] channels.
func ParseColor(hex string) (mgl32.Vec3, error) {
	c, err := colorful.Hex(hex)
	if err != nil {
		return mgl32.Vec3{}, fmt.Errorf("invalid color %q: %w", hex, err)
	}
	c = c.Clamped()
	return mgl32.Vec3{float32(c.R), float32(c.G), float32(c.B)}, nil
}

package bvh

import (
	voxtrace "github.com/gekko3d/voxtrace"
)

// DefaultMaxLOD is the LOD assigned to a BLAS root. It bounds octree depth.
const DefaultMaxLOD uint32 = 16

type buildConfig struct {
	maxLOD uint32
	logger voxtrace.Logger
}

// Option configures BLAS and TLAS construction.
type Option func(*buildConfig)

// WithMaxLOD sets the LOD of the BLAS root; subdivision stops when it reaches 0.
func WithMaxLOD(lod uint32) Option {
	return func(c *buildConfig) {
		c.maxLOD = lod
	}
}

func WithLogger(l voxtrace.Logger) Option {
	return func(c *buildConfig) {
		c.logger = l
	}
}

func newBuildConfig(opts []Option) buildConfig {
	c := buildConfig{maxLOD: DefaultMaxLOD}
	for _, o := range opts {
		o(&c)
	}
	c.logger = voxtrace.OrNop(c.logger)
	return c
}

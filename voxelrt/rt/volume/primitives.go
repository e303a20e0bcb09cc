package volume

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Single returns one voxel; handy for probes and tests.
func Single(center mgl32.Vec3, size float32, materialIdx uint32) []Voxel {
	return []Voxel{NewVoxel(center, size, materialIdx, 0, FullOccupancy)}
}

// Sphere fills a sphere of the given radius with voxels of edge voxelSize. Cells are
// kept when their centre lies inside the sphere.
func Sphere(center mgl32.Vec3, radius, voxelSize float32, materialIdx uint32) []Voxel {
	if radius <= 0 || voxelSize <= 0 {
		return nil
	}
	r2 := radius * radius
	n := int(math.Ceil(float64(radius / voxelSize)))

	var out []Voxel
	for x := -n; x < n; x++ {
		for y := -n; y < n; y++ {
			for z := -n; z < n; z++ {
				dx := (float32(x) + 0.5) * voxelSize
				dy := (float32(y) + 0.5) * voxelSize
				dz := (float32(z) + 0.5) * voxelSize
				if dx*dx+dy*dy+dz*dz <= r2 {
					pos := center.Add(mgl32.Vec3{dx, dy, dz})
					out = append(out, NewVoxel(pos, voxelSize, materialIdx, 0, FullOccupancy))
				}
			}
		}
	}
	return out
}

// Cube fills the box [minB, maxB) with voxels of edge voxelSize.
func Cube(minB, maxB mgl32.Vec3, voxelSize float32, materialIdx uint32) []Voxel {
	if voxelSize <= 0 {
		return nil
	}
	var counts [3]int
	for i := 0; i < 3; i++ {
		counts[i] = int(math.Ceil(float64((maxB[i] - minB[i]) / voxelSize)))
		if counts[i] <= 0 {
			return nil
		}
	}

	out := make([]Voxel, 0, counts[0]*counts[1]*counts[2])
	for x := 0; x < counts[0]; x++ {
		for y := 0; y < counts[1]; y++ {
			for z := 0; z < counts[2]; z++ {
				pos := mgl32.Vec3{
					minB.X() + (float32(x)+0.5)*voxelSize,
					minB.Y() + (float32(y)+0.5)*voxelSize,
					minB.Z() + (float32(z)+0.5)*voxelSize,
				}
				out = append(out, NewVoxel(pos, voxelSize, materialIdx, 0, FullOccupancy))
			}
		}
	}
	return out
}

// Bounds returns the box enclosing every voxel, or EmptyAABB for an empty list.
func Bounds(voxels []Voxel) AABB {
	b := EmptyAABB()
	for i := range voxels {
		b.ExpandByAABB(voxels[i].Bounds())
	}
	return b
}

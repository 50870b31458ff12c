package mathutil

import "math"

// Vec3 is a value-type vector so the shading loop never allocates.
type Vec3 [3]float64

func (v Vec3) Scale(s float64) Vec3 {
	return Vec3{v[0] * s, v[1] * s, v[2] * s}
}

func (a Vec3) Dot(b Vec3) float64 {
	return a[0]*b[0] + a[1]*b[1] + a[2]*b[2]
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l < 1e-12 {
		return Vec3{}
	}
	return Vec3{v[0] / l, v[1] / l, v[2] / l}
}

// Reflect mirrors the incident vector i about the unit normal n: i - 2·dot(n,i)·n.
func Reflect(i, n Vec3) Vec3 {
	d := 2 * n.Dot(i)
	return Vec3{i[0] - d*n[0], i[1] - d*n[1], i[2] - d*n[2]}
}

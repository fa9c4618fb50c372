package main

import "math"

// CheckCollision checks if two circles on the ground plane overlap
func CheckCollision(a Vec3, ra float64, b Vec3, rb float64) bool {
	dx := b.X - a.X
	dz := b.Z - a.Z
	dist2 := dx*dx + dz*dz
	radSum := ra + rb
	return dist2 <= radSum*radSum
}

// SweptHit reports whether a point moving from -> to passes within r of center
func SweptHit(from, to, center Vec3, r float64) bool {
	if from == to {
		return CheckCollision(from, 0, center, r)
	}
	return segmentCircleIntersect(from.X, from.Z, to.X, to.Z, center.X, center.Z, r)
}

// segmentCircleIntersect checks if a line segment (x1,y1)-(x2,y2) intersects a circle at (cx,cy) with radius r.
func segmentCircleIntersect(x1, y1, x2, y2, cx, cy, r float64) bool {
	dx := x2 - x1
	dy := y2 - y1
	fx := x1 - cx
	fy := y1 - cy
	a := dx*dx + dy*dy
	b := 2 * (fx*dx + fy*dy)
	c := fx*fx + fy*fy - r*r
	discriminant := b*b - 4*a*c
	if discriminant < 0 {
		return false
	}
	discriminant = math.Sqrt(discriminant)
	t1 := (-b - discriminant) / (2 * a)
	t2 := (-b + discriminant) / (2 * a)
	return (t1 >= 0 && t1 <= 1) || (t2 >= 0 && t2 <= 1) || (t1 <= 0 && t2 >= 1)
}

package vlam

// ProjectPoint projects a 3D point already expressed in the camera frame
// through a pinhole-with-Brown-Conrady-distortion model into pixel
// coordinates, using the same (k1,k2,p1,p2,k3) convention gocv.SolvePnP's
// distCoeffs already expects. Kept as plain float64 math —
// rather than round-tripping through gocv.Mat — so the factor graph's
// per-residual finite-difference Jacobian never crosses the cgo boundary.
func ProjectPoint(pCamera [3]float64, cam CameraInfo) Point2 {
	x := pCamera[0] / pCamera[2]
	y := pCamera[1] / pCamera[2]

	r2 := x*x + y*y
	r4 := r2 * r2
	r6 := r4 * r2
	radial := 1 + cam.K1*r2 + cam.K2*r4 + cam.K3*r6

	xd := x*radial + 2*cam.P1*x*y + cam.P2*(r2+2*x*x)
	yd := y*radial + cam.P1*(r2+2*y*y) + 2*cam.P2*x*y

	return Point2{
		X: cam.Fx*xd + cam.Cx,
		Y: cam.Fy*yd + cam.Cy,
	}
}

// Project projects a 3D point pWorld, expressed in the frame tCameraWorld
// maps into the camera frame, into pixel coordinates: the standard
// `project(P; pose, intrinsics)` the resectioning factor minimizes against.
func Project(pWorld [3]float64, tCameraWorld Transform3, cam CameraInfo) Point2 {
	return ProjectPoint(tCameraWorld.Apply(pWorld), cam)
}

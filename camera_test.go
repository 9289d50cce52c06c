package vlam

import "testing"

func TestProjectPointNoDistortion(t *testing.T) {
	cam := CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
	p := ProjectPoint([3]float64{0, 0, 1}, cam)
	almostEqual(t, p.X, 320, 1e-9, "principal point projects to cx")
	almostEqual(t, p.Y, 240, 1e-9, "principal point projects to cy")
}

func TestProjectKnownCorner(t *testing.T) {
	// fx=fy=600, cx=320, cy=240, no distortion. A point at
	// (-0.1,-0.1,1) in the camera frame should project to (260,180).
	cam := CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
	p := ProjectPoint([3]float64{-0.1, -0.1, 1}, cam)
	almostEqual(t, p.X, 260, 1e-6, "corner x")
	almostEqual(t, p.Y, 180, 1e-6, "corner y")
}

func TestProjectThroughPoseMatchesManualApply(t *testing.T) {
	cam := CameraInfo{Fx: 600, Fy: 600, Cx: 320, Cy: 240}
	tCameraWorld := Transform3{R: RotationFromRPY(0.1, -0.2, 0.3), T: matFromArray3x1([3]float64{0, 0, 1})}
	pWorld := [3]float64{-0.05, 0.05, 0}

	got := Project(pWorld, tCameraWorld, cam)
	want := ProjectPoint(tCameraWorld.Apply(pWorld), cam)

	almostEqual(t, got.X, want.X, 1e-12, "Project should match Apply+ProjectPoint")
	almostEqual(t, got.Y, want.Y, 1e-12, "Project should match Apply+ProjectPoint")
}

package vlam

import (
	"log"
	"math"

	"gocv.io/x/gocv"
)

// mirrorGuardMinCorners/MaxCorners bound the "mirror-solution guard" band:
// 2 or 3 known markers (4 < N < 16 corners), the regime where iterative PnP
// is prone to returning the mirror of the correct pose.
const (
	mirrorGuardMinCorners = 4
	mirrorGuardMaxCorners = 16

	// mirrorGuardRotationThreshold is the per-component rotation-vector
	// disagreement (radians) above which the RANSAC solve replaces the
	// primary iterative solve.
	mirrorGuardRotationThreshold = 0.5
)

// solvePnPFlagIterative is cv::SOLVEPNP_ITERATIVE; gocv takes the flag as a
// plain int.
const solvePnPFlagIterative = 0

// ransacReprojThreshold is the inlier gate in pixels, matching
// cv::solvePnPRansac's default reprojectionError.
const ransacReprojThreshold = 8.0

// GeometricSolver is the closed-form PnP-backed Backend, implemented on top
// of gocv's calib3d bindings (SolvePnP / Rodrigues) rather than a hand-rolled
// reprojection-error minimizer — OpenCV's PnP solvers are the well-tested
// reference implementation this problem already has.
type GeometricSolver struct{}

// SolveTCameraMarker solves single-marker PnP: the four canonical marker
// corners at side length paired with the observed image corners. Returns the
// transform mapping marker-frame points to camera-frame points, with zero
// covariance, or an invalid TWC if PnP reports no solution.
func (GeometricSolver) SolveTCameraMarker(obs Observation, length float64, cam CameraInfo) TWC {
	objectPoints := ObjectCorners(length)
	return solvePnPImpl(objectPoints[:], obs.Corners[:], cam)
}

// SolveTMapCamera solves multi-marker localization: every observation whose
// marker is known contributes its four marker-frame corners, transformed
// into the map frame, paired with the observed image corners. Returns the
// map-from-camera pose (the inverse of the solved camera-from-map pose), or
// an invalid TWC if no observed marker is known.
func (g GeometricSolver) SolveTMapCamera(obsList Observations, m *Map) TWC {
	tMapMarkers := m.FindTMapMarkers(obsList)

	var objectPoints [][3]float64
	var imagePoints []Point2
	for i, t := range tMapMarkers {
		if !t.IsValid() {
			continue
		}
		obj := ObjectCorners(m.MarkerLength())
		for _, p := range obj {
			objectPoints = append(objectPoints, Apply(t, p))
		}
		imagePoints = append(imagePoints, obsList.Items[i].Corners[:]...)
	}

	if len(objectPoints) == 0 {
		return InvalidTWC()
	}

	tCameraMap := solvePnPImpl(objectPoints, imagePoints, obsList.Camera)
	if len(objectPoints) > mirrorGuardMinCorners && len(objectPoints) < mirrorGuardMaxCorners {
		tCameraMap = applyMirrorGuard(tCameraMap, objectPoints, imagePoints, obsList.Camera)
	}

	if !tCameraMap.IsValid() {
		return InvalidTWC()
	}
	return Inverse(tCameraMap)
}

// UpdateMap is the Backend map-update path without an optimization pass: for
// each observation, solve t_camera_marker and compose
// t_map_marker = t_map_camera * t_camera_marker, then either average into an
// existing marker or insert a new one. Fixed markers are never touched.
func (g GeometricSolver) UpdateMap(tMapCamera TWC, obsList Observations, m *Map) {
	if !tMapCamera.IsValid() {
		return
	}
	for _, obs := range obsList.Items {
		tCameraMarker := g.SolveTCameraMarker(obs, m.MarkerLength(), obsList.Camera)
		if !tCameraMarker.IsValid() {
			continue
		}
		tMapMarker := Compose(tMapCamera, tCameraMarker)
		if !tMapMarker.IsValid() {
			continue
		}

		if marker, ok := m.Find(obs.ID); ok {
			if marker.IsFixed {
				continue
			}
			marker.updateAverage(tMapMarker)
			continue
		}

		_ = m.Insert(NewMarker(obs.ID, tMapMarker))
	}
}

// applyMirrorGuard re-solves with RANSAC PnP and, if any rotation-vector
// component disagrees with the primary solve by more than
// mirrorGuardRotationThreshold radians, returns the RANSAC solution instead.
// Iterative PnP smooths noise better when it lands on the right solution;
// RANSAC disambiguates better when it doesn't.
func applyMirrorGuard(primary TWC, objectPoints [][3]float64, imagePoints []Point2, cam CameraInfo) TWC {
	ransac := solvePnPRansacImpl(objectPoints, imagePoints, cam)
	if !ransac.IsValid() {
		return primary
	}
	if !primary.IsValid() {
		return ransac
	}

	primaryRvec := AxisAngleFromRotation(primary.Transform().R)
	ransacRvec := AxisAngleFromRotation(ransac.Transform().R)
	for i := 0; i < 3; i++ {
		if math.Abs(primaryRvec[i]-ransacRvec[i]) > mirrorGuardRotationThreshold {
			return ransac
		}
	}
	return primary
}

// point3fVector packs 3D object points into the vector type gocv.SolvePnP
// consumes.
func point3fVector(points [][3]float64) gocv.Point3fVector {
	pts := make([]gocv.Point3f, len(points))
	for i, p := range points {
		pts[i] = gocv.Point3f{X: float32(p[0]), Y: float32(p[1]), Z: float32(p[2])}
	}
	return gocv.NewPoint3fVectorFromPoints(pts)
}

// point2fVector packs 2D image points into the vector type gocv.SolvePnP
// consumes.
func point2fVector(points []Point2) gocv.Point2fVector {
	pts := make([]gocv.Point2f, len(points))
	for i, p := range points {
		pts[i] = gocv.Point2f{X: float32(p.X), Y: float32(p.Y)}
	}
	return gocv.NewPoint2fVectorFromPoints(pts)
}

// cameraMatrixMat builds the 3x3 intrinsic matrix as a gocv CV_64F Mat.
func cameraMatrixMat(cam CameraInfo) gocv.Mat {
	data := []float64{
		cam.Fx, 0, cam.Cx,
		0, cam.Fy, cam.Cy,
		0, 0, 1,
	}
	m, err := gocv.NewMatFromBytes(3, 3, gocv.MatTypeCV64FC1, float64sToBytes(data))
	if err != nil {
		log.Printf("vlam: failed to build camera matrix: %v", err)
		return gocv.NewMat()
	}
	return m
}

// distCoeffsMat builds the 5-element distortion vector as a gocv CV_64F Mat.
func distCoeffsMat(cam CameraInfo) gocv.Mat {
	data := []float64{cam.K1, cam.K2, cam.P1, cam.P2, cam.K3}
	m, err := gocv.NewMatFromBytes(5, 1, gocv.MatTypeCV64FC1, float64sToBytes(data))
	if err != nil {
		log.Printf("vlam: failed to build distortion coefficients: %v", err)
		return gocv.NewMat()
	}
	return m
}

// float64sToBytes packs a slice of float64 into its little-endian byte
// representation for NewMatFromBytes.
func float64sToBytes(data []float64) []byte {
	out := make([]byte, len(data)*8)
	for i, v := range data {
		bits := math.Float64bits(v)
		for b := 0; b < 8; b++ {
			out[i*8+b] = byte(bits >> (8 * b))
		}
	}
	return out
}

// rvecTvecToTWC converts an OpenCV (rvec, tvec) solution into a valid TWC
// with zero covariance.
func rvecTvecToTWC(rvec, tvec gocv.Mat) TWC {
	rotMat := gocv.NewMat()
	defer rotMat.Close()
	gocv.Rodrigues(rvec, &rotMat)

	r := [3][3]float64{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = rotMat.GetDoubleAt(i, j)
		}
	}
	t := [3]float64{tvec.GetDoubleAt(0, 0), tvec.GetDoubleAt(1, 0), tvec.GetDoubleAt(2, 0)}

	transform := Transform3{
		R: matFromArray3x3(r),
		T: matFromArray3x1(t),
	}
	return NewTWCFromTransform(transform, [36]float64{})
}

// solvePnPImpl runs iterative PnP over the full correspondence set.
func solvePnPImpl(objectPoints [][3]float64, imagePoints []Point2, cam CameraInfo) TWC {
	if len(objectPoints) < 4 || len(objectPoints) != len(imagePoints) {
		return InvalidTWC()
	}

	obj := point3fVector(objectPoints)
	img := point2fVector(imagePoints)
	camMat := cameraMatrixMat(cam)
	distMat := distCoeffsMat(cam)
	defer obj.Close()
	defer img.Close()
	defer camMat.Close()
	defer distMat.Close()

	rvec := gocv.NewMat()
	tvec := gocv.NewMat()
	defer rvec.Close()
	defer tvec.Close()

	if !gocv.SolvePnP(obj, img, camMat, distMat, &rvec, &tvec, false, solvePnPFlagIterative) {
		return InvalidTWC()
	}
	return rvecTvecToTWC(rvec, tvec)
}

// solvePnPRansacImpl is a hypothesize-and-verify PnP. gocv has no
// solvePnPRansac binding, so the loop runs here: corners arrive in
// marker-sized blocks of four, each block seeds a minimal solve, candidates
// are scored by inlier count under the usual reprojection gate, and the
// winner is refit on its inliers.
func solvePnPRansacImpl(objectPoints [][3]float64, imagePoints []Point2, cam CameraInfo) TWC {
	n := len(objectPoints)
	if n < 4 || n != len(imagePoints) {
		return InvalidTWC()
	}

	best := InvalidTWC()
	var bestInliers []int
	for start := 0; start+4 <= n; start += 4 {
		cand := solvePnPImpl(objectPoints[start:start+4], imagePoints[start:start+4], cam)
		if !cand.IsValid() {
			continue
		}
		inliers := inlierIndexes(cand, objectPoints, imagePoints, cam)
		if len(inliers) > len(bestInliers) {
			best = cand
			bestInliers = inliers
		}
	}
	if !best.IsValid() || len(bestInliers) < 4 {
		return best
	}

	obj := make([][3]float64, 0, len(bestInliers))
	img := make([]Point2, 0, len(bestInliers))
	for _, i := range bestInliers {
		obj = append(obj, objectPoints[i])
		img = append(img, imagePoints[i])
	}
	if refined := solvePnPImpl(obj, img, cam); refined.IsValid() {
		return refined
	}
	return best
}

// inlierIndexes returns the indexes of correspondences whose reprojection
// under pose lands within ransacReprojThreshold pixels of the observation.
func inlierIndexes(pose TWC, objectPoints [][3]float64, imagePoints []Point2, cam CameraInfo) []int {
	var out []int
	for i, p := range objectPoints {
		proj := Project(p, pose.Transform(), cam)
		dx := proj.X - imagePoints[i].X
		dy := proj.Y - imagePoints[i].Y
		if dx*dx+dy*dy <= ransacReprojThreshold*ransacReprojThreshold {
			out = append(out, i)
		}
	}
	return out
}

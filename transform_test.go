package vlam

import (
	"math"
	"testing"
)

func almostEqual(t *testing.T, got, want, tol float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %g, want %g (tol %g)", msg, got, want, tol)
	}
}

func randomTWC() TWC {
	return NewTWC([6]float64{0.3, -0.2, 1.0, 0.1, -0.4, 0.7}, [36]float64{})
}

func TestComposeIdentity(t *testing.T) {
	tr := randomTWC()
	id := IdentityTWC()

	left := Compose(id, tr)
	right := Compose(tr, id)

	a := tr.XYZRPY()
	lb := left.XYZRPY()
	rb := right.XYZRPY()
	for i := 0; i < 6; i++ {
		almostEqual(t, lb[i], a[i], 1e-9, "Compose(identity, T) component")
		almostEqual(t, rb[i], a[i], 1e-9, "Compose(T, identity) component")
	}
}

func TestComposeInverseIsIdentity(t *testing.T) {
	tr := randomTWC()
	inv := Inverse(tr)
	result := Compose(tr, inv)

	xyzrpy := result.XYZRPY()
	for i := 0; i < 6; i++ {
		almostEqual(t, xyzrpy[i], 0, 1e-9, "Compose(T, inverse(T)) component")
	}
}

func TestInvalidTWCPropagates(t *testing.T) {
	invalid := InvalidTWC()
	valid := randomTWC()

	if Compose(invalid, valid).IsValid() {
		t.Error("Compose with an invalid left operand must stay invalid")
	}
	if Compose(valid, invalid).IsValid() {
		t.Error("Compose with an invalid right operand must stay invalid")
	}
	if Inverse(invalid).IsValid() {
		t.Error("Inverse of an invalid TWC must stay invalid")
	}
}

func TestApplyIdentity(t *testing.T) {
	p := [3]float64{1, 2, 3}
	out := Apply(IdentityTWC(), p)
	for i := range p {
		almostEqual(t, out[i], p[i], 1e-12, "Apply(identity, p)")
	}
}

func TestRotationAxisAngleRoundTrip(t *testing.T) {
	cases := [][3]float64{
		{0, 0, 0},
		{0.1, 0, 0},
		{0, 0.5, 0},
		{0.3, -0.2, 0.6},
	}
	for _, w := range cases {
		r := RotationFromAxisAngle(w)
		back := AxisAngleFromRotation(r)
		for i := 0; i < 3; i++ {
			almostEqual(t, back[i], w[i], 1e-9, "axis-angle round trip")
		}
	}
}

func TestAxisAngleRoundTripNearPi(t *testing.T) {
	// sin(theta) vanishes at a half-turn; the log map must still recover the
	// axis. Exercise an exact half-turn about each axis and a skew one.
	cases := [][3]float64{
		{math.Pi, 0, 0},
		{0, math.Pi, 0},
		{0, 0, math.Pi},
		{math.Pi * 0.6, math.Pi * 0.8, 0},
	}
	for _, w := range cases {
		r := RotationFromAxisAngle(w)
		back := AxisAngleFromRotation(r)
		// w and -w name the same half-turn rotation; accept either.
		same, flipped := true, true
		for i := 0; i < 3; i++ {
			if math.Abs(back[i]-w[i]) > 1e-6 {
				same = false
			}
			if math.Abs(back[i]+w[i]) > 1e-6 {
				flipped = false
			}
		}
		if !same && !flipped {
			t.Errorf("near-pi round trip: got %v, want +/-%v", back, w)
		}
	}
}

func TestRPYRoundTrip(t *testing.T) {
	cases := [][3]float64{
		{0, 0, 0},
		{0.2, 0.1, -0.3},
		{-0.5, 0.4, 1.0},
	}
	for _, rpy := range cases {
		r := RotationFromRPY(rpy[0], rpy[1], rpy[2])
		roll, pitch, yaw := RPYFromRotation(r)
		almostEqual(t, roll, rpy[0], 1e-9, "roll round trip")
		almostEqual(t, pitch, rpy[1], 1e-9, "pitch round trip")
		almostEqual(t, yaw, rpy[2], 1e-9, "yaw round trip")
	}
}

func TestUpdateSimpleAverage(t *testing.T) {
	a := NewTWC([6]float64{0, 0, 0, 0, 0, 0}, [36]float64{})
	b := NewTWC([6]float64{2, 0, 0, 0, 0, 0}, [36]float64{})

	avg := a.UpdateSimpleAverage(b, 1)
	xyzrpy := avg.XYZRPY()
	almostEqual(t, xyzrpy[0], 1.0, 1e-9, "averaged x")
}

func TestUpdateSimpleAverageShortestArcYaw(t *testing.T) {
	// Averaging yaw=3.0 and yaw=-3.0 should land near +/-pi, not near 0,
	// since the shortest arc between them wraps around.
	a := NewTWC([6]float64{0, 0, 0, 0, 0, 3.0}, [36]float64{})
	b := NewTWC([6]float64{0, 0, 0, 0, 0, -3.0}, [36]float64{})

	avg := a.UpdateSimpleAverage(b, 1)
	yaw := avg.XYZRPY()[5]
	if math.Abs(yaw) < math.Pi/2 {
		t.Errorf("shortest-arc yaw average should stay near +/-pi, got %g", yaw)
	}
}

func TestPermuteCovarianceIsInvolution(t *testing.T) {
	var cov [36]float64
	for i := range cov {
		cov[i] = float64(i)
	}
	once := PermuteCovariance(cov)
	twice := PermuteCovariance(once)
	for i := range cov {
		almostEqual(t, twice[i], cov[i], 1e-12, "PermuteCovariance should be its own inverse")
	}
}

func TestPermuteCovarianceSwapsBlocks(t *testing.T) {
	var cov [36]float64
	// Put a distinctive value in the translation (0,0) block corner.
	cov[0] = 99
	out := PermuteCovariance(cov)
	// External index (0,0) is x; internal index (3,3) is x in the
	// (roll,pitch,yaw,x,y,z) ordering.
	almostEqual(t, out[3*6+3], 99, 1e-12, "PermuteCovariance should move x-x variance to slot (3,3)")
}

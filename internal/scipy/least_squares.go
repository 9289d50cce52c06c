// This file contains a Go adaptation of scipy.optimize.least_squares,
// method="lm" (Levenberg-Marquardt via MINPACK's lmdif).
// Original source: https://github.com/scipy/scipy/blob/main/scipy/optimize/_lsq/least_squares.py
// Original Copyright (c) 2001-2002 Enthought, Inc. 2003-2024, SciPy Developers
// Original License: BSD-3-Clause

package scipy

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// LMResult is the outcome of a LevenbergMarquardt run.
type LMResult struct {
	X        []float64  // solution
	Jacobian *mat.Dense // Jacobian at the solution, residualDim x paramDim
	Cost     float64    // 0.5 * sum(residual^2) at the solution
	Iters    int
}

// LMOptions configures LevenbergMarquardt. Zero values fall back to
// scipy-like defaults.
type LMOptions struct {
	MaxIterations int     // default 100
	FTol          float64 // relative cost-reduction stopping tolerance, default 1e-10
	InitialLambda float64 // initial damping factor, default 1e-3
	FiniteDiffEps float64 // central-difference step, default 1e-6
}

func (o LMOptions) withDefaults() LMOptions {
	if o.MaxIterations == 0 {
		o.MaxIterations = 100
	}
	if o.FTol == 0 {
		o.FTol = 1e-10
	}
	if o.InitialLambda == 0 {
		o.InitialLambda = 1e-3
	}
	if o.FiniteDiffEps == 0 {
		o.FiniteDiffEps = 1e-6
	}
	return o
}

// LevenbergMarquardt minimizes 0.5*||residual(x)||^2 starting from x0, using
// a numerically-differentiated Jacobian (central differences) and the
// classic Levenberg-Marquardt damped normal-equations update. This mirrors
// scipy.optimize.least_squares(method="lm")'s default behavior when no
// analytic Jacobian is supplied.
func LevenbergMarquardt(residual func(x []float64) []float64, x0 []float64, opts LMOptions) (LMResult, error) {
	opts = opts.withDefaults()
	n := len(x0)
	if n == 0 {
		return LMResult{}, fmt.Errorf("scipy: least_squares requires at least one parameter")
	}

	x := append([]float64(nil), x0...)
	r := residual(x)
	m := len(r)
	if m == 0 {
		return LMResult{}, fmt.Errorf("scipy: least_squares requires at least one residual")
	}

	cost := sumSquares(r) / 2
	lambda := opts.InitialLambda

	var jac *mat.Dense
	iters := 0
	for ; iters < opts.MaxIterations; iters++ {
		jac = numericalJacobian(residual, x, r, opts.FiniteDiffEps)

		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)

		rv := mat.NewVecDense(m, r)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), rv)

		// Damped normal equations: (J^T J + lambda*diag(J^T J)) dx = -J^T r
		damped := mat.DenseCopyOf(&jtj)
		for i := 0; i < n; i++ {
			damped.Set(i, i, damped.At(i, i)*(1+lambda))
		}

		var dx mat.VecDense
		negJtr := mat.NewVecDense(n, nil)
		negJtr.ScaleVec(-1, &jtr)
		if err := dx.SolveVec(damped, negJtr); err != nil {
			// Singular step: increase damping and retry without accepting.
			lambda *= 10
			continue
		}

		xTrial := make([]float64, n)
		for i := range xTrial {
			xTrial[i] = x[i] + dx.AtVec(i)
		}
		rTrial := residual(xTrial)
		costTrial := sumSquares(rTrial) / 2

		if costTrial < cost {
			improvement := cost - costTrial
			x = xTrial
			r = rTrial
			lambda = math.Max(lambda/10, 1e-12)

			if improvement < opts.FTol*math.Max(cost, 1e-30) {
				cost = costTrial
				break
			}
			cost = costTrial
		} else {
			lambda *= 10
			if lambda > 1e12 {
				break
			}
		}
	}

	jac = numericalJacobian(residual, x, r, opts.FiniteDiffEps)
	return LMResult{X: x, Jacobian: jac, Cost: cost, Iters: iters}, nil
}

func sumSquares(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return s
}

// numericalJacobian computes the central-difference Jacobian of residual at
// x, given the residual value r0 already computed at x.
func numericalJacobian(residual func(x []float64) []float64, x, r0 []float64, eps float64) *mat.Dense {
	n := len(x)
	m := len(r0)
	jac := mat.NewDense(m, n, nil)

	xPlus := make([]float64, n)
	xMinus := make([]float64, n)
	copy(xPlus, x)
	copy(xMinus, x)

	for j := 0; j < n; j++ {
		h := eps * math.Max(1, math.Abs(x[j]))
		xPlus[j] = x[j] + h
		xMinus[j] = x[j] - h

		rPlus := residual(xPlus)
		rMinus := residual(xMinus)

		for i := 0; i < m; i++ {
			jac.Set(i, j, (rPlus[i]-rMinus[i])/(2*h))
		}

		xPlus[j] = x[j]
		xMinus[j] = x[j]
	}

	return jac
}

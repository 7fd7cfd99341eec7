package dlnm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// fitPoisson fits a Poisson regression with log link by iteratively
// reweighted least squares. X is n x p, y length n. Returns the
// coefficient vector of length p.
func fitPoisson(X *mat.Dense, y []float64, maxIter int, tol float64) ([]float64, error) {
	n, p := X.Dims()
	if len(y) != n {
		return nil, fmt.Errorf("dlnm: %d rows but %d responses", n, len(y))
	}
	if n < p {
		return nil, fmt.Errorf("dlnm: underdetermined fit, %d rows for %d coefficients", n, p)
	}

	// Start from the null model: eta = log(mean(y)).
	meanY := 0.0
	for _, v := range y {
		meanY += v
	}
	meanY /= float64(n)
	if meanY <= 0 {
		return nil, fmt.Errorf("dlnm: response mean must be positive")
	}

	eta := make([]float64, n)
	for i := range eta {
		eta[i] = math.Log(meanY)
	}

	beta := make([]float64, p)
	wx := mat.NewDense(n, p, nil)
	wz := mat.NewVecDense(n, nil)

	for iter := 0; iter < maxIter; iter++ {
		// Working response z and weights W = mu on the current linear
		// predictor, then one weighted least squares step:
		// solve (X'WX) beta = X'Wz via the sqrt(W)-scaled system.
		for i := 0; i < n; i++ {
			mu := math.Exp(eta[i])
			if math.IsInf(mu, 0) || mu <= 0 {
				return nil, fmt.Errorf("dlnm: diverged at iteration %d", iter)
			}
			z := eta[i] + (y[i]-mu)/mu
			sw := math.Sqrt(mu)
			for j := 0; j < p; j++ {
				wx.Set(i, j, sw*X.At(i, j))
			}
			wz.SetVec(i, sw*z)
		}

		var sol mat.VecDense
		if err := sol.SolveVec(wx, wz); err != nil {
			return nil, fmt.Errorf("dlnm: singular design matrix: %w", err)
		}

		delta := 0.0
		for j := 0; j < p; j++ {
			next := sol.AtVec(j)
			if d := math.Abs(next - beta[j]); d > delta {
				delta = d
			}
			beta[j] = next
		}

		for i := 0; i < n; i++ {
			s := 0.0
			for j := 0; j < p; j++ {
				s += X.At(i, j) * beta[j]
			}
			eta[i] = s
		}

		if delta < tol {
			return beta, nil
		}
	}
	return nil, fmt.Errorf("dlnm: no convergence after %d iterations", maxIter)
}

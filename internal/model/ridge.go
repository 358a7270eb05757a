package model

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// pinvRcond matches the default relative cutoff of numpy.linalg.pinv.
const pinvRcond = 1e-15

// Ridge is a closed-form L2-regularised linear regression with an appended
// bias column. The penalty also applies to the bias.
type Ridge struct {
	Alpha float64

	beta []float64
}

// Fit solves beta = pinv(X'X + alpha*I) X'y on the bias-augmented X. The
// pseudo-inverse keeps rank-deficient and collinear designs solvable with
// the least-norm solution.
func (r *Ridge) Fit(X [][]float64, y []float64) error {
	if len(X) == 0 {
		return errors.New("ridge: empty training set")
	}
	if len(X) != len(y) {
		return fmt.Errorf("ridge: %d rows but %d labels", len(X), len(y))
	}
	if r.Alpha < 0 {
		return fmt.Errorf("ridge: negative alpha %v", r.Alpha)
	}

	xa, err := augment(X)
	if err != nil {
		return err
	}
	_, k := xa.Dims()

	var gram mat.Dense
	gram.Mul(xa.T(), xa)
	for i := 0; i < k; i++ {
		gram.Set(i, i, gram.At(i, i)+r.Alpha)
	}

	pinv, err := pseudoInverse(&gram)
	if err != nil {
		return err
	}

	var xty mat.VecDense
	xty.MulVec(xa.T(), mat.NewVecDense(len(y), append([]float64(nil), y...)))

	var beta mat.VecDense
	beta.MulVec(pinv, &xty)
	r.beta = make([]float64, k)
	for i := range r.beta {
		r.beta[i] = beta.AtVec(i)
	}
	return nil
}

// Predict returns X·beta on the bias-augmented X.
func (r *Ridge) Predict(X [][]float64) ([]float64, error) {
	if r.beta == nil {
		return nil, errors.New("ridge: predict before fit")
	}
	if len(X) == 0 {
		return nil, nil
	}
	xa, err := augment(X)
	if err != nil {
		return nil, err
	}
	if _, k := xa.Dims(); k != len(r.beta) {
		return nil, fmt.Errorf("ridge: model has %d coefficients, input has %d columns", len(r.beta)-1, k-1)
	}

	var out mat.VecDense
	out.MulVec(xa, mat.NewVecDense(len(r.beta), r.beta))
	preds := make([]float64, out.Len())
	for i := range preds {
		preds[i] = out.AtVec(i)
	}
	return preds, nil
}

// Coefficients returns the fitted feature weights followed by the bias.
func (r *Ridge) Coefficients() []float64 {
	return append([]float64(nil), r.beta...)
}

// FitPredict fits on the training window and scores the test window.
func FitPredict(xTrain [][]float64, yTrain []float64, xTest [][]float64, alpha float64) ([]float64, error) {
	r := &Ridge{Alpha: alpha}
	if err := r.Fit(xTrain, yTrain); err != nil {
		return nil, err
	}
	return r.Predict(xTest)
}

func augment(X [][]float64) (*mat.Dense, error) {
	n, k := len(X), len(X[0])
	data := make([]float64, 0, n*(k+1))
	for i, row := range X {
		if len(row) != k {
			return nil, fmt.Errorf("ridge: row %d has %d features, want %d", i, len(row), k)
		}
		data = append(data, row...)
		data = append(data, 1)
	}
	return mat.NewDense(n, k+1, data), nil
}

// pseudoInverse computes the Moore-Penrose inverse of a through its SVD,
// zeroing singular values below pinvRcond times the largest.
func pseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return nil, errors.New("ridge: SVD factorization failed")
	}
	s := svd.Values(nil)
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	cutoff := 0.0
	if len(s) > 0 {
		cutoff = pinvRcond * s[0]
	}
	inv := make([]float64, len(s))
	for i, sv := range s {
		if sv > cutoff {
			inv[i] = 1 / sv
		}
	}

	// pinv = V · diag(1/s) · Uᵀ
	var vs mat.Dense
	vs.Mul(&v, mat.NewDiagDense(len(inv), inv))
	var out mat.Dense
	out.Mul(&vs, u.T())
	return &out, nil
}

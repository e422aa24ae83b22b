// Package model trains the fraud classifier and scores transactions with it.
package model

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/opensource-finance/riskcenter/internal/domain"
)

var (
	ErrEmptyTrainingSet = errors.New("model: empty training set")
	ErrDimension        = errors.New("model: dimension mismatch")
)

// Model is a fitted binary logistic regression.
// The classifier is rebuilt on every run and never persisted.
type Model struct {
	Coefficients []float64 `json:"coefficients"`
	Intercept    float64   `json:"intercept"`
	Iterations   int       `json:"iterations"`
	Converged    bool      `json:"converged"`

	// Prevalence is the fraud share of the training labels.
	Prevalence float64 `json:"prevalence"`

	// constant is set when training saw a single class; the model then
	// predicts that class for every row.
	constant *float64
}

// Train fits an L2-regularised logistic regression with class-balanced
// sample weights: each class's total weight is n/2, so a sub-1% fraud class
// contributes as much to the loss as the legitimate class.
//
// The solver is damped Newton (IRLS) on
//
//	0.5*||w||^2 + C * sum_i s_i * logloss(y_i, sigmoid(x_i.w + b))
//
// with the intercept unpenalised. It has no random state, so the result is a
// pure function of (x, y, cfg).
func Train(x *mat.Dense, y []float64, cfg domain.ModelConfig) (*Model, error) {
	if x == nil || len(y) == 0 {
		return nil, ErrEmptyTrainingSet
	}
	n, p := x.Dims()
	if n != len(y) {
		return nil, fmt.Errorf("%w: %d rows, %d labels", ErrDimension, n, len(y))
	}

	var positives float64
	for _, v := range y {
		positives += v
	}
	prevalence := positives / float64(n)

	if positives == 0 || positives == float64(n) {
		slog.Warn("classifier saw a single class; predicting it constantly",
			"samples", n,
			"prevalence", prevalence,
		)
		c := prevalence
		return &Model{
			Coefficients: make([]float64, p),
			Prevalence:   prevalence,
			Converged:    true,
			constant:     &c,
		}, nil
	}

	weights := balancedWeights(y, positives)
	s := &solver{x: x, y: y, sw: weights, c: cfg.C, n: n, p: p}

	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = 100
	}
	tol := cfg.Tolerance
	if tol <= 0 {
		tol = 1e-8
	}

	theta := make([]float64, p+1)
	obj := s.objective(theta)
	m := &Model{Prevalence: prevalence}

	for iter := 1; iter <= maxIter; iter++ {
		m.Iterations = iter

		step, err := s.newtonStep(theta)
		if err != nil {
			return nil, err
		}

		// Backtrack until the objective does not increase.
		next := make([]float64, len(theta))
		t := 1.0
		nextObj := math.Inf(1)
		for k := 0; k < 40; k++ {
			floats.AddScaledTo(next, theta, -t, step)
			nextObj = s.objective(next)
			if nextObj <= obj {
				break
			}
			t /= 2
		}
		if nextObj > obj {
			m.Converged = true
			break
		}

		delta := t * floats.Norm(step, math.Inf(1))
		theta, obj = next, nextObj
		if delta < tol {
			m.Converged = true
			break
		}
	}

	m.Coefficients = theta[:p]
	m.Intercept = theta[p]

	slog.Info("classifier trained",
		"samples", n,
		"features", p,
		"fraud_prevalence", prevalence,
		"iterations", m.Iterations,
		"converged", m.Converged,
	)

	return m, nil
}

// PredictProbability returns P(fraud) for each row of x. Values are not thresholded.
func (m *Model) PredictProbability(x *mat.Dense) ([]float64, error) {
	if x == nil {
		return nil, nil
	}
	n, p := x.Dims()
	if p != len(m.Coefficients) {
		return nil, fmt.Errorf("%w: model has %d features, matrix has %d", ErrDimension, len(m.Coefficients), p)
	}

	out := make([]float64, n)
	if m.constant != nil {
		for i := range out {
			out[i] = *m.constant
		}
		return out, nil
	}

	for i := 0; i < n; i++ {
		out[i] = sigmoid(floats.Dot(x.RawRowView(i), m.Coefficients) + m.Intercept)
	}
	return out, nil
}

// TrainAndScore fits the model and scores the same population. Training and
// scoring share one batch: this is a monitoring job, not a held-out evaluation.
func TrainAndScore(x *mat.Dense, y []float64, cfg domain.ModelConfig) (*Model, []float64, error) {
	m, err := Train(x, y, cfg)
	if err != nil {
		return nil, nil, err
	}
	probs, err := m.PredictProbability(x)
	if err != nil {
		return nil, nil, err
	}
	return m, probs, nil
}

// balancedWeights gives class c the weight n / (2 * n_c).
func balancedWeights(y []float64, positives float64) []float64 {
	n := float64(len(y))
	negatives := n - positives
	wPos := n / (2 * positives)
	wNeg := n / (2 * negatives)

	w := make([]float64, len(y))
	for i, v := range y {
		if v == 1 {
			w[i] = wPos
		} else {
			w[i] = wNeg
		}
	}
	return w
}

type solver struct {
	x  *mat.Dense
	y  []float64
	sw []float64
	c  float64
	n  int
	p  int
}

func (s *solver) margin(theta []float64, i int) float64 {
	return floats.Dot(s.x.RawRowView(i), theta[:s.p]) + theta[s.p]
}

func (s *solver) objective(theta []float64) float64 {
	var loss float64
	for i := 0; i < s.n; i++ {
		z := s.margin(theta, i)
		loss += s.sw[i] * (softplus(z) - s.y[i]*z)
	}
	w := theta[:s.p]
	return 0.5*floats.Dot(w, w) + s.c*loss
}

// newtonStep solves H d = g at theta. The Hessian's upper triangle is
// accumulated row-major in a flat slice and wrapped in a SymDense once.
func (s *solver) newtonStep(theta []float64) ([]float64, error) {
	dim := s.p + 1
	grad := make([]float64, dim)
	upper := make([]float64, dim*dim)
	row := make([]float64, dim)
	row[s.p] = 1

	for i := 0; i < s.n; i++ {
		copy(row, s.x.RawRowView(i))
		prob := sigmoid(s.margin(theta, i))

		r := s.c * s.sw[i] * (prob - s.y[i])
		floats.AddScaled(grad, r, row)

		h := s.c * s.sw[i] * prob * (1 - prob)
		if h == 0 {
			continue
		}
		for a := 0; a < dim; a++ {
			if row[a] == 0 {
				continue
			}
			floats.AddScaled(upper[a*dim+a:(a+1)*dim], h*row[a], row[a:])
		}
	}

	// L2 penalty on coefficients; a tiny ridge keeps the intercept solvable.
	for a := 0; a < s.p; a++ {
		grad[a] += theta[a]
		upper[a*dim+a]++
	}
	upper[s.p*dim+s.p] += 1e-10

	hess := mat.NewSymDense(dim, upper)

	var chol mat.Cholesky
	if ok := chol.Factorize(hess); !ok {
		return nil, errors.New("model: hessian is not positive definite")
	}
	var step mat.VecDense
	if err := chol.SolveVecTo(&step, mat.NewVecDense(dim, grad)); err != nil {
		return nil, fmt.Errorf("model: newton solve failed: %w", err)
	}
	return step.RawVector().Data, nil
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// softplus computes log(1 + e^z) without overflow.
func softplus(z float64) float64 {
	return math.Max(z, 0) + math.Log1p(math.Exp(-math.Abs(z)))
}

package optim

import (
	"math"

	"github.com/pkg/errors"

	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/tensor"
)

// Adam implements the Adam (Adaptive Moment Estimation) optimizer.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	param = param - lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	params []*autograd.Variable
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	t      int                    // Timestep for bias correction
	m      map[int]*tensor.Tensor // First moment estimates
	v      map[int]*tensor.Tensor // Second moment estimates
}

// AdamConfig holds configuration for Adam optimizer.
type AdamConfig struct {
	LR    float64    // Learning rate (default: 0.001)
	Betas [2]float64 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float64    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates a new Adam optimizer over leaf parameters, with default
// hyperparameters where config leaves them zero.
func NewAdam(params []*autograd.Variable, config AdamConfig) (*Adam, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		params: params,
		lr:     config.LR,
		beta1:  config.Betas[0],
		beta2:  config.Betas[1],
		eps:    config.Eps,
		m:      make(map[int]*tensor.Tensor),
		v:      make(map[int]*tensor.Tensor),
	}, nil
}

// Step performs a single optimization step.
func (a *Adam) Step() error {
	a.t++
	biasCorrection1 := 1 - math.Pow(a.beta1, float64(a.t))
	biasCorrection2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, param := range a.params {
		grad := param.Grad()
		if grad == nil {
			continue
		}
		m, v := buffer(a.m, i, param).Data(), buffer(a.v, i, param).Data()
		update(param, grad, func(j int, p, g float64) float64 {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g
			mHat := m[j] / biasCorrection1
			vHat := v[j] / biasCorrection2
			return p - a.lr*mHat/(math.Sqrt(vHat)+a.eps)
		})
	}
	return nil
}

// ZeroGrad clears gradients for all parameters.
func (a *Adam) ZeroGrad() {
	for _, param := range a.params {
		param.ZeroGrad()
	}
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.lr }

// SetLR updates the learning rate.
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Timestep returns the number of steps taken.
func (a *Adam) Timestep() int { return a.t }

// StateDict returns the moment buffers as "exp_avg.{i}" and "exp_avg_sq.{i}",
// and the timestep as the scalar "step".
func (a *Adam) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	exportBuffers(state, "exp_avg", a.m)
	exportBuffers(state, "exp_avg_sq", a.v)
	state["step"] = tensor.Scalar(float64(a.t), tensor.Float64)
	return state
}

// LoadStateDict restores the moment buffers and the timestep, so bias
// correction continues where the exported optimizer stopped. A state
// without "step" resets the timestep to zero.
func (a *Adam) LoadStateDict(state map[string]*tensor.Tensor) error {
	t := 0
	if step, ok := state["step"]; ok {
		if step.NumElements() != 1 {
			return errors.Errorf("optim: step must be a scalar, got shape %v", step.Shape())
		}
		v := step.Item()
		if v < 0 || v != math.Trunc(v) {
			return errors.Errorf("optim: step must be a non-negative integer, got %g", v)
		}
		t = int(v)
	}
	m, err := importBuffers(state, "exp_avg", a.params)
	if err != nil {
		return err
	}
	v, err := importBuffers(state, "exp_avg_sq", a.params)
	if err != nil {
		return err
	}
	a.m, a.v, a.t = m, v, t
	return nil
}

package optim

import (
	"github.com/born-ml/autograd/internal/autograd"
	"github.com/born-ml/autograd/internal/tensor"
)

// SGD implements Stochastic Gradient Descent with optional momentum and
// weight decay.
//
// Update rule:
//
//	grad = grad + weight_decay * param
//	velocity = momentum * velocity + grad
//	param = param - lr * velocity
//
// Without momentum the velocity is the gradient itself.
type SGD struct {
	params      []*autograd.Variable
	lr          float64
	momentum    float64
	weightDecay float64
	velocities  map[int]*tensor.Tensor
}

// SGDConfig holds configuration for SGD optimizer.
type SGDConfig struct {
	LR          float64 // Learning rate (default: 0.01)
	Momentum    float64 // Momentum factor (default: 0.0, range: [0, 1))
	WeightDecay float64 // L2 penalty (default: 0.0)
}

// NewSGD creates a new SGD optimizer over leaf parameters.
func NewSGD(params []*autograd.Variable, config SGDConfig) (*SGD, error) {
	if err := checkParams(params); err != nil {
		return nil, err
	}
	if config.LR == 0 {
		config.LR = 0.01
	}
	return &SGD{
		params:      params,
		lr:          config.LR,
		momentum:    config.Momentum,
		weightDecay: config.WeightDecay,
		velocities:  make(map[int]*tensor.Tensor),
	}, nil
}

// Step performs a single optimization step.
func (s *SGD) Step() error {
	for i, param := range s.params {
		grad := param.Grad()
		if grad == nil {
			continue
		}
		if s.momentum == 0 {
			update(param, grad, func(_ int, p, g float64) float64 {
				return p - s.lr*(g+s.weightDecay*p)
			})
			continue
		}
		velocity := buffer(s.velocities, i, param).Data()
		update(param, grad, func(j int, p, g float64) float64 {
			velocity[j] = s.momentum*velocity[j] + g + s.weightDecay*p
			return p - s.lr*velocity[j]
		})
	}
	return nil
}

// ZeroGrad clears gradients for all parameters.
func (s *SGD) ZeroGrad() {
	for _, param := range s.params {
		param.ZeroGrad()
	}
}

// LR returns the current learning rate.
func (s *SGD) LR() float64 { return s.lr }

// SetLR updates the learning rate.
func (s *SGD) SetLR(lr float64) { s.lr = lr }

// StateDict returns the velocity buffers as "velocity.{param_index}".
// Without momentum it is empty.
func (s *SGD) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	exportBuffers(state, "velocity", s.velocities)
	return state
}

// LoadStateDict restores velocity buffers. Missing entries start from zero.
func (s *SGD) LoadStateDict(state map[string]*tensor.Tensor) error {
	velocities, err := importBuffers(state, "velocity", s.params)
	if err != nil {
		return err
	}
	s.velocities = velocities
	return nil
}

// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package optim provides optimizers driven by the gradients that backward
// passes accumulate on leaf variables.
//
// # Overview
//
// This package contains:
//   - SGD: Stochastic Gradient Descent with momentum and weight decay
//   - Adam: Adaptive Moment Estimation with bias correction
//   - Optimizer interface for custom optimizers
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/autograd/autograd"
//	    "github.com/born-ml/autograd/optim"
//	)
//
//	func train(ctx context.Context, params []*autograd.Variable, loss func() *autograd.Variable) error {
//	    opt, err := optim.NewAdam(params, optim.AdamConfig{LR: 0.001})
//	    if err != nil {
//	        return err
//	    }
//	    for range 100 {
//	        if _, err := autograd.BackwardFrom(ctx, loss(), nil); err != nil {
//	            return err
//	        }
//	        if err := opt.Step(); err != nil {
//	            return err
//	        }
//	        opt.ZeroGrad()
//	    }
//	    return nil
//	}
//
// A step modifies parameter data in place and bumps the parameters' version,
// so graphs recorded before the step can no longer be differentiated.
package optim

// Copyright 2025 Latch Bio, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue gates access to the loaded model when several labels run
// concurrently. Sampling and scoring are pure inference calls against
// read-only weights, but serializing them keeps memory use bounded on a
// single accelerator.
package queue

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Gate admits a bounded number of concurrent inference calls. The zero
// bound means unlimited; Acquire then returns immediately.
type Gate struct {
	sem chan struct{}

	active atomic.Int64
	waited atomic.Int64

	logger *zap.Logger
}

// GateConfig holds configuration for the inference gate.
type GateConfig struct {
	// MaxConcurrent is the number of inference calls admitted at once
	// (0 = unlimited).
	MaxConcurrent int
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gate{logger: logger}
	if config.MaxConcurrent > 0 {
		g.sem = make(chan struct{}, config.MaxConcurrent)
		logger.Info("Inference gate initialized",
			zap.Int("max_concurrent", config.MaxConcurrent))
	}
	return g
}

// Acquire blocks until a slot is free or the context is done. The returned
// release func must be called exactly once.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	if g.sem == nil {
		g.active.Add(1)
		return func() { g.active.Add(-1) }, nil
	}

	select {
	case g.sem <- struct{}{}:
	default:
		// Slot not immediately available; wait with cancellation.
		g.waited.Add(1)
		select {
		case g.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	g.active.Add(1)
	released := &atomic.Bool{}
	return func() {
		if released.CompareAndSwap(false, true) {
			g.active.Add(-1)
			<-g.sem
		}
	}, nil
}

// Active returns the number of currently admitted calls.
func (g *Gate) Active() int64 { return g.active.Load() }

// Waited returns how many acquisitions had to wait for a slot.
func (g *Gate) Waited() int64 { return g.waited.Load() }

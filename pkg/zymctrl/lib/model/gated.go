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

package model

import "context"

// Gate admits callers to a shared resource one batch of permits at a time.
// Acquire blocks until a permit is available and returns its release func.
type Gate interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// Gated wraps a CausalLM so that every sample and score call passes through
// the gate. When several labels run concurrently the underlying model stays a
// read-only shared resource with the inference-call concurrency the gate
// allows.
func Gated(inner CausalLM, gate Gate) CausalLM {
	if gate == nil {
		return inner
	}
	return &gatedLM{inner: inner, gate: gate}
}

type gatedLM struct {
	inner CausalLM
	gate  Gate
}

func (g *gatedLM) Sample(ctx context.Context, prompt []int, n int, opts SampleOptions) ([][]int, error) {
	release, err := g.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return g.inner.Sample(ctx, prompt, n, opts)
}

func (g *gatedLM) Score(ctx context.Context, ids []int) (float64, error) {
	release, err := g.gate.Acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return g.inner.Score(ctx, ids)
}

func (g *gatedLM) Close() error {
	return g.inner.Close()
}

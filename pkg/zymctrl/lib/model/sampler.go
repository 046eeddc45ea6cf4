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

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// StepFunc returns next-token logits for the given prefix. Implementations
// run one forward pass of the underlying model.
type StepFunc func(ctx context.Context, ids []int) ([]float32, error)

// Sampler runs the autoregressive sampling loop: repetition penalty, top-k
// restriction, stochastic draw, termination on the end token and padding of
// naturally completed sequences.
type Sampler struct {
	opts SampleOptions
	rng  *rand.Rand
}

// NewSampler creates a sampler with a time-seeded random source.
func NewSampler(opts SampleOptions) *Sampler {
	return NewSeededSampler(opts, time.Now().UnixNano())
}

// NewSeededSampler creates a sampler with a fixed seed, for reproducible runs
// and tests.
func NewSeededSampler(opts SampleOptions, seed int64) *Sampler {
	return &Sampler{opts: opts, rng: rand.New(rand.NewSource(seed))}
}

// Sample draws one continuation of the prompt. The returned sequence holds
// the prompt followed by sampled tokens. A sequence that emits the end token
// before MaxLength ends with end token plus one pad token; a sequence cut off
// at MaxLength ends with whatever token was drawn last.
func (s *Sampler) Sample(ctx context.Context, prompt []int, step StepFunc) ([]int, error) {
	capacity := s.opts.MaxLength
	if len(prompt) > capacity {
		capacity = len(prompt)
	}
	seq := make([]int, len(prompt), capacity)
	copy(seq, prompt)

	for len(seq) < s.opts.MaxLength {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		logits, err := step(ctx, seq)
		if err != nil {
			return nil, err
		}

		next, err := s.draw(logits, seq)
		if err != nil {
			return nil, err
		}

		if next == s.opts.EndTokenID {
			seq = append(seq, next)
			if len(seq) < s.opts.MaxLength {
				seq = append(seq, s.opts.PadTokenID)
			}
			return seq, nil
		}
		seq = append(seq, next)
	}

	// Cut off at the cap without natural termination.
	return seq, nil
}

// draw picks the next token from the adjusted next-token distribution.
func (s *Sampler) draw(logits []float32, seq []int) (int, error) {
	if len(logits) == 0 {
		return 0, ErrEmptyLogits
	}

	adjusted := make([]float32, len(logits))
	copy(adjusted, logits)

	if s.opts.RepetitionPenalty != 1.0 && s.opts.RepetitionPenalty > 0 {
		penalizeRepeats(adjusted, seq, s.opts.RepetitionPenalty)
	}
	if s.opts.TopK > 0 && s.opts.TopK < len(adjusted) {
		maskBelowTopK(adjusted, s.opts.TopK)
	}

	probs := softmax(adjusted)

	r := s.rng.Float32()
	var cum float32
	for i, p := range probs {
		cum += p
		if r < cum {
			return i, nil
		}
	}
	return len(probs) - 1, nil
}

// penalizeRepeats discounts the logits of every token already present in the
// sequence, prompt included, matching the HF CTRL-style repetition penalty.
func penalizeRepeats(logits []float32, seq []int, penalty float32) {
	for _, tok := range seq {
		if tok < 0 || tok >= len(logits) {
			continue
		}
		if logits[tok] > 0 {
			logits[tok] /= penalty
		} else {
			logits[tok] *= penalty
		}
	}
}

// maskBelowTopK sets every logit below the k-th largest to -Inf so that only
// the top k tokens survive the softmax.
func maskBelowTopK(logits []float32, k int) {
	threshold := kthLargest(logits, k)
	for i, v := range logits {
		if v < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}
}

// kthLargest returns the k-th largest value by selection over a copy.
func kthLargest(values []float32, k int) float32 {
	sorted := make([]float32, len(values))
	copy(sorted, values)
	for i := 0; i < k; i++ {
		maxIdx := i
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j] > sorted[maxIdx] {
				maxIdx = j
			}
		}
		sorted[i], sorted[maxIdx] = sorted[maxIdx], sorted[i]
	}
	return sorted[k-1]
}

// softmax converts logits to a normalized probability distribution, shifted
// by the max for numerical stability.
func softmax(logits []float32) []float32 {
	maxVal := logits[0]
	for _, v := range logits[1:] {
		if v > maxVal {
			maxVal = v
		}
	}

	probs := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		probs[i] = float32(math.Exp(float64(v - maxVal)))
		sum += probs[i]
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}
	return probs
}

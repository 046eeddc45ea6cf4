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

// Package model wraps a pretrained conditional sequence model behind a narrow
// adapter: conditional sampling given a label prompt, and teacher-forced
// log-likelihood evaluation of a full token sequence. A fine-tuned checkpoint
// is a drop-in replacement for the base model; callers never see which one
// they are holding.
package model

import "context"

// CausalLM is the sequence model adapter the generation pipeline depends on.
// Sampling and scoring are read-only with respect to model state, so a single
// instance may be shared across concurrently running labels.
type CausalLM interface {
	// Sample draws n independent continuations of the prompt from the
	// conditional distribution. Each returned sequence contains the prompt
	// tokens followed by the sampled continuation, including structural
	// tokens and the terminal marker.
	Sample(ctx context.Context, prompt []int, n int, opts SampleOptions) ([][]int, error)

	// Score evaluates the sequence against itself (teacher-forced, no
	// gradients) and returns the mean negative log-likelihood per token.
	Score(ctx context.Context, ids []int) (float64, error)

	// Close releases resources held by the model.
	Close() error
}

// SampleOptions configures one sampling request.
type SampleOptions struct {
	// TopK restricts sampling at each step to the k highest-probability
	// tokens. Zero disables the restriction.
	TopK int

	// RepetitionPenalty discounts tokens already present in the sequence.
	// Values > 1 discourage reuse; 1 disables the penalty.
	RepetitionPenalty float32

	// MaxLength is the hard cap on total sequence length, prompt included.
	MaxLength int

	// EndTokenID terminates a sequence on natural completion.
	EndTokenID int

	// PadTokenID pads a naturally completed sequence. A sequence cut off at
	// MaxLength is never padded, which is how downstream filtering tells the
	// two apart.
	PadTokenID int
}

// DefaultSampleOptions returns the generation parameters used for ZymCTRL.
func DefaultSampleOptions() SampleOptions {
	return SampleOptions{
		TopK:              9,
		RepetitionPenalty: 1.2,
		MaxLength:         1024,
		EndTokenID:        1,
		PadTokenID:        0,
	}
}

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

// Package pipeline drives one generation run for a label: sample a batch of
// candidate sequences, filter out cut-off outputs, score each survivor by
// model perplexity, rank the batch, strip structural tokens and persist the
// results under collision-free identity keys.
package pipeline

import (
	"context"

	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/model"
)

// RawSample is the model's native output for one generated sequence: token
// ids including structural tokens and the terminal marker.
type RawSample []int

// Candidate pairs a surviving raw sample with its fully decoded text. The
// decoded text still carries structural tokens; cleaning happens after
// ranking.
type Candidate struct {
	Tokens RawSample
	Text   string
}

// ScoredCandidate attaches the model-assigned perplexity to a candidate.
// Lower is better. The value may be +Inf when a pathological loss overflows;
// such candidates are retained and rank last.
type ScoredCandidate struct {
	Candidate
	Perplexity float64
}

// Model is the narrow slice of the sequence model adapter the pipeline uses.
type Model interface {
	Sample(ctx context.Context, prompt []int, n int, opts model.SampleOptions) ([][]int, error)
	Score(ctx context.Context, ids []int) (float64, error)
}

// Tokenizer encodes the label prompt and decodes raw samples.
type Tokenizer interface {
	Encode(text string) []int
	Decode(ids []int) string
}

// SequenceWriter persists one cleaned sequence under its identity key
// (label, batch index, rank index). Writes are idempotent per key.
type SequenceWriter interface {
	WriteSequence(label string, batch, rank int, sequence string, perplexity float64) error
}

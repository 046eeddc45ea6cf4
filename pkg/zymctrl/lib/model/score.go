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
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyLogits is returned when the model produces no next-token logits.
	ErrEmptyLogits = errors.New("model returned empty logits")

	// ErrShortSequence is returned when a sequence has fewer than two tokens
	// and therefore no next-token predictions to evaluate.
	ErrShortSequence = errors.New("sequence too short to score")
)

// MeanNegativeLogLikelihood computes the average negative log-likelihood the
// model assigns to reproducing its own output: position t's logits predict
// token t+1. logits must hold one row per input token. This mirrors the
// shifted cross-entropy loss a causal LM reports when a sequence is used as
// both input and target.
func MeanNegativeLogLikelihood(logits [][]float32, ids []int) (float64, error) {
	if len(ids) < 2 {
		return 0, ErrShortSequence
	}
	if len(logits) < len(ids) {
		return 0, fmt.Errorf("logits rows (%d) do not cover sequence length (%d)", len(logits), len(ids))
	}

	var total float64
	for t := 0; t < len(ids)-1; t++ {
		row := logits[t]
		target := ids[t+1]
		if target < 0 || target >= len(row) {
			return 0, fmt.Errorf("token id %d outside vocabulary of size %d", target, len(row))
		}
		total += logSumExp(row) - float64(row[target])
	}
	return total / float64(len(ids)-1), nil
}

// Perplexity maps a mean negative log-likelihood to perplexity. The result
// lives in [1, +Inf); pathological losses overflow to +Inf rather than
// erroring, and such values sort last in ascending rankings.
func Perplexity(nll float64) float64 {
	return math.Exp(nll)
}

// logSumExp computes log(sum(exp(row))) in float64 with max-shifting so that
// large logits do not overflow.
func logSumExp(row []float32) float64 {
	maxVal := float64(row[0])
	for _, v := range row[1:] {
		if float64(v) > maxVal {
			maxVal = float64(v)
		}
	}
	if math.IsInf(maxVal, -1) {
		return math.Inf(-1)
	}

	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return maxVal + math.Log(sum)
}

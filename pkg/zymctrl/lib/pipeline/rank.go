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

package pipeline

import (
	"math"
	"sort"
)

// Rank sorts the batch in place by ascending perplexity. The sort is stable:
// candidates with equal perplexity keep their original batch order, since
// near-duplicate sequences are common and there is no secondary key.
// Non-finite perplexities sort after every finite value, NaN last of all.
func Rank(batch []ScoredCandidate) {
	sort.SliceStable(batch, func(i, j int) bool {
		return perplexityLess(batch[i].Perplexity, batch[j].Perplexity)
	})
}

func perplexityLess(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

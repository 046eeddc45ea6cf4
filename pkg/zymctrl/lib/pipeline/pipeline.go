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
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/model"
	"go.uber.org/zap"
)

// Config holds the parameters for one label's generation run.
type Config struct {
	// Label is the EC number used verbatim as the conditioning prompt and as
	// the artifact namespace.
	Label string

	// Batches is the number of sampling rounds to run.
	Batches int

	// SamplesPerBatch is the number of continuations requested per round.
	SamplesPerBatch int

	// Sampling carries the generation parameters handed to the model.
	Sampling model.SampleOptions
}

// Stats summarizes one run for logging and tests.
type Stats struct {
	Batches      int // batches attempted
	EmptyBatches int // batches with zero naturally terminated samples
	Sampled      int // sequences requested from the model
	Kept         int // sequences surviving the truncation filter
	Dropped      int // candidates dropped for malformed decodes
	Written      int // artifacts persisted
}

// Runner wires the batch generator, scorer, ranker, cleaner and writer into
// the per-label run loop. Each batch is fully processed before the next one
// starts; the batch index in the artifact identity key increases
// monotonically across the run.
type Runner struct {
	model  Model
	tok    Tokenizer
	writer SequenceWriter
	logger *zap.Logger
}

// NewRunner creates a runner. A nil logger is replaced with a no-op logger.
func NewRunner(m Model, tok Tokenizer, w SequenceWriter, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{model: m, tok: tok, writer: w, logger: logger}
}

// Run executes the full pipeline for one label. Per-candidate problems are
// absorbed (dropped with a diagnostic); model and writer failures abort the
// run, leaving artifacts from completed batches in place.
func (r *Runner) Run(ctx context.Context, cfg Config) (*Stats, error) {
	stats := &Stats{}

	for batch := 0; batch < cfg.Batches; batch++ {
		stats.Batches++
		stats.Sampled += cfg.SamplesPerBatch

		kept, err := r.sampleBatch(ctx, cfg)
		if err != nil {
			return stats, fmt.Errorf("label %s batch %d: %w", cfg.Label, batch, err)
		}
		stats.Kept += len(kept)

		if len(kept) == 0 {
			stats.EmptyBatches++
			r.logger.Warn("No naturally terminated sequences in batch",
				zap.String("label", cfg.Label),
				zap.Int("batch", batch),
				zap.Int("requested", cfg.SamplesPerBatch))
			continue
		}

		scored, err := r.scoreBatch(ctx, kept)
		if err != nil {
			return stats, fmt.Errorf("label %s batch %d: %w", cfg.Label, batch, err)
		}

		Rank(scored)

		for rank, sc := range scored {
			sequence, err := Clean(sc.Text)
			if errors.Is(err, ErrNoSeparator) {
				stats.Dropped++
				r.logger.Warn("Dropping malformed candidate",
					zap.String("label", cfg.Label),
					zap.Int("batch", batch),
					zap.Int("rank", rank),
					zap.Error(err))
				continue
			}
			if err != nil {
				return stats, fmt.Errorf("label %s batch %d rank %d: %w", cfg.Label, batch, rank, err)
			}

			if err := r.writer.WriteSequence(cfg.Label, batch, rank, sequence, sc.Perplexity); err != nil {
				return stats, fmt.Errorf("label %s batch %d rank %d: %w", cfg.Label, batch, rank, err)
			}
			stats.Written++
		}

		r.logger.Info("Batch complete",
			zap.String("label", cfg.Label),
			zap.Int("batch", batch),
			zap.Int("kept", len(kept)),
			zap.Float64("best_perplexity", scored[0].Perplexity))
	}

	r.logger.Info("Run complete",
		zap.String("label", cfg.Label),
		zap.Int("batches", stats.Batches),
		zap.Int("written", stats.Written),
		zap.Int("dropped", stats.Dropped))
	return stats, nil
}

// sampleBatch requests one round of continuations and applies the truncation
// filter: a sample is kept only when its final token is the pad token, the
// signal that generation stopped at the end token before the length cap.
func (r *Runner) sampleBatch(ctx context.Context, cfg Config) ([]RawSample, error) {
	prompt := r.tok.Encode(cfg.Label)
	outputs, err := r.model.Sample(ctx, prompt, cfg.SamplesPerBatch, cfg.Sampling)
	if err != nil {
		return nil, fmt.Errorf("sampling: %w", err)
	}

	kept := make([]RawSample, 0, len(outputs))
	for _, out := range outputs {
		if len(out) == 0 {
			continue
		}
		if out[len(out)-1] == cfg.Sampling.PadTokenID {
			kept = append(kept, RawSample(out))
		}
	}
	return kept, nil
}

// scoreBatch decodes each kept sample and computes its perplexity by
// evaluating the sample against itself. Overflowing scores are kept as +Inf.
func (r *Runner) scoreBatch(ctx context.Context, batch []RawSample) ([]ScoredCandidate, error) {
	scored := make([]ScoredCandidate, 0, len(batch))
	for _, raw := range batch {
		nll, err := r.model.Score(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("scoring: %w", err)
		}
		ppl := model.Perplexity(nll)
		if math.IsInf(ppl, 1) || math.IsNaN(ppl) {
			r.logger.Warn("Perplexity not finite, candidate will rank last",
				zap.Float64("nll", nll))
		}
		scored = append(scored, ScoredCandidate{
			Candidate:  Candidate{Tokens: raw, Text: r.tok.Decode(raw)},
			Perplexity: ppl,
		})
	}
	return scored, nil
}

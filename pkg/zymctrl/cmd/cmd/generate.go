// Copyright 2025 Latch Bio, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/cuda"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/fasta"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/hub"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/logging"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/model"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/pipeline"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/queue"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/tokenizers"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	modelRef       string
	outputDir      string
	batches        int
	samples        int
	parallelLabels int
	numThreads     int
	cpuOnly        bool
	skipGPUCheck   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <EC number> [EC number...]",
	Short: "Generate enzyme sequences for one or more EC numbers",
	Long: `Sample candidate enzyme sequences conditioned on each EC number,
score them by perplexity, and write the surviving sequences as one FASTA
file per candidate under <output-dir>/<EC number>/.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&modelRef, "model", "AI4PD/ZymCTRL", "model to generate with (hub id or local path)")
	generateCmd.Flags().StringVar(&outputDir, "output-dir", "sequences", "directory for generated FASTA artifacts")
	generateCmd.Flags().IntVar(&batches, "batches", 20, "sampling rounds per EC number")
	generateCmd.Flags().IntVar(&samples, "samples", 20, "sequences sampled per round")
	generateCmd.Flags().IntVar(&parallelLabels, "parallel-labels", 1, "EC numbers processed concurrently")
	generateCmd.Flags().IntVar(&numThreads, "threads", 0, "CPU inference threads (0 = runtime default)")
	generateCmd.Flags().BoolVar(&cpuOnly, "cpu", false, "run inference on CPU and skip the GPU check")
	generateCmd.Flags().BoolVar(&skipGPUCheck, "skip-gpu-check", false, "skip the nvidia-smi/nvcc preflight")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	if !cpuOnly && !skipGPUCheck {
		if err := cuda.Preflight(ctx, logger); err != nil {
			return fmt.Errorf("GPU preflight failed (use --cpu or --skip-gpu-check to override): %w", err)
		}
	}

	modelDir, err := ensureModel(ctx, logger, modelRef)
	if err != nil {
		return err
	}

	tok, err := tokenizers.Load(modelDir)
	if err != nil {
		return fmt.Errorf("loading tokenizer: %w", err)
	}
	controls := tokenizers.ResolveControlIDs(tok)

	lm, err := model.NewONNXCausalLM(modelDir, model.ONNXConfig{
		NumThreads: numThreads,
		UseCUDA:    !cpuOnly,
	}, logger)
	if err != nil {
		return fmt.Errorf("loading model: %w", err)
	}
	defer func() {
		_ = lm.Close()
	}()

	// A single gate serializes inference: labels run concurrently but the
	// session handles one request at a time.
	gate := queue.NewGate(queue.GateConfig{MaxConcurrent: 1}, logger)
	shared := model.Gated(lm, gate)

	sampling := model.SampleOptions{
		TopK:              viper.GetInt("sampling.top_k"),
		RepetitionPenalty: float32(viper.GetFloat64("sampling.repetition_penalty")),
		MaxLength:         viper.GetInt("sampling.max_length"),
		EndTokenID:        controls.EndID,
		PadTokenID:        controls.PadID,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelLabels)
	for _, label := range args {
		g.Go(func() error {
			writer, err := fasta.NewSequenceWriter(filepath.Join(outputDir, label))
			if err != nil {
				return fmt.Errorf("preparing output for %s: %w", label, err)
			}

			runner := pipeline.NewRunner(shared, tok, writer, logger.With(zap.String("ec", label)))
			stats, err := runner.Run(gctx, pipeline.Config{
				Label:           label,
				Batches:         batches,
				SamplesPerBatch: samples,
				Sampling:        sampling,
			})
			if err != nil {
				return fmt.Errorf("generating for %s: %w", label, err)
			}

			logger.Info("Label finished",
				zap.String("ec", label),
				zap.Int("written", stats.Written),
				zap.Int("dropped", stats.Dropped),
				zap.Int("empty_batches", stats.EmptyBatches))
			return nil
		})
	}
	return g.Wait()
}

// ensureModel resolves a model reference to a local directory, pulling it
// from the hub when it is not cached yet.
func ensureModel(ctx context.Context, logger *zap.Logger, ref string) (string, error) {
	dir, ok := hub.Resolve(modelsDir, ref)
	if ok {
		return dir, nil
	}
	client := hub.NewClient(hubEndpoint, logger)
	if err := client.Pull(ctx, ref, dir); err != nil {
		return "", fmt.Errorf("pulling model %s: %w", ref, err)
	}
	return dir, nil
}

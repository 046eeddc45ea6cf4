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
	"time"

	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/cuda"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/fasta"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/finetune"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	trainingFasta   string
	ftEpochs        int
	validationSplit int
	learningRate    float64
	runName         string
	workDir         string
	trainCommand    string
	ftSkipGPUCheck  bool
)

var finetuneCmd = &cobra.Command{
	Use:   "finetune <EC number>",
	Short: "Fine-tune the model on custom sequences, then generate",
	Long: `Prepare a training dataset from a FASTA file, fine-tune the base
model on it, and generate sequences for the EC number with the tuned model.

Fine-tuning is restricted to a single EC number: every training example is
conditioned on it, so a mixed run would blur the labels.`,
	Args: cobra.ExactArgs(1),
	RunE: runFinetune,
}

func init() {
	rootCmd.AddCommand(finetuneCmd)

	finetuneCmd.Flags().StringVar(&trainingFasta, "training-fasta", "", "FASTA file with training sequences (required)")
	finetuneCmd.Flags().StringVar(&modelRef, "model", "AI4PD/ZymCTRL", "base model to fine-tune (hub id or local path)")
	finetuneCmd.Flags().IntVar(&ftEpochs, "epochs", 28, "training epochs")
	finetuneCmd.Flags().IntVar(&validationSplit, "validation-split", 10, "percentage of sequences held out for validation")
	finetuneCmd.Flags().Float64Var(&learningRate, "learning-rate", 0.8e-4, "trainer learning rate")
	finetuneCmd.Flags().StringVar(&runName, "run-name", "", "name for the run directory (default: EC number plus timestamp)")
	finetuneCmd.Flags().StringVar(&workDir, "work-dir", "finetune", "directory for datasets and tuned models")
	finetuneCmd.Flags().StringVar(&trainCommand, "train-command", "run_clm.py", "fine-tuning executable")
	finetuneCmd.Flags().IntVar(&batches, "batches", 20, "sampling rounds after fine-tuning")
	finetuneCmd.Flags().IntVar(&samples, "samples", 20, "sequences sampled per round")
	finetuneCmd.Flags().StringVar(&outputDir, "output-dir", "sequences", "directory for generated FASTA artifacts")
	finetuneCmd.Flags().BoolVar(&ftSkipGPUCheck, "skip-gpu-check", false, "skip the nvidia-smi/nvcc preflight")
	_ = finetuneCmd.MarkFlagRequired("training-fasta")
}

func runFinetune(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	label := args[0]

	logger := logging.NewLogger(&logging.Config{
		Level: logging.Level(viper.GetString("log.level")),
		Style: logging.Style(viper.GetString("log.style")),
	})
	defer func() {
		_ = logger.Sync()
	}()

	if !ftSkipGPUCheck {
		if err := cuda.Preflight(ctx, logger); err != nil {
			return fmt.Errorf("GPU preflight failed (use --skip-gpu-check to override): %w", err)
		}
	}

	if runName == "" {
		runName = fmt.Sprintf("%s_%s", label, time.Now().Format("20060102_150405"))
	}
	runDir := filepath.Join(workDir, runName)
	datasetDir := filepath.Join(runDir, "dataset")
	tunedDir := filepath.Join(runDir, "model")

	records, err := fasta.ParseFile(trainingFasta)
	if err != nil {
		return fmt.Errorf("reading training FASTA: %w", err)
	}

	trainPath, _, err := finetune.PrepareDataset(records, finetune.PrepConfig{
		Label:           label,
		ValidationSplit: validationSplit,
		Seed:            time.Now().UnixNano(),
	}, datasetDir, logger)
	if err != nil {
		return fmt.Errorf("preparing dataset: %w", err)
	}
	logger.Info("Dataset prepared",
		zap.String("train_file", trainPath),
		zap.Int("sequences", len(records)))

	baseDir, err := ensureModel(ctx, logger, modelRef)
	if err != nil {
		return err
	}

	trainer := finetune.NewTrainer(trainCommand, nil, logger)
	err = trainer.Run(ctx, finetune.TrainOptions{
		BaseModel:    baseDir,
		DatasetDir:   datasetDir,
		ModelDir:     tunedDir,
		CacheDir:     filepath.Join(runDir, "cache"),
		Epochs:       ftEpochs,
		LearningRate: learningRate,
	})
	if err != nil {
		return err
	}

	// Generate with the tuned model. The fine-tune run directory is a
	// complete checkpoint, so the generate path accepts it as-is.
	modelRef = tunedDir
	if !cmd.Flags().Changed("output-dir") {
		outputDir = filepath.Join(runDir, "sequences")
	}
	cpuOnly = false
	skipGPUCheck = true // preflight already ran above
	return runGenerate(cmd, []string{label})
}

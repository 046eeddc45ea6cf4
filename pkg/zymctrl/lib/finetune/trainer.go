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

package finetune

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"go.uber.org/zap"
)

// TrainOptions configures one invocation of the external trainer. Loop
// internals (optimizer, schedule, checkpoint policy) belong to the trainer;
// only artifact locations and the coarse budget are decided here.
type TrainOptions struct {
	// BaseModel is the model the fine-tune starts from (path or hub id).
	BaseModel string

	// DatasetDir holds train.txt and validation.txt from PrepareDataset.
	DatasetDir string

	// ModelDir receives the fine-tuned model artifact.
	ModelDir string

	// CacheDir holds trainer-side caches.
	CacheDir string

	// Epochs is the number of training epochs.
	Epochs int

	// LearningRate passed through to the trainer.
	LearningRate float64
}

// DefaultTrainOptions returns the fine-tuning budget used for ZymCTRL.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		BaseModel:    "AI4PD/ZymCTRL",
		Epochs:       28,
		LearningRate: 0.8e-4,
	}
}

// Trainer shells out to the external fine-tuning command. The command must
// accept the causal-LM training flag set and leave a loadable model in the
// output directory.
type Trainer struct {
	// Command is the trainer executable. Extra fixed arguments may be
	// appended in Args.
	Command string
	Args    []string

	logger *zap.Logger
}

// NewTrainer creates a trainer around the given command.
func NewTrainer(command string, args []string, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{Command: command, Args: args, logger: logger}
}

// Run executes the fine-tuning step and blocks until it finishes. The
// trainer's output goes to this process's stdout/stderr so training progress
// stays visible. A non-zero exit aborts the whole fine-tuning run.
func (t *Trainer) Run(ctx context.Context, opts TrainOptions) error {
	if t.Command == "" {
		return fmt.Errorf("trainer command not configured")
	}
	if err := os.MkdirAll(opts.ModelDir, 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	args := append([]string{}, t.Args...)
	args = append(args,
		"--model_name_or_path", opts.BaseModel,
		"--tokenizer_name", opts.BaseModel,
		"--train_file", opts.DatasetDir+"/train.txt",
		"--validation_file", opts.DatasetDir+"/validation.txt",
		"--output_dir", opts.ModelDir,
		"--num_train_epochs", strconv.Itoa(opts.Epochs),
		"--learning_rate", strconv.FormatFloat(opts.LearningRate, 'g', -1, 64),
		"--do_train",
		"--do_eval",
	)
	if opts.CacheDir != "" {
		args = append(args, "--cache_dir", opts.CacheDir)
	}

	t.logger.Info("Starting fine-tuning",
		zap.String("command", t.Command),
		zap.String("base_model", opts.BaseModel),
		zap.Int("epochs", opts.Epochs))

	cmd := exec.CommandContext(ctx, t.Command, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("fine-tuning failed: %w", err)
	}

	t.logger.Info("Fine-tuning complete", zap.String("model_dir", opts.ModelDir))
	return nil
}

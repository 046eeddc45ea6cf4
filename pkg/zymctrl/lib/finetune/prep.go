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

// Package finetune prepares training data for and drives the external
// fine-tuning step. The trainer itself is a black box: it consumes the
// prepared dataset and produces a model directory that is a drop-in
// replacement for the base model at generation time.
package finetune

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/fasta"
	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/tokenizers"
	"go.uber.org/zap"
)

// ErrNoSequences is returned when the training FASTA holds no usable records.
var ErrNoSequences = errors.New("no sequences in training input")

// PrepConfig controls dataset preparation.
type PrepConfig struct {
	// Label is the EC number every training example is conditioned on.
	Label string

	// ValidationSplit is the percentage of sequences held out for
	// evaluation (0-50).
	ValidationSplit int

	// Seed fixes the shuffle so the same input always yields the same split.
	Seed int64
}

// FormatExample lays one sequence out in the ZymCTRL training format: the
// conditioning label, the separator, then the framed sequence.
func FormatExample(label, sequence string) string {
	return label +
		tokenizers.TokenSep +
		tokenizers.TokenStart +
		sequence +
		tokenizers.TokenEnd +
		tokenizers.TokenEndOfText
}

// PrepareDataset shuffles the records, splits off the validation fraction
// and writes train.txt and validation.txt (one formatted example per line)
// into outDir. It returns the two file paths.
func PrepareDataset(records []fasta.Record, cfg PrepConfig, outDir string, logger *zap.Logger) (trainPath, validationPath string, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ValidationSplit < 0 || cfg.ValidationSplit > 50 {
		return "", "", fmt.Errorf("validation split %d%% outside 0-50", cfg.ValidationSplit)
	}

	examples := make([]string, 0, len(records))
	for _, rec := range records {
		seq := strings.TrimSpace(rec.Sequence)
		if seq == "" {
			continue
		}
		examples = append(examples, FormatExample(cfg.Label, seq))
	}
	if len(examples) == 0 {
		return "", "", ErrNoSequences
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	rng.Shuffle(len(examples), func(i, j int) {
		examples[i], examples[j] = examples[j], examples[i]
	})

	nValidation := len(examples) * cfg.ValidationSplit / 100
	validation := examples[:nValidation]
	train := examples[nValidation:]

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", "", fmt.Errorf("creating dataset directory: %w", err)
	}

	trainPath = filepath.Join(outDir, "train.txt")
	validationPath = filepath.Join(outDir, "validation.txt")
	if err := writeLines(trainPath, train); err != nil {
		return "", "", err
	}
	if err := writeLines(validationPath, validation); err != nil {
		return "", "", err
	}

	logger.Info("Prepared fine-tuning dataset",
		zap.String("label", cfg.Label),
		zap.Int("train", len(train)),
		zap.Int("validation", len(validation)),
		zap.String("dir", outDir))
	return trainPath, validationPath, nil
}

func writeLines(path string, lines []string) error {
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

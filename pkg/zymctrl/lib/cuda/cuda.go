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

// Package cuda checks that a usable NVIDIA GPU stack is present before any
// model is loaded, turning a confusing mid-run driver failure into an
// upfront error.
package cuda

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"
)

const preflightTimeout = 30 * time.Second

// Preflight runs nvidia-smi and nvcc to confirm the driver and toolkit are
// installed and responding. The first line of each tool's output is logged
// so run logs record the driver and toolkit versions.
func Preflight(ctx context.Context, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	smi, err := runTool(ctx, "nvidia-smi")
	if err != nil {
		return fmt.Errorf("GPU driver check failed: %w", err)
	}
	logger.Info("GPU driver detected", zap.String("nvidia-smi", smi))

	nvcc, err := runTool(ctx, "nvcc", "--version")
	if err != nil {
		return fmt.Errorf("CUDA toolkit check failed: %w", err)
	}
	logger.Info("CUDA toolkit detected", zap.String("nvcc", nvcc))

	return nil
}

// runTool executes the tool and returns the first non-empty output line.
func runTool(ctx context.Context, name string, args ...string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, preflightTimeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", name, err)
	}

	for _, line := range strings.Split(out.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", nil
}

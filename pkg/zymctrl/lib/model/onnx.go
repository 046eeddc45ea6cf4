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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// ONNXConfig configures the ONNX Runtime session backing a causal LM.
//
// Runtime requirements: the ONNX Runtime shared library must be locatable,
// either via ONNXRUNTIME_ROOT or the system library path. For CUDA, the
// onnxruntime-gpu build and the CUDA toolkit must be installed.
type ONNXConfig struct {
	// NumThreads for CPU inference (0 = runtime default).
	NumThreads int

	// UseCUDA requests the CUDA execution provider. When the provider cannot
	// be appended the session falls back to CPU.
	UseCUDA bool
}

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// initORT initializes the ONNX Runtime environment once per process.
func initORT() error {
	ortInitOnce.Do(func() {
		if libPath := ortLibraryPath(); libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// ortLibraryPath locates the ONNX Runtime shared library under
// ONNXRUNTIME_ROOT, trying the platform-specific layout first.
func ortLibraryPath() string {
	root := os.Getenv("ONNXRUNTIME_ROOT")
	if root == "" {
		return ""
	}
	name := ortLibraryName()
	platform := runtime.GOOS + "-" + runtime.GOARCH
	for _, dir := range []string{
		filepath.Join(root, platform, "lib"),
		filepath.Join(root, "lib"),
	} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func ortLibraryName() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// ONNXCausalLM runs a decoder-only causal LM (the ZymCTRL GPT-2 export)
// through ONNX Runtime. It implements CausalLM.
type ONNXCausalLM struct {
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions

	inputNames  []string
	outputNames []string
	logitsIndex int

	logger *zap.Logger
}

var _ CausalLM = (*ONNXCausalLM)(nil)

// NewONNXCausalLM loads the ONNX export from a model directory. The model
// file may live at model.onnx or onnx/model.onnx within the directory.
func NewONNXCausalLM(modelPath string, cfg ONNXConfig, logger *zap.Logger) (*ONNXCausalLM, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	onnxPath, err := findModelFile(modelPath)
	if err != nil {
		return nil, err
	}

	if err := initORT(); err != nil {
		return nil, fmt.Errorf("initializing ONNX Runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(onnxPath)
	if err != nil {
		return nil, fmt.Errorf("reading model signature: %w", err)
	}

	inputNames := make([]string, len(inputs))
	for i, info := range inputs {
		switch info.Name {
		case "input_ids", "attention_mask", "position_ids":
			inputNames[i] = info.Name
		default:
			return nil, fmt.Errorf("unsupported model input %q (expected input_ids/attention_mask/position_ids)", info.Name)
		}
	}

	logitsIndex := -1
	outputNames := make([]string, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
		if info.Name == "logits" {
			logitsIndex = i
		}
	}
	if logitsIndex < 0 {
		return nil, fmt.Errorf("model has no logits output (outputs: %v)", outputNames)
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	if cfg.NumThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(cfg.NumThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("setting thread count: %w", err)
		}
	}
	if cfg.UseCUDA {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			logger.Warn("CUDA provider options unavailable, falling back to CPU", zap.Error(err))
		} else {
			if err := sessionOpts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
				logger.Warn("CUDA execution provider unavailable, falling back to CPU", zap.Error(err))
				cudaOpts.Destroy()
			} else {
				defer cudaOpts.Destroy()
			}
		}
	}

	session, err := ort.NewDynamicAdvancedSession(onnxPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("creating ONNX session: %w", err)
	}

	logger.Info("Loaded causal LM",
		zap.String("model", onnxPath),
		zap.Strings("inputs", inputNames),
		zap.Bool("cuda", cfg.UseCUDA))

	return &ONNXCausalLM{
		session:     session,
		sessionOpts: sessionOpts,
		inputNames:  inputNames,
		outputNames: outputNames,
		logitsIndex: logitsIndex,
		logger:      logger,
	}, nil
}

// findModelFile resolves the ONNX file inside a model directory. Exports from
// onnx-community style tooling place the file in an onnx/ subdirectory.
func findModelFile(modelPath string) (string, error) {
	for _, candidate := range []string{
		filepath.Join(modelPath, "model.onnx"),
		filepath.Join(modelPath, "onnx", "model.onnx"),
	} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no model.onnx found under %s", modelPath)
}

// Sample draws n independent continuations of the prompt.
func (m *ONNXCausalLM) Sample(ctx context.Context, prompt []int, n int, opts SampleOptions) ([][]int, error) {
	sampler := NewSampler(opts)
	step := func(ctx context.Context, ids []int) ([]float32, error) {
		rows, err := m.forward(ctx, ids)
		if err != nil {
			return nil, err
		}
		return rows[len(rows)-1], nil
	}

	sequences := make([][]int, 0, n)
	for i := 0; i < n; i++ {
		seq, err := sampler.Sample(ctx, prompt, step)
		if err != nil {
			return nil, fmt.Errorf("sampling sequence %d/%d: %w", i+1, n, err)
		}
		m.logger.Debug("Sampled sequence",
			zap.Int("index", i),
			zap.Int("length", len(seq)))
		sequences = append(sequences, seq)
	}
	return sequences, nil
}

// Score evaluates the sequence teacher-forced against itself and returns the
// mean negative log-likelihood.
func (m *ONNXCausalLM) Score(ctx context.Context, ids []int) (float64, error) {
	rows, err := m.forward(ctx, ids)
	if err != nil {
		return 0, err
	}
	return MeanNegativeLogLikelihood(rows, ids)
}

// forward runs one pass over the full sequence and returns the logits row for
// every position.
func (m *ONNXCausalLM) forward(ctx context.Context, ids []int) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if m.session == nil {
		return nil, fmt.Errorf("session is closed")
	}
	if len(ids) == 0 {
		return nil, ErrEmptyLogits
	}

	seqLen := len(ids)
	inputs := make([]ort.Value, len(m.inputNames))
	for i, name := range m.inputNames {
		data := make([]int64, seqLen)
		switch name {
		case "input_ids":
			for j, id := range ids {
				data[j] = int64(id)
			}
		case "attention_mask":
			for j := range data {
				data[j] = 1
			}
		case "position_ids":
			for j := range data {
				data[j] = int64(j)
			}
		}
		tensor, err := ort.NewTensor(ort.NewShape(1, int64(seqLen)), data)
		if err != nil {
			for _, t := range inputs[:i] {
				t.Destroy()
			}
			return nil, fmt.Errorf("creating %s tensor: %w", name, err)
		}
		inputs[i] = tensor
	}
	defer func() {
		for _, t := range inputs {
			t.Destroy()
		}
	}()

	outputs := make([]ort.Value, len(m.outputNames))
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("running ONNX session: %w", err)
	}
	defer func() {
		for _, t := range outputs {
			if t != nil {
				t.Destroy()
			}
		}
	}()

	logitsTensor, ok := outputs[m.logitsIndex].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("logits output is not a float32 tensor")
	}

	shape := logitsTensor.GetShape()
	if len(shape) != 3 || shape[0] != 1 || int(shape[1]) != seqLen {
		return nil, fmt.Errorf("unexpected logits shape %v for sequence length %d", shape, seqLen)
	}
	vocab := int(shape[2])

	flat := logitsTensor.GetData()
	rows := make([][]float32, seqLen)
	for t := 0; t < seqLen; t++ {
		row := make([]float32, vocab)
		copy(row, flat[t*vocab:(t+1)*vocab])
		rows[t] = row
	}
	return rows, nil
}

// Close destroys the session and its options.
func (m *ONNXCausalLM) Close() error {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	if m.sessionOpts != nil {
		m.sessionOpts.Destroy()
		m.sessionOpts = nil
	}
	return nil
}

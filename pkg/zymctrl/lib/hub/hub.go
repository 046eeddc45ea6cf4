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

// Package hub fetches model artifacts from a Hugging Face style hub into the
// local models directory, so that a hub id like "AI4PD/ZymCTRL" can be used
// wherever a local model path is accepted.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEndpoint is the public Hugging Face hub.
const DefaultEndpoint = "https://huggingface.co"

// ErrNotFound marks a file absent from the hub repository.
var ErrNotFound = errors.New("file not found on hub")

// artifact describes one file of a model repository. Optional files are
// skipped silently when the repository does not carry them.
type artifact struct {
	name     string
	required bool
}

// modelArtifacts lists the files a loadable ZymCTRL checkpoint consists of.
// The ONNX export may live at the repository root or under onnx/.
var modelArtifacts = []artifact{
	{name: "config.json", required: true},
	{name: "tokenizer.json", required: true},
	{name: "tokenizer_config.json"},
	{name: "special_tokens_map.json"},
	{name: "merges.txt"},
	{name: "vocab.json"},
}

// Client downloads model repositories from a hub endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	logger   *zap.Logger
}

// NewClient creates a hub client. An empty endpoint selects the public hub.
func NewClient(endpoint string, logger *zap.Logger) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		http:     &http.Client{Timeout: 30 * time.Minute},
		logger:   logger,
	}
}

// LocalDir maps a hub model id to its directory under modelsDir.
func LocalDir(modelsDir, modelID string) string {
	return filepath.Join(modelsDir, strings.ReplaceAll(modelID, "/", "--"))
}

// Resolve turns a model reference into a local directory path. A reference
// that exists on disk is used as-is; otherwise it is treated as a hub id and
// mapped into modelsDir. The boolean reports whether the directory exists.
func Resolve(modelsDir, ref string) (string, bool) {
	if info, err := os.Stat(ref); err == nil && info.IsDir() {
		return ref, true
	}
	dir := LocalDir(modelsDir, ref)
	info, err := os.Stat(dir)
	return dir, err == nil && info.IsDir()
}

// Pull downloads the model repository into destDir. Already present files
// are kept, so an interrupted pull resumes where it stopped.
func (c *Client) Pull(ctx context.Context, modelID, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("creating model directory: %w", err)
	}

	c.logger.Info("Pulling model",
		zap.String("model", modelID),
		zap.String("dest", destDir))

	for _, a := range modelArtifacts {
		dest := filepath.Join(destDir, a.name)
		if _, err := os.Stat(dest); err == nil {
			continue
		}
		err := c.fetch(ctx, modelID, a.name, dest)
		if errors.Is(err, ErrNotFound) && !a.required {
			continue
		}
		if err != nil {
			return fmt.Errorf("pulling %s: %w", a.name, err)
		}
	}

	// The ONNX export: accept either layout, store at the root.
	onnxDest := filepath.Join(destDir, "model.onnx")
	if _, err := os.Stat(onnxDest); err == nil {
		return nil
	}
	err := c.fetch(ctx, modelID, "model.onnx", onnxDest)
	if errors.Is(err, ErrNotFound) {
		err = c.fetch(ctx, modelID, "onnx/model.onnx", onnxDest)
	}
	if err != nil {
		return fmt.Errorf("pulling model.onnx: %w", err)
	}

	c.logger.Info("Model pulled", zap.String("model", modelID))
	return nil
}

// fetch downloads one repository file to dest, writing through a temp file
// so partial downloads never look like finished artifacts.
func (c *Client) fetch(ctx context.Context, modelID, name, dest string) error {
	url := fmt.Sprintf("%s/%s/resolve/main/%s", c.endpoint, modelID, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %s for %s", resp.Status, url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".pull-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("downloading %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("finalizing %s: %w", name, err)
	}

	c.logger.Debug("Fetched artifact",
		zap.String("file", name),
		zap.Int64("bytes", n))
	return nil
}

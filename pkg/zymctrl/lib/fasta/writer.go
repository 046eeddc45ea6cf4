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

package fasta

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// ArtifactName returns the deterministic file stem for one generated
// sequence's identity key (label, batch index, rank index). The same key
// always maps to the same file, so parallel runs over distinct labels can
// never collide and rewriting a key overwrites instead of duplicating.
func ArtifactName(label string, batch, rank int) string {
	return fmt.Sprintf("%s_%d_%d", label, batch, rank)
}

// SequenceWriter persists generated sequences, one FASTA file per identity
// key, inside a fixed output directory.
type SequenceWriter struct {
	dir string
}

// NewSequenceWriter creates the output directory if needed and returns a
// writer rooted there.
func NewSequenceWriter(dir string) (*SequenceWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &SequenceWriter{dir: dir}, nil
}

// Dir returns the directory this writer persists into.
func (w *SequenceWriter) Dir() string { return w.dir }

// WriteSequence writes one artifact: a header line carrying the identity key
// and the perplexity, then the sequence payload. Rewriting the same key
// replaces the previous content.
func (w *SequenceWriter) WriteSequence(label string, batch, rank int, sequence string, perplexity float64) error {
	name := ArtifactName(label, batch, rank)
	content := fmt.Sprintf(">%s\t%s\n%s", name, strconv.FormatFloat(perplexity, 'g', -1, 64), sequence)

	path := filepath.Join(w.dir, name+".fasta")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

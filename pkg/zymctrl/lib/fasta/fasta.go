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

// Package fasta reads and writes the FASTA files this tool exchanges with
// the outside world: training sequences coming in, generated candidates
// going out.
package fasta

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Record is a single FASTA record.
type Record struct {
	Header   string
	Sequence string
}

// Parse reads FASTA records from r. Header lines start with '>'; sequence
// lines up to the next header are concatenated. Blank lines are skipped.
func Parse(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var records []Record
	var current *Record
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ">") {
			if current != nil {
				records = append(records, *current)
			}
			current = &Record{Header: strings.TrimPrefix(line, ">")}
			continue
		}
		if current == nil {
			return nil, fmt.Errorf("sequence data before first header: %q", line)
		}
		current.Sequence += line
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading FASTA: %w", err)
	}
	if current != nil {
		records = append(records, *current)
	}
	return records, nil
}

// ParseFile reads FASTA records from a file.
func ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening FASTA file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return Parse(f)
}

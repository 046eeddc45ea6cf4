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

// Package tokenizers loads the ZymCTRL tokenizer from a model directory and
// exposes the control vocabulary the generation pipeline depends on.
//
// The package re-exports key types from go-huggingface/tokenizers so that
// callers don't need to import the upstream library directly.
package tokenizers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	esentencepiece "github.com/eliben/go-sentencepiece"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// Re-export the upstream tokenizer types so pipeline code can import this
// package instead of the upstream library directly.
type (
	// Tokenizer is the full tokenizer interface with Encode/Decode/SpecialTokenID.
	Tokenizer = tokenizers.Tokenizer

	// Config holds HuggingFace's tokenizer_config.json contents.
	Config = api.Config

	// SpecialToken is an enum of commonly used special tokens.
	SpecialToken = api.SpecialToken
)

// Structural tokens of the ZymCTRL vocabulary. A training example is laid out
// as "<label><sep><start><sequence><end><|endoftext|>" and generated text
// echoes the same structure; none of these tokens may survive into a cleaned
// protein sequence.
const (
	TokenStart     = "<start>"
	TokenEnd       = "<end>"
	TokenEndOfText = "<|endoftext|>"
	TokenPad       = "<pad>"
	TokenSep       = "<sep>"
)

// Vocabulary positions of the terminal control tokens in the released
// ZymCTRL checkpoints. Used as a fallback when the tokenizer config does not
// resolve them.
const (
	DefaultPadID = 0
	DefaultEndID = 1
)

// StructuralTokens returns the full strip set for cleaning decoded output,
// including the plain space the tokenizer inserts between merged pieces.
func StructuralTokens() []string {
	return []string{TokenStart, TokenEnd, TokenEndOfText, TokenPad, " ", TokenSep}
}

// ControlIDs carries the token ids that terminate and pad a generated
// sequence. The pad id doubles as the natural-completion marker: a sequence
// whose final token is the pad id stopped at <end> before the length cap.
type ControlIDs struct {
	PadID int
	EndID int
}

// ResolveControlIDs looks the terminal token ids up in the loaded tokenizer,
// falling back to the checkpoint defaults when the config omits them.
func ResolveControlIDs(tok Tokenizer) ControlIDs {
	ids := ControlIDs{PadID: DefaultPadID, EndID: DefaultEndID}
	if id, err := tok.SpecialTokenID(api.TokPad); err == nil {
		ids.PadID = id
	}
	if id, err := tok.SpecialTokenID(api.TokEndOfSentence); err == nil {
		ids.EndID = id
	}
	return ids
}

// Load reads a tokenizer from a local model directory, auto-detecting the
// format: tokenizer.json (HuggingFace Tokenizers, the ZymCTRL BPE vocabulary)
// or tokenizer.model (SentencePiece).
func Load(modelPath string) (Tokenizer, error) {
	config, err := loadTokenizerConfig(modelPath)
	if err != nil {
		return nil, err
	}

	tokenizerJSONPath := filepath.Join(modelPath, "tokenizer.json")
	if _, err := os.Stat(tokenizerJSONPath); err == nil {
		tok, err := hftokenizer.NewFromFile(config, tokenizerJSONPath)
		if err != nil {
			return nil, fmt.Errorf("loading tokenizer.json: %w", err)
		}
		return tok, nil
	}

	spModelPath := filepath.Join(modelPath, "tokenizer.model")
	if _, err := os.Stat(spModelPath); err == nil {
		proc, err := esentencepiece.NewProcessorFromPath(spModelPath)
		if err != nil {
			return nil, fmt.Errorf("loading tokenizer.model: %w", err)
		}
		return &sentencepieceTokenizer{
			Processor: proc,
			Info:      proc.ModelInfo(),
		}, nil
	}

	return nil, fmt.Errorf("no tokenizer found in %s (expected tokenizer.json or tokenizer.model)", modelPath)
}

// loadTokenizerConfig parses tokenizer_config.json when present. The config
// is optional; a missing file yields a nil config, not an error.
func loadTokenizerConfig(modelPath string) (*Config, error) {
	configPath := filepath.Join(modelPath, "tokenizer_config.json")
	content, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading tokenizer config: %w", err)
	}

	normalized, err := NormalizeTokenizerConfig(content)
	if err != nil {
		return nil, fmt.Errorf("normalizing tokenizer config: %w", err)
	}
	config, err := api.ParseConfigContent(normalized)
	if err != nil {
		return nil, fmt.Errorf("parsing tokenizer config: %w", err)
	}
	config.ConfigFile = configPath
	return config, nil
}

// NormalizeTokenizerConfig rewrites HuggingFace AddedToken objects in a
// tokenizer_config.json payload to plain strings. Some checkpoints store
// special tokens as {"__type": "AddedToken", "content": "<pad>", ...} which
// the upstream config parser does not accept.
func NormalizeTokenizerConfig(content []byte) ([]byte, error) {
	var raw map[string]any
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("parsing config JSON: %w", err)
	}

	for _, field := range []string{
		"bos_token", "eos_token", "pad_token", "unk_token",
		"cls_token", "sep_token", "mask_token",
	} {
		if val, ok := raw[field]; ok {
			raw[field] = tokenContent(val)
		}
	}

	return json.Marshal(raw)
}

// tokenContent extracts the token string from either a plain string or a
// HuggingFace AddedToken object.
func tokenContent(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case map[string]any:
		if content, ok := val["content"].(string); ok {
			return content
		}
	}
	return ""
}

// sentencepieceTokenizer wraps esentencepiece.Processor to implement Tokenizer.
type sentencepieceTokenizer struct {
	*esentencepiece.Processor
	Info *esentencepiece.ModelInfo
}

var _ Tokenizer = (*sentencepieceTokenizer)(nil)

// Encode returns the text encoded into a sequence of token IDs.
func (t *sentencepieceTokenizer) Encode(text string) []int {
	tokens := t.Processor.Encode(text)
	result := make([]int, len(tokens))
	for i, tok := range tokens {
		result[i] = tok.ID
	}
	return result
}

// Decode returns the text from a sequence of token IDs.
func (t *sentencepieceTokenizer) Decode(ids []int) string {
	return t.Processor.Decode(ids)
}

// SpecialTokenID returns the ID for the given special token, or an error if unknown.
func (t *sentencepieceTokenizer) SpecialTokenID(token api.SpecialToken) (int, error) {
	switch token {
	case api.TokUnknown:
		return t.Info.UnknownID, nil
	case api.TokPad:
		return t.Info.PadID, nil
	case api.TokBeginningOfSentence:
		return t.Info.BeginningOfSentenceID, nil
	case api.TokEndOfSentence:
		return t.Info.EndOfSentenceID, nil
	default:
		return 0, fmt.Errorf("unknown special token: %s (%d)", token, int(token))
	}
}

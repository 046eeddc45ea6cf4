package tokenizers

import (
	"encoding/json"
	"testing"
)

func TestNormalizeTokenizerConfig_AddedTokenObjects(t *testing.T) {
	content := []byte(`{
		"model_max_length": 1024,
		"pad_token": {"__type": "AddedToken", "content": "<pad>", "lstrip": false},
		"eos_token": {"__type": "AddedToken", "content": "<end>"},
		"unk_token": "<unk>"
	}`)

	normalized, err := NormalizeTokenizerConfig(content)
	if err != nil {
		t.Fatalf("NormalizeTokenizerConfig failed: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(normalized, &raw); err != nil {
		t.Fatalf("normalized output is not valid JSON: %v", err)
	}

	if got := raw["pad_token"]; got != "<pad>" {
		t.Errorf("pad_token = %v, want %q", got, "<pad>")
	}
	if got := raw["eos_token"]; got != "<end>" {
		t.Errorf("eos_token = %v, want %q", got, "<end>")
	}
	if got := raw["unk_token"]; got != "<unk>" {
		t.Errorf("unk_token = %v, want %q", got, "<unk>")
	}
	if got := raw["model_max_length"]; got != float64(1024) {
		t.Errorf("model_max_length = %v, want 1024", got)
	}
}

func TestNormalizeTokenizerConfig_InvalidJSON(t *testing.T) {
	if _, err := NormalizeTokenizerConfig([]byte("{not json")); err == nil {
		t.Fatal("NormalizeTokenizerConfig with invalid JSON should return error")
	}
}

func TestStructuralTokens(t *testing.T) {
	tokens := StructuralTokens()

	want := map[string]bool{
		TokenStart:     false,
		TokenEnd:       false,
		TokenEndOfText: false,
		TokenPad:       false,
		TokenSep:       false,
		" ":            false,
	}
	for _, tok := range tokens {
		seen, ok := want[tok]
		if !ok {
			t.Errorf("unexpected structural token %q", tok)
		}
		if seen {
			t.Errorf("duplicate structural token %q", tok)
		}
		want[tok] = true
	}
	for tok, seen := range want {
		if !seen {
			t.Errorf("structural token %q missing from strip set", tok)
		}
	}
}

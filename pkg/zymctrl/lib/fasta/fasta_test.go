package fasta

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_MultiRecord(t *testing.T) {
	input := `>seq1 description
MKVL
AAST
>seq2
MMM
`
	records, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	if records[0].Header != "seq1 description" {
		t.Errorf("header = %q, want %q", records[0].Header, "seq1 description")
	}
	if records[0].Sequence != "MKVLAAST" {
		t.Errorf("sequence = %q, want %q (multi-line concatenation)", records[0].Sequence, "MKVLAAST")
	}
	if records[1].Sequence != "MMM" {
		t.Errorf("sequence = %q, want %q", records[1].Sequence, "MMM")
	}
}

func TestParse_DataBeforeHeaderIsError(t *testing.T) {
	if _, err := Parse(strings.NewReader("MKVL\n>seq1\nAAA\n")); err == nil {
		t.Fatal("Parse with leading sequence data should return error")
	}
}

func TestParse_Empty(t *testing.T) {
	records, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("len(records) = %d, want 0", len(records))
	}
}

func TestSequenceWriter_ArtifactLayout(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSequenceWriter(dir)
	if err != nil {
		t.Fatalf("NewSequenceWriter failed: %v", err)
	}

	if err := w.WriteSequence("1.1.1.1", 0, 2, "MKVL", 4.25); err != nil {
		t.Fatalf("WriteSequence failed: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "1.1.1.1_0_2.fasta"))
	if err != nil {
		t.Fatalf("artifact not written: %v", err)
	}
	want := ">1.1.1.1_0_2\t4.25\nMKVL"
	if string(content) != want {
		t.Errorf("artifact content = %q, want %q", string(content), want)
	}
}

func TestSequenceWriter_RewriteOverwrites(t *testing.T) {
	dir := t.TempDir()
	w, err := NewSequenceWriter(dir)
	if err != nil {
		t.Fatalf("NewSequenceWriter failed: %v", err)
	}

	if err := w.WriteSequence("2.7.1.1", 1, 0, "AAAA", 2.0); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := w.WriteSequence("2.7.1.1", 1, 0, "CCCC", 3.5); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading output dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("output dir has %d files, want 1 (overwrite, not append)", len(entries))
	}

	content, err := os.ReadFile(filepath.Join(dir, "2.7.1.1_1_0.fasta"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "CCCC") {
		t.Errorf("artifact content = %q, second write should win", string(content))
	}
}

func TestSequenceWriter_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out", "1.1.1.1")
	if _, err := NewSequenceWriter(dir); err != nil {
		t.Fatalf("NewSequenceWriter failed: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		t.Fatalf("output directory was not created: %v", err)
	}
}

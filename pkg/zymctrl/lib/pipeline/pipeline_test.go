package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/latchbio/zymctrl/pkg/zymctrl/lib/model"
	"go.uber.org/zap/zaptest"
)

// fakeVocab is a miniature ZymCTRL-like vocabulary for pipeline tests.
var fakeVocab = map[int]string{
	0: "<pad>",
	1: "<end>",
	2: "<sep>",
	3: "<start>",
	4: "1.1.1.1",
	5: "M",
	6: "K",
	7: "V",
	8: "L",
}

type fakeTokenizer struct{}

func (fakeTokenizer) Encode(text string) []int {
	for id, tok := range fakeVocab {
		if tok == text {
			return []int{id}
		}
	}
	return []int{4}
}

func (fakeTokenizer) Decode(ids []int) string {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(fakeVocab[id])
	}
	return b.String()
}

// fakeModel replays scripted batches and scores sequences from a lookup
// table keyed by the sequence's token ids.
type fakeModel struct {
	batches   [][][]int
	call      int
	nlls      map[string]float64
	sampleErr error
	scoreErr  error
}

func seqKey(ids []int) string { return fmt.Sprint(ids) }

func (m *fakeModel) Sample(ctx context.Context, prompt []int, n int, opts model.SampleOptions) ([][]int, error) {
	if m.sampleErr != nil {
		return nil, m.sampleErr
	}
	if m.call >= len(m.batches) {
		return nil, nil
	}
	batch := m.batches[m.call]
	m.call++
	return batch, nil
}

func (m *fakeModel) Score(ctx context.Context, ids []int) (float64, error) {
	if m.scoreErr != nil {
		return 0, m.scoreErr
	}
	if nll, ok := m.nlls[seqKey(ids)]; ok {
		return nll, nil
	}
	return 1.0, nil
}

type write struct {
	label      string
	batch      int
	rank       int
	sequence   string
	perplexity float64
}

type memWriter struct {
	writes []write
	err    error
}

func (w *memWriter) WriteSequence(label string, batch, rank int, sequence string, perplexity float64) error {
	if w.err != nil {
		return w.err
	}
	w.writes = append(w.writes, write{label, batch, rank, sequence, perplexity})
	return nil
}

func testConfig(batches, samples int) Config {
	opts := model.DefaultSampleOptions()
	opts.MaxLength = 8
	return Config{
		Label:           "1.1.1.1",
		Batches:         batches,
		SamplesPerBatch: samples,
		Sampling:        opts,
	}
}

func TestRun_TruncationFilterKeepsNaturalCompletions(t *testing.T) {
	// 5 samples requested: 2 end with the pad token (natural completion),
	// 3 were cut off at the cap. Exactly 2 must survive.
	m := &fakeModel{batches: [][][]int{{
		{4, 2, 5, 6, 1, 0}, // kept
		{4, 2, 5, 6, 7, 8}, // cut off
		{4, 2, 7, 1, 0},    // kept
		{4, 2, 8, 8, 8, 8}, // cut off
		{4, 2, 5, 5, 5, 5}, // cut off
	}}}
	w := &memWriter{}
	r := NewRunner(m, fakeTokenizer{}, w, zaptest.NewLogger(t))

	stats, err := r.Run(context.Background(), testConfig(1, 5))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Kept != 2 {
		t.Errorf("Kept = %d, want 2", stats.Kept)
	}
	if stats.Written != 2 {
		t.Errorf("Written = %d, want 2", stats.Written)
	}
}

func TestRun_EmptyBatchIsWarningNotError(t *testing.T) {
	// First batch yields nothing survivable; second batch succeeds.
	m := &fakeModel{batches: [][][]int{
		{{4, 2, 5, 6, 7, 8}},
		{{4, 2, 5, 1, 0}},
	}}
	w := &memWriter{}
	r := NewRunner(m, fakeTokenizer{}, w, zaptest.NewLogger(t))

	stats, err := r.Run(context.Background(), testConfig(2, 1))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.EmptyBatches != 1 {
		t.Errorf("EmptyBatches = %d, want 1", stats.EmptyBatches)
	}
	if len(w.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(w.writes))
	}
	if w.writes[0].batch != 1 {
		t.Errorf("write batch index = %d, want 1 (batch counter is monotonic)", w.writes[0].batch)
	}
}

func TestRun_MalformedDecodeDropsSingleCandidate(t *testing.T) {
	// The second sample has no <sep>: it must be dropped without aborting
	// the batch or the run.
	m := &fakeModel{
		batches: [][][]int{{
			{4, 2, 5, 6, 1, 0}, // fine
			{4, 5, 6, 1, 0},    // no separator
		}},
		nlls: map[string]float64{
			seqKey([]int{4, 2, 5, 6, 1, 0}): 0.5,
			seqKey([]int{4, 5, 6, 1, 0}):    0.1,
		},
	}
	w := &memWriter{}
	r := NewRunner(m, fakeTokenizer{}, w, zaptest.NewLogger(t))

	stats, err := r.Run(context.Background(), testConfig(1, 2))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if len(w.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(w.writes))
	}
	// The malformed candidate scored better and held rank 0; its artifact is
	// simply absent, the survivor keeps rank 1.
	if w.writes[0].rank != 1 {
		t.Errorf("surviving write rank = %d, want 1", w.writes[0].rank)
	}
	if w.writes[0].sequence != "MK" {
		t.Errorf("surviving sequence = %q, want %q", w.writes[0].sequence, "MK")
	}
}

func TestRun_BatchAndRankIndexing(t *testing.T) {
	// 3 batches of 4 samples each: at most 12 artifacts, batch index 0-2,
	// rank index 0..surviving-1 independently per batch, ascending
	// perplexity within a batch.
	seqs := [][]int{
		{4, 2, 5, 1, 0},
		{4, 2, 6, 1, 0},
		{4, 2, 7, 1, 0},
		{4, 2, 8, 1, 0},
	}
	m := &fakeModel{
		batches: [][][]int{seqs, seqs, seqs},
		nlls: map[string]float64{
			seqKey(seqs[0]): 0.9,
			seqKey(seqs[1]): 0.2,
			seqKey(seqs[2]): 0.4,
			seqKey(seqs[3]): 0.2, // tie with seqs[1], must stay behind it
		},
	}
	w := &memWriter{}
	r := NewRunner(m, fakeTokenizer{}, w, zaptest.NewLogger(t))

	stats, err := r.Run(context.Background(), testConfig(3, 4))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Written != 12 {
		t.Fatalf("Written = %d, want 12", stats.Written)
	}

	perBatch := map[int][]write{}
	for _, wr := range w.writes {
		if wr.batch < 0 || wr.batch > 2 {
			t.Errorf("batch index %d out of range 0-2", wr.batch)
		}
		perBatch[wr.batch] = append(perBatch[wr.batch], wr)
	}
	for batch, writes := range perBatch {
		if len(writes) != 4 {
			t.Fatalf("batch %d has %d writes, want 4", batch, len(writes))
		}
		wantOrder := []string{"K", "L", "V", "M"} // 0.2, 0.2 (tie), 0.4, 0.9
		for rank, wr := range writes {
			if wr.rank != rank {
				t.Errorf("batch %d write %d has rank %d", batch, rank, wr.rank)
			}
			if wr.sequence != wantOrder[rank] {
				t.Errorf("batch %d rank %d = %q, want %q", batch, rank, wr.sequence, wantOrder[rank])
			}
		}
	}
}

func TestRun_SamplingFailureAborts(t *testing.T) {
	wantErr := errors.New("out of memory")
	m := &fakeModel{sampleErr: wantErr}
	r := NewRunner(m, fakeTokenizer{}, &memWriter{}, zaptest.NewLogger(t))

	_, err := r.Run(context.Background(), testConfig(2, 1))
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestRun_ScoringFailureAborts(t *testing.T) {
	wantErr := errors.New("artifact load failure")
	m := &fakeModel{
		batches:  [][][]int{{{4, 2, 5, 1, 0}}},
		scoreErr: wantErr,
	}
	r := NewRunner(m, fakeTokenizer{}, &memWriter{}, zaptest.NewLogger(t))

	_, err := r.Run(context.Background(), testConfig(1, 1))
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped %v", err, wantErr)
	}
}

func TestCleanDecodeRoundTrip(t *testing.T) {
	// encode(label) + <sep> + payload tokens decode and clean back to the
	// bare payload with every structural token removed.
	tok := fakeTokenizer{}
	payload := []int{3, 5, 6, 7, 1, 0} // <start>MKV<end><pad>

	full := append(append(tok.Encode("1.1.1.1"), 2), payload...)
	cleaned, err := Clean(tok.Decode(full))
	if err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if cleaned != "MKV" {
		t.Errorf("round trip = %q, want %q", cleaned, "MKV")
	}
}

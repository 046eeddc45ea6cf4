package pipeline

import (
	"math"
	"testing"
)

func scoredWith(text string, ppl float64) ScoredCandidate {
	return ScoredCandidate{
		Candidate:  Candidate{Text: text},
		Perplexity: ppl,
	}
}

func TestRank_AscendingByPerplexity(t *testing.T) {
	batch := []ScoredCandidate{
		scoredWith("c", 9.5),
		scoredWith("a", 1.2),
		scoredWith("b", 4.0),
	}
	Rank(batch)

	want := []string{"a", "b", "c"}
	for i, w := range want {
		if batch[i].Text != w {
			t.Errorf("rank %d = %q, want %q", i, batch[i].Text, w)
		}
	}
}

func TestRank_StableOnTies(t *testing.T) {
	// Two candidates with identical perplexity must keep their original
	// batch order.
	batch := []ScoredCandidate{
		scoredWith("first", 4.02),
		scoredWith("low", 1.1),
		scoredWith("second", 4.02),
	}
	Rank(batch)

	if batch[0].Text != "low" {
		t.Fatalf("rank 0 = %q, want %q", batch[0].Text, "low")
	}
	if batch[1].Text != "first" || batch[2].Text != "second" {
		t.Errorf("tied candidates reordered: got [%q, %q]", batch[1].Text, batch[2].Text)
	}
}

func TestRank_IsPermutation(t *testing.T) {
	batch := []ScoredCandidate{
		scoredWith("a", 3),
		scoredWith("b", 1),
		scoredWith("c", 2),
		scoredWith("d", 1),
	}
	Rank(batch)

	if len(batch) != 4 {
		t.Fatalf("len = %d, want 4 (no elements dropped or added)", len(batch))
	}
	seen := map[string]int{}
	for _, sc := range batch {
		seen[sc.Text]++
	}
	for _, text := range []string{"a", "b", "c", "d"} {
		if seen[text] != 1 {
			t.Errorf("element %q appears %d times after ranking", text, seen[text])
		}
	}
}

func TestRank_NonFiniteSortLast(t *testing.T) {
	batch := []ScoredCandidate{
		scoredWith("inf", math.Inf(1)),
		scoredWith("nan", math.NaN()),
		scoredWith("ok", 2.5),
	}
	Rank(batch)

	if batch[0].Text != "ok" {
		t.Errorf("rank 0 = %q, want finite candidate first", batch[0].Text)
	}
	if batch[1].Text != "inf" || batch[2].Text != "nan" {
		t.Errorf("non-finite order = [%q, %q], want [inf, nan]", batch[1].Text, batch[2].Text)
	}
}

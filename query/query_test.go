package query

import "testing"

func TestCompileEmptyInput(t *testing.T) {
	got := Compile("", "en", 5, false)
	if got.FtsQuery != "" || len(got.FilteringPhrases) != 0 {
		t.Errorf("Compile(\"\") = %+v, want zero value", got)
	}
}

func TestCompileBareWordsAndNoPhraseSupport(t *testing.T) {
	got := Compile("hello world", "en", 5, false)
	want := "(hello AND world)"
	if got.FtsQuery != want {
		t.Errorf("FtsQuery = %q, want %q", got.FtsQuery, want)
	}
	if len(got.FilteringPhrases) != 0 {
		t.Errorf("expected no filtering phrases for bare words, got %v", got.FilteringPhrases)
	}
}

func TestCompileQuotedPhraseWithoutPhraseSupportAddsPostFilter(t *testing.T) {
	got := Compile(`"alpha beta"`, "en", 5, false)
	if got.FtsQuery != "(alpha AND beta)" {
		t.Errorf("FtsQuery = %q", got.FtsQuery)
	}
	if len(got.FilteringPhrases) != 1 {
		t.Fatalf("expected one filtering phrase, got %v", got.FilteringPhrases)
	}
	want := []string{"alpha", "beta"}
	for i, tok := range want {
		if got.FilteringPhrases[0][i] != tok {
			t.Errorf("FilteringPhrases[0][%d] = %q, want %q", i, got.FilteringPhrases[0][i], tok)
		}
	}
}

func TestCompileQuotedPhraseWithPhraseSupport(t *testing.T) {
	got := Compile(`"alpha beta"`, "en", 5, true)
	if got.FtsQuery != `"alpha beta"` {
		t.Errorf("FtsQuery = %q, want native phrase query", got.FtsQuery)
	}
	if len(got.FilteringPhrases) != 0 {
		t.Errorf("expected no post-filter phrases when index supports native phrase search")
	}
}

func TestCompileMixedPiecesJoinedWithAnd(t *testing.T) {
	got := Compile(`foo "bar baz"`, "en", 5, false)
	want := "foo AND (bar AND baz)"
	if got.FtsQuery != want {
		t.Errorf("FtsQuery = %q, want %q", got.FtsQuery, want)
	}
}

func TestMatchesPostFilterContiguousSubsequence(t *testing.T) {
	tokens := []string{"alpha", "beta", "gamma"}
	if !MatchesPostFilter(tokens, [][]string{{"alpha", "beta"}}) {
		t.Error("expected adjacent phrase to match")
	}
	if MatchesPostFilter(tokens, [][]string{{"alpha", "gamma"}}) {
		t.Error("expected non-adjacent phrase to be rejected")
	}
}

func TestMatchesPostFilterEmptyPhraseList(t *testing.T) {
	if !MatchesPostFilter([]string{"a"}, nil) {
		t.Error("no phrases to check should always match")
	}
}

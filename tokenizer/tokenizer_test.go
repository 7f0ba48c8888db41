package tokenizer

import (
	"reflect"
	"testing"
)

func TestGuessLocale(t *testing.T) {
	tk := &Tokenizer{}
	tests := []struct {
		name       string
		text       string
		preferred  string
		want       string
	}{
		{"hiragana", "こんにちは", "en", "ja"},
		{"katakana", "コンピューター", "en", "ja"},
		{"hangul", "안녕하세요", "en", "ko"},
		{"han only, zh preferred", "中文", "zh-CN", "zh"},
		{"han only, default ja", "中文", "en", "ja"},
		{"latin falls back", "hello world", "fr", "fr"},
		{"latin falls back, empty preferred", "hello world", "", "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tk.GuessLocale(tt.text, tt.preferred); got != tt.want {
				t.Errorf("GuessLocale(%q, %q) = %q, want %q", tt.text, tt.preferred, got, tt.want)
			}
		})
	}
}

func TestFoldCase(t *testing.T) {
	got := FoldCase("  HELLO World\t")
	if got != "hello world" {
		t.Errorf("FoldCase = %q, want %q", got, "hello world")
	}
}

func TestTokenizeEnglish(t *testing.T) {
	tk := &Tokenizer{}
	tokens := tk.Tokenize("Hello, World! 123", "en")
	want := []string{"hello", "world", "123"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("Tokenize = %v, want %v", tokens, want)
	}
}

func TestTokenizePunctuationOnlyDropped(t *testing.T) {
	tk := &Tokenizer{}
	tokens := tk.Tokenize("... !!! ---", "en")
	if len(tokens) != 0 {
		t.Errorf("expected no tokens from punctuation-only text, got %v", tokens)
	}
}

func TestLimitTokensWithPositions(t *testing.T) {
	in := []string{"c", "a", "b", "a"}
	got := LimitTokens(in, 3, true)
	want := []string{"c", "a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LimitTokens(positions) = %v, want %v", got, want)
	}
}

func TestLimitTokensWithoutPositions(t *testing.T) {
	in := []string{"c", "a", "b", "a", "d"}
	got := LimitTokens(in, 3, false)
	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LimitTokens(no positions) = %v, want %v", got, want)
	}
}

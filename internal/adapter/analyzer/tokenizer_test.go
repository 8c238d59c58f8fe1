package analyzer

import (
	"reflect"
	"testing"
)

func TestTokenizer_Tokenize(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("Allergic rhinitis, since 2019.")
	want := []string{"allergic", "rhinitis", "since", "2019"}
	if !reflect.DeepEqual(tokens, want) {
		t.Errorf("expected %v, got %v", want, tokens)
	}
}

func TestTokenizer_StopwordRemoval(t *testing.T) {
	tok := NewTokenizer(true)

	tokens := tok.Tokenize("The patient has a history of asthma")
	for _, token := range tokens {
		switch token {
		case "the", "patient", "has", "of":
			t.Errorf("stopword %q should be removed, got %v", token, tokens)
		}
	}
	if len(tokens) != 2 {
		t.Errorf("expected [history asthma], got %v", tokens)
	}
}

func TestTokenizer_ShortWordRemoval(t *testing.T) {
	tok := NewTokenizer(false)

	tokens := tok.Tokenize("a I go to")
	for _, token := range tokens {
		if len(token) < 2 {
			t.Errorf("short token %q should be removed", token)
		}
	}
}

func TestTokenizer_CountTokens(t *testing.T) {
	tok := NewTokenizer(true)

	if got := tok.CountTokens(""); got != 0 {
		t.Errorf("expected 0 tokens for empty text, got %d", got)
	}
	if got := tok.CountTokens("   "); got != 0 {
		t.Errorf("expected 0 tokens for whitespace, got %d", got)
	}

	// 10 words, 1 period
	text := "one two three four five six seven eight nine ten."
	if got := tok.CountTokens(text); got != 14 {
		t.Errorf("expected 14 tokens, got %d", got)
	}

	// Stopwords still count toward the model's budget.
	if got := tok.CountTokens("the the the the the the the the the the"); got != 13 {
		t.Errorf("expected 13 tokens, got %d", got)
	}
}

func TestGrams(t *testing.T) {
	got := Grams("ear", 3)
	want := []string{"#ea", "ear", "ar#"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	if got := Grams("a", 3); !reflect.DeepEqual(got, []string{"#a#"}) {
		t.Errorf("expected single padded gram, got %v", got)
	}
}

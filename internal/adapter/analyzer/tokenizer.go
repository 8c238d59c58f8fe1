package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer splits clinical text into lowercase word tokens.
type Tokenizer struct {
	stopwords map[string]struct{}
	minLen    int
}

// NewTokenizer creates a Tokenizer. Stopwords are dropped from Tokenize output
// when dropStopwords is set; CountTokens always counts every word.
func NewTokenizer(dropStopwords bool) *Tokenizer {
	t := &Tokenizer{minLen: 2}
	if dropStopwords {
		t.stopwords = defaultStopwords()
	}
	return t
}

// Tokenize splits text into tokens.
func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len([]rune(word)) < t.minLen {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// CountTokens estimates the subword token count an embedding model sees.
// Words average about 1.3 tokens; punctuation counts as one token each.
func (t *Tokenizer) CountTokens(text string) int {
	words := splitWords(text)
	punct := 0
	for _, r := range text {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			punct++
		}
	}
	if len(words) == 0 {
		return punct
	}
	return int(float64(len(words))*1.3) + punct
}

// Grams returns the character n-grams of token, padded with '#' on both
// sides so prefixes and suffixes get their own features.
func Grams(token string, n int) []string {
	runes := []rune("#" + token + "#")
	if len(runes) <= n {
		return []string{string(runes)}
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

// splitWords splits text into runs of letters and digits.
func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// defaultStopwords returns common English words that carry no clinical signal.
func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with", "this",
		"have", "had", "but", "you", "your", "we", "our",
		"they", "their", "she", "her", "his", "if", "or", "so",
		"can", "do", "does", "did", "been", "being", "would",
		"could", "should", "may", "might", "which",
		"who", "what", "when", "where", "how", "all",
		"each", "some", "such", "than", "very", "just", "also",
		"patient", "mr", "mrs", "ms",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}

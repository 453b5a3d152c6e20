package normalize

import (
	"reflect"
	"testing"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"uppercase", "Bacon Bacon", "BACON BACON"},
		{"pos prefix", "TST* BACON BACON - SAN FRANCISCO", "BACON BACON"},
		{"square prefix", "SQ *COFFEE CART", "COFFEE CART"},
		{"paypal prefix", "PAYPAL *ACMESUPPLY", "ACMESUPPLY"},
		{"trailing reference", "DELTA AIR 0062341234", "DELTA AIR"},
		{"punctuation", "BOB'S BURGERS & FRIES", "BOB S BURGERS FRIES"},
		{"city suffix", "HILTON HOTELS - DENVER", "HILTON HOTELS"},
		{"empty", "", ""},
		{"whitespace", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanIsStable(t *testing.T) {
	in := "TST* Bacon Bacon - San Francisco"
	first := Clean(in)
	for i := 0; i < 5; i++ {
		if got := Clean(in); got != first {
			t.Fatalf("Clean not stable: %q vs %q", got, first)
		}
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("TST* BACON BACON - SAN FRANCISCO")
	want := []string{"BACON", "BACON"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Tokens = %v, want %v", got, want)
	}

	if toks := Tokens(""); toks != nil {
		t.Errorf("Tokens(\"\") = %v, want nil", toks)
	}
}

func TestSignificantWords(t *testing.T) {
	words := SignificantWords("The Bacon Bacon Co", 4)

	if _, ok := words["BACON"]; !ok {
		t.Error("expected BACON in significant words")
	}
	// "THE" and "CO" are below the length cutoff
	if _, ok := words["THE"]; ok {
		t.Error("THE should not be significant")
	}
	if _, ok := words["CO"]; ok {
		t.Error("CO should not be significant")
	}
}

func TestContainsAnyWord(t *testing.T) {
	words := SignificantWords("Bacon Bacon", 4)

	if !ContainsAnyWord("TST* BACON BACON - SAN FRANCISCO", words) {
		t.Error("expected merchant word match against bank descriptor")
	}
	if ContainsAnyWord("RESTAURANT PURCHASE", words) {
		t.Error("unexpected match against unrelated descriptor")
	}
	if ContainsAnyWord("ANYTHING", nil) {
		t.Error("empty word set must never match")
	}

	// Run-together descriptors still match by substring containment.
	words = SignificantWords("Acme Supply", 4)
	if !ContainsAnyWord("ACMESUPPLY STORE 42", words) {
		t.Error("expected substring containment match")
	}
}

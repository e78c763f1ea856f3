package engine

import "testing"

func TestCacheKey_StableAcrossKeyOrder(t *testing.T) {
	// Structurally equal params must hash identically regardless of how the
	// maps were built.
	a := map[string]any{
		"region": "eu",
		"filters": map[string]any{
			"min": 1,
			"max": 10,
		},
	}
	b := map[string]any{
		"filters": map[string]any{
			"max": 10,
			"min": 1,
		},
		"region": "eu",
	}

	keyA, err := cacheKey("fact", a)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	keyB, err := cacheKey("fact", b)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if keyA != keyB {
		t.Errorf("Expected identical keys for structurally equal params, got %s and %s", keyA, keyB)
	}
}

func TestCacheKey_DistinguishesFactAndParams(t *testing.T) {
	base, err := cacheKey("fact", map[string]any{"id": 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	otherFact, err := cacheKey("other", map[string]any{"id": 1})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if base == otherFact {
		t.Error("Different fact IDs must produce different keys")
	}

	otherParams, err := cacheKey("fact", map[string]any{"id": 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if base == otherParams {
		t.Error("Different params must produce different keys")
	}
}

func TestCacheKey_NumericNormalization(t *testing.T) {
	// JSON decoding yields float64 where programmatic callers pass int; the
	// two spellings must share a cache entry.
	asInt, err := cacheKey("fact", map[string]any{"n": 2})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	asFloat, err := cacheKey("fact", map[string]any{"n": float64(2)})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if asInt != asFloat {
		t.Errorf("Expected 2 and 2.0 to produce the same key, got %s and %s", asInt, asFloat)
	}
}

func TestCacheKey_UnicodeNormalization(t *testing.T) {
	composed := map[string]any{"city": "Z\u00fcrich"}    // precomposed u-umlaut
	decomposed := map[string]any{"city": "Zu\u0308rich"} // u + combining diaeresis

	keyA, err := cacheKey("fact", composed)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	keyB, err := cacheKey("fact", decomposed)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if keyA != keyB {
		t.Errorf("Expected NFC-equivalent strings to produce the same key, got %s and %s", keyA, keyB)
	}
}

func TestCacheKey_NoParams(t *testing.T) {
	keyNil, err := cacheKey("fact", nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	keyEmpty, err := cacheKey("fact", map[string]any{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if keyNil != keyEmpty {
		t.Errorf("Expected nil and empty params to produce the same key, got %s and %s", keyNil, keyEmpty)
	}
}

func TestMarshalCanonical_Lists(t *testing.T) {
	a, err := marshalCanonical([]any{1, "two", true, nil})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	want := `[1,"two",true,null]`
	if string(a) != want {
		t.Errorf("Got %s, want %s", a, want)
	}
}

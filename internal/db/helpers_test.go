package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	t.Parallel()

	if got := truncate("  short  ", 10); got != "short" {
		t.Fatalf("expected trimmed input, got %q", got)
	}
	got := truncate("città", 4)
	if got != "citt" {
		t.Fatalf("expected cut before multibyte rune, got %q", got)
	}
	got = truncate("àà", 3)
	if got != "à" {
		t.Fatalf("expected one whole rune, got %q", got)
	}
}

func TestStringListRoundTripNilBecomesEmptyArray(t *testing.T) {
	t.Parallel()

	raw, err := encodeStrings(nil)
	if err != nil {
		t.Fatalf("encodeStrings: %v", err)
	}
	if raw != "[]" {
		t.Fatalf("expected empty json array, got %s", raw)
	}
	values, err := decodeStrings([]byte(`["ITC4C","ITI43"]`))
	if err != nil || len(values) != 2 || values[1] != "ITI43" {
		t.Fatalf("unexpected decode result %v err=%v", values, err)
	}
}

func TestNullableJSONRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	if nullableJSON(nil) != nil {
		t.Fatalf("expected nil for empty payload")
	}
	if nullableJSON([]byte(`{"broken"`)) != nil {
		t.Fatalf("expected nil for invalid payload")
	}
	if got := nullableJSON([]byte(`{"id":1}`)); got == nil || *got != `{"id":1}` {
		t.Fatalf("expected payload passthrough, got %v", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("insert watchlist: %w", &pgconn.PgError{Code: "23505"})
	if !IsUniqueViolation(wrapped) {
		t.Fatalf("expected wrapped 23505 to be detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatalf("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(errors.New("boom")) {
		t.Fatalf("plain errors are not unique violations")
	}
}

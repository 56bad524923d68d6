package content

import (
	"errors"
	"strings"
	"testing"
)

func TestSumDeterministic(t *testing.T) {
	a := Sum([]byte("body{color:red}"))
	b := Sum([]byte("body{color:red}"))
	if a != b {
		t.Fatalf("Sum() not deterministic: %s vs %s", a, b)
	}
	if c := Sum([]byte("body{color:blue}")); c == a {
		t.Fatal("different content produced the same hash")
	}
	if len(a.String()) != 64 {
		t.Errorf("hash string length = %d, want 64", len(a.String()))
	}
	if strings.ContainsAny(a.String(), "/\\+= ") {
		t.Errorf("hash %q is not filename-safe", a)
	}
}

func TestParseRoundTrip(t *testing.T) {
	h := Sum([]byte("x"))
	parsed, err := Parse(h.String())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed != h {
		t.Errorf("Parse() = %s, want %s", parsed, h)
	}
	if _, err := Parse("abc"); err == nil {
		t.Error("Parse(short) should fail")
	}
	if _, err := Parse(strings.Repeat("zz", 32)); err == nil {
		t.Error("Parse(non-hex) should fail")
	}
}

func TestAddresserDedup(t *testing.T) {
	a := NewAddresser()
	data := []byte("same bytes")
	h := Sum(data)

	if _, ok := a.Lookup(h); ok {
		t.Fatal("Lookup() on empty addresser reported a hit")
	}

	p1, dup, err := a.Assign(h, "css", data)
	if err != nil || dup {
		t.Fatalf("first Assign() = (%q, %v, %v)", p1, dup, err)
	}
	if p1 != h.String()+".css" {
		t.Errorf("path = %q, want hash plus extension", p1)
	}

	// A second logical reference with identical bytes but another extension
	// still collapses to the first physical file.
	p2, dup, err := a.Assign(h, "txt", []byte("same bytes"))
	if err != nil {
		t.Fatalf("second Assign() error = %v", err)
	}
	if !dup || p2 != p1 {
		t.Errorf("second Assign() = (%q, %v), want (%q, true)", p2, dup, p1)
	}

	if got, ok := a.Lookup(h); !ok || got != p1 {
		t.Errorf("Lookup() = (%q, %v), want (%q, true)", got, ok, p1)
	}
	if a.Len() != 1 {
		t.Errorf("Len() = %d, want 1", a.Len())
	}
}

func TestAddresserDistinctContent(t *testing.T) {
	a := NewAddresser()
	seen := make(map[string]bool)
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		data := []byte(s)
		p, _, err := a.Assign(Sum(data), "bin", data)
		if err != nil {
			t.Fatalf("Assign(%q) error = %v", s, err)
		}
		if seen[p] {
			t.Fatalf("path %q assigned twice for distinct content", p)
		}
		seen[p] = true
	}
}

func TestAddresserCollision(t *testing.T) {
	a := NewAddresser()
	h := Sum([]byte("one"))
	if _, _, err := a.Assign(h, "", []byte("one")); err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	_, _, err := a.Assign(h, "", []byte("two"))
	if !errors.Is(err, ErrCollision) {
		t.Errorf("Assign() with different bytes error = %v, want ErrCollision", err)
	}
}

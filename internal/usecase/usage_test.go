package usecase

import (
	"errors"
	"testing"

	"github.com/fairyhunter13/gemini-enterprise-gateway/internal/domain"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"12345678", 2},
		{"123456789", 3},
	}
	for _, tc := range cases {
		if got := EstimateTokens(tc.in); got != tc.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestCatalog_ResolveAndDefaults(t *testing.T) {
	c := NewCatalog([]domain.Model{
		{ID: "gemini-enterprise", Name: "Gemini Enterprise", Enabled: true},
		{ID: "disabled-model", Enabled: false},
	}, "gemini-enterprise")

	if got := len(c.List()); got != 1 {
		t.Fatalf("expected disabled models filtered, got %d entries", got)
	}

	m, err := c.Resolve("")
	if err != nil || m.ID != "gemini-enterprise" {
		t.Fatalf("empty id should resolve to default, got (%v, %v)", m, err)
	}
	if _, err := c.Resolve("disabled-model"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("disabled model must not resolve, got %v", err)
	}
	if _, err := c.Resolve("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown model must not resolve, got %v", err)
	}
}

func TestCatalog_SynthesizesDefaultWhenEmpty(t *testing.T) {
	c := NewCatalog(nil, "gemini-enterprise")
	models := c.List()
	if len(models) != 1 || models[0].ID != "gemini-enterprise" {
		t.Fatalf("expected synthesized default, got %+v", models)
	}
}

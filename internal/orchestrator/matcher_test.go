package orchestrator

import "testing"

func TestMatchPattern(t *testing.T) {
	cases := []struct {
		path    string
		pattern string
		want    bool
	}{
		{"/api/users", "/api/users", true},
		{"/api/users/42", "/api/users/*", true},
		{"/api/users", "/api/users/*", false},
		{"/api/users/42/orders", "/api/users/**", true},
		{"/api/users/42/orders", "/api/**", true},
		{"/healthz", "/api/**", false},
		{"/api/v1/users", "/api/*/users", true},
	}

	for _, c := range cases {
		if got := matchPattern(c.path, c.pattern); got != c.want {
			t.Errorf("matchPattern(%q, %q) = %v, want %v", c.path, c.pattern, got, c.want)
		}
	}
}

func TestMatchesAny(t *testing.T) {
	if !matchesAny("/api/users", []string{"/healthz", "/api/*"}) {
		t.Error("expected a match against the second pattern")
	}
	if matchesAny("/metrics", []string{"/healthz", "/api/*"}) {
		t.Error("expected no match")
	}
}

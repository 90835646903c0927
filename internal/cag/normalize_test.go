package cag

import "testing"

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  string
	}{
		{"already canonical", "what is sql injection", "what is sql injection"},
		{"casing", "What Is SQL Injection", "what is sql injection"},
		{"trailing question mark", "What is SQL injection?", "what is sql injection"},
		{"spaced punctuation", "what is sql injection ?", "what is sql injection"},
		{"collapsed whitespace", "  what   is\tsql\n injection  ", "what is sql injection"},
		{"stacked punctuation", "what is sql injection?!...", "what is sql injection"},
		{"diacritics", "Résumé of the étude", "resume of the etude"},
		{"empty", "", ""},
		{"only punctuation", "?!?", ""},
		{"internal punctuation kept", "what does -sV do", "what does -sv do"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Normalize(tc.query); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.query, got, tc.want)
			}
		})
	}
}

func TestQueryIDIdentity(t *testing.T) {
	a := QueryID(Normalize("What is SQL injection?"))
	b := QueryID(Normalize("what is sql injection ?"))
	if a != b {
		t.Errorf("equivalent queries should share an id: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("id should be sha256 hex, got %d chars", len(a))
	}
	if c := QueryID(Normalize("explain sql injection")); c == a {
		t.Error("distinct queries should not collide")
	}
}

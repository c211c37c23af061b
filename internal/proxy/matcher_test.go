package proxy

import "testing"

func TestMatcher_ExtractsRelativePath(t *testing.T) {
	m := NewMatcher("cc_Acme.Widget")

	tests := []struct {
		name    string
		url     string
		want    string
		matched bool
	}{
		{
			name:    "bundle request",
			url:     "https://x.dynamics.com/cc_Acme.Widget/bundle.js",
			want:    "bundle.js",
			matched: true,
		},
		{
			name:    "query string excluded from capture",
			url:     "https://x.dynamics.com/cc_Acme.Widget/bundle.js?v=123",
			want:    "bundle.js",
			matched: true,
		},
		{
			name:    "nested asset path",
			url:     "https://x.dynamics.com/webresources/cc_Acme.Widget/css/styles.css",
			want:    "css/styles.css",
			matched: true,
		},
		{
			name:    "dot matched literally, not as wildcard",
			url:     "https://x.dynamics.com/cc_AcmeXWidget/bundle.js",
			matched: false,
		},
		{
			name:    "different control",
			url:     "https://x.dynamics.com/cc_Other.Control/bundle.js",
			matched: false,
		},
		{
			name:    "case sensitive",
			url:     "https://x.dynamics.com/CC_ACME.WIDGET/bundle.js",
			matched: false,
		},
		{
			name:    "no trailing path",
			url:     "https://x.dynamics.com/cc_Acme.Widget",
			matched: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Match(tt.url)
			if ok != tt.matched {
				t.Fatalf("Match(%q) matched = %v, want %v", tt.url, ok, tt.matched)
			}
			if ok && got != tt.want {
				t.Fatalf("Match(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}

func TestMatcher_FirstOccurrenceWins(t *testing.T) {
	m := NewMatcher("cc_Acme.Widget")

	got, ok := m.Match("https://host/cc_Acme.Widget/a.js/cc_Acme.Widget/b.js")
	if !ok {
		t.Fatal("expected a match")
	}
	// The capture is greedy up to the query string, so the first segment's
	// capture spans the rest of the path.
	if got != "a.js/cc_Acme.Widget/b.js" {
		t.Fatalf("Match = %q, want first-occurrence capture", got)
	}
}

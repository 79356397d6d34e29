package engine

import "testing"

func TestStripMarkdown(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"bold", "this is **important** stuff", "this is important stuff"},
		{"italic", "an *emphasis* here", "an emphasis here"},
		{"heading", "## Photosynthesis\nis a process", "Photosynthesis\nis a process"},
		{"code fence", "```\nx := 1\n```", "\nx := 1\n"},
		{"inline code", "use `context.Context` here", "use context.Context here"},
		{"list dash", "- first item\n- second item", "first item\nsecond item"},
		{"numbered list", "1. one\n2. two", "one\ntwo"},
		{"plain text untouched", "nothing to strip here.", "nothing to strip here."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := stripMarkdown(tc.in); got != tc.want {
				t.Errorf("stripMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

package session

import (
	"testing"
	"time"
)

func TestAssess(t *testing.T) {
	p := DefaultInterruptPolicy()
	agent := "photosynthesis converts sunlight into chemical energy stored in glucose"

	cases := []struct {
		name   string
		text   string
		speech time.Duration
		agent  string
		want   InterruptDecision
	}{
		{
			name:   "below minimum speech duration",
			text:   "stop for a second",
			speech: 300 * time.Millisecond,
			agent:  agent,
			want:   DecisionIgnore,
		},
		{
			name:   "below minimum word count",
			text:   "no stop",
			speech: time.Second,
			agent:  agent,
			want:   DecisionIgnore,
		},
		{
			name:   "genuine interruption",
			text:   "wait I have a question",
			speech: time.Second,
			agent:  agent,
			want:   DecisionInterrupt,
		},
		{
			name:   "echo of an agent fragment",
			text:   "converts sunlight into chemical energy",
			speech: time.Second,
			agent:  agent,
			want:   DecisionEcho,
		},
		{
			name:   "echo from the middle of the utterance",
			text:   "chemical energy stored in glucose",
			speech: time.Second,
			agent:  agent,
			want:   DecisionEcho,
		},
		{
			name:   "echo survives punctuation and case",
			text:   "Chemical energy, stored in GLUCOSE!",
			speech: time.Second,
			agent:  agent,
			want:   DecisionEcho,
		},
		{
			name:   "no agent speech to echo",
			text:   "what about cellular respiration",
			speech: time.Second,
			agent:  "",
			want:   DecisionInterrupt,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Assess(tc.text, tc.speech, tc.agent)
			if got != tc.want {
				t.Fatalf("Assess(%q) = %v, want %v", tc.text, got, tc.want)
			}
		})
	}
}

func TestEchoScoreWindow(t *testing.T) {
	agent := "the mitochondria is the powerhouse of the cell"

	// A fragment buried mid-utterance must still score as an exact match.
	if s := echoScore("powerhouse of the", agent); s < 0.99 {
		t.Fatalf("windowed echo score = %v, want ~1.0", s)
	}
	// Unrelated speech stays well below the echo threshold.
	if s := echoScore("can we talk about volcanoes instead", agent); s >= 0.85 {
		t.Fatalf("unrelated speech score = %v, want < 0.85", s)
	}
	if s := echoScore("", agent); s != 0 {
		t.Fatalf("empty candidate score = %v, want 0", s)
	}
}

func TestNormalizeSpeech(t *testing.T) {
	got := normalizeSpeech("  Hello,   WORLD! It's\tme. ")
	want := "hello world it's me"
	if got != want {
		t.Fatalf("normalizeSpeech = %q, want %q", got, want)
	}
}

func TestDecisionString(t *testing.T) {
	pairs := map[InterruptDecision]string{
		DecisionIgnore:        "ignore",
		DecisionEcho:          "echo",
		DecisionInterrupt:     "interrupt",
		InterruptDecision(99): "unknown",
	}
	for d, want := range pairs {
		if d.String() != want {
			t.Fatalf("String() = %q, want %q", d.String(), want)
		}
	}
}

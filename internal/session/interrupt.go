package session

import (
	"strings"
	"time"

	"github.com/antzucaro/matchr"
)

// InterruptDecision is the outcome of assessing user speech against the
// barge-in policy while the agent is talking.
type InterruptDecision int

const (
	// DecisionIgnore rejects the speech as too short or too few words to be a
	// deliberate interruption.
	DecisionIgnore InterruptDecision = iota

	// DecisionEcho classifies the speech as the agent's own voice picked up
	// by the user's microphone. Interrupting on echo would let the agent
	// silence itself in a feedback loop.
	DecisionEcho

	// DecisionInterrupt accepts the speech as a genuine barge-in.
	DecisionInterrupt
)

// String returns the human-readable name of the decision.
func (d InterruptDecision) String() string {
	switch d {
	case DecisionIgnore:
		return "ignore"
	case DecisionEcho:
		return "echo"
	case DecisionInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

// InterruptPolicy gates user barge-in while the agent is speaking.
type InterruptPolicy struct {
	// MinSpeech is the minimum utterance duration.
	MinSpeech time.Duration

	// MinWords is the minimum word count.
	MinWords int

	// Grace is how long playback stays paused after a suspected interruption
	// before resuming when no final transcript confirms it.
	Grace time.Duration

	// EchoSimilarity is the Jaro-Winkler score at or above which user speech
	// is treated as an echo of the agent's own output.
	EchoSimilarity float64
}

// DefaultInterruptPolicy returns the production barge-in tuning.
func DefaultInterruptPolicy() InterruptPolicy {
	return InterruptPolicy{
		MinSpeech:      600 * time.Millisecond,
		MinWords:       3,
		Grace:          2 * time.Second,
		EchoSimilarity: 0.85,
	}
}

// Assess classifies user speech heard while the agent speaks agentText.
func (p InterruptPolicy) Assess(text string, speech time.Duration, agentText string) InterruptDecision {
	words := strings.Fields(normalizeSpeech(text))
	if speech < p.MinSpeech || len(words) < p.MinWords {
		return DecisionIgnore
	}
	if echoScore(strings.Join(words, " "), normalizeSpeech(agentText)) >= p.EchoSimilarity {
		return DecisionEcho
	}
	return DecisionInterrupt
}

// echoScore returns the best Jaro-Winkler similarity between the candidate
// and any same-length word window of the agent's speech. The window scan
// matters because the agent's utterance is usually much longer than the
// echoed fragment.
func echoScore(candidate, agentText string) float64 {
	if candidate == "" || agentText == "" {
		return 0
	}
	best := matchr.JaroWinkler(candidate, agentText, false)

	cw := strings.Fields(candidate)
	aw := strings.Fields(agentText)
	n := len(cw)
	for i := 0; i+n <= len(aw); i++ {
		window := strings.Join(aw[i:i+n], " ")
		if s := matchr.JaroWinkler(candidate, window, false); s > best {
			best = s
		}
	}
	return best
}

// normalizeSpeech lowercases and strips punctuation so transcription
// formatting differences do not mask an echo.
func normalizeSpeech(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '\'':
			b.WriteRune(r)
		case r > 127:
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

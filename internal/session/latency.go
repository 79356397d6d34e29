package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"
)

// LatencyTracker measures end-to-end response latency per room: the time from
// the user finishing speaking to the first synthesized audio reaching the
// room. Entries are appended to a JSON-lines log for offline analysis.
type LatencyTracker struct {
	mu      sync.Mutex
	pending map[string]time.Time

	logPath string
	log     *slog.Logger
}

// latencyEntry is one line of the latency log.
type latencyEntry struct {
	Timestamp string  `json:"timestamp"`
	RoomName  string  `json:"room_name"`
	LatencyMS float64 `json:"latency_ms"`
}

// NewLatencyTracker builds a tracker. An empty logPath disables the file log;
// measurements are still reported through the logger.
func NewLatencyTracker(logPath string, logger *slog.Logger) *LatencyTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &LatencyTracker{
		pending: make(map[string]time.Time),
		logPath: logPath,
		log:     logger.With("component", "latency"),
	}
}

// UserSpeechEnded marks the start of the measured interval for roomName.
// A second call before the agent speaks restarts the measurement.
func (t *LatencyTracker) UserSpeechEnded(roomName string) {
	t.mu.Lock()
	t.pending[roomName] = time.Now()
	t.mu.Unlock()
	t.log.Debug("user speech ended", "room", roomName)
}

// AgentSpeechStarted completes the measurement for roomName. It returns the
// measured latency, or false when no user speech end was pending.
func (t *LatencyTracker) AgentSpeechStarted(roomName string) (time.Duration, bool) {
	t.mu.Lock()
	start, ok := t.pending[roomName]
	if ok {
		delete(t.pending, roomName)
	}
	t.mu.Unlock()
	if !ok {
		return 0, false
	}

	latency := time.Since(start)
	t.log.Info("end-to-end latency measured",
		"room", roomName,
		"latency_ms", float64(latency.Microseconds())/1000)
	t.append(roomName, latency)
	return latency, true
}

// Forget drops a pending measurement, e.g. when the turn was abandoned.
func (t *LatencyTracker) Forget(roomName string) {
	t.mu.Lock()
	delete(t.pending, roomName)
	t.mu.Unlock()
}

// append writes one entry to the log file. Failures are logged and dropped;
// latency accounting must never affect the audio path.
func (t *LatencyTracker) append(roomName string, latency time.Duration) {
	if t.logPath == "" {
		return
	}

	line, err := json.Marshal(latencyEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		RoomName:  roomName,
		LatencyMS: float64(latency.Microseconds()) / 1000,
	})
	if err != nil {
		t.log.Warn("latency entry encode failed", "error", err)
		return
	}

	f, err := os.OpenFile(t.logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.log.Warn("latency log open failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		t.log.Warn("latency log write failed", "error", err)
	}
}

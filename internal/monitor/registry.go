package monitor

import (
	"sync"

	"github.com/kvnkishore11/agentickanban/internal/logging"
	"github.com/kvnkishore11/agentickanban/pkg/events"
)

// LogStreamer is the outer registry mapping adw_id to its Monitor,
// guarded by a single mutex, per spec.md §4.E.
type LogStreamer struct {
	mu          sync.Mutex
	monitors    map[string]*Monitor
	agentsDir   string
	specsDir    string
	eventCh     chan<- events.Event
}

// NewLogStreamer constructs an empty registry. eventCh is shared by
// every Monitor it starts; a single consumer elsewhere drains it into
// the connection manager.
func NewLogStreamer(agentsDir, specsDir string, eventCh chan<- events.Event) *LogStreamer {
	return &LogStreamer{
		monitors:  make(map[string]*Monitor),
		agentsDir: agentsDir,
		specsDir:  specsDir,
		eventCh:   eventCh,
	}
}

// Start begins monitoring adwID. Refuses (logging a warning, not an
// error) if a monitor for adwID already exists.
func (ls *LogStreamer) Start(adwID string) error {
	ls.mu.Lock()
	if _, exists := ls.monitors[adwID]; exists {
		ls.mu.Unlock()
		logging.Warn("logstreamer: monitor for %s already running", adwID)
		return nil
	}
	m := New(adwID, ls.agentsDir, ls.specsDir, ls.eventCh)
	ls.monitors[adwID] = m
	ls.mu.Unlock()

	return m.Start()
}

// Stop halts and removes the monitor for adwID. No-op if absent.
func (ls *LogStreamer) Stop(adwID string) {
	ls.mu.Lock()
	m, ok := ls.monitors[adwID]
	if ok {
		delete(ls.monitors, adwID)
	}
	ls.mu.Unlock()

	if ok {
		m.Stop()
	}
}

// StopAll halts every currently tracked monitor.
func (ls *LogStreamer) StopAll() {
	ls.mu.Lock()
	all := make([]*Monitor, 0, len(ls.monitors))
	for _, m := range ls.monitors {
		all = append(all, m)
	}
	ls.monitors = make(map[string]*Monitor)
	ls.mu.Unlock()

	for _, m := range all {
		m.Stop()
	}
}

// Active reports whether adwID currently has a running monitor.
func (ls *LogStreamer) Active(adwID string) bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	_, ok := ls.monitors[adwID]
	return ok
}

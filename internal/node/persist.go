package node

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/codespacesh/codewire/internal/session"
	"github.com/codespacesh/codewire/internal/wire"
)

// persistDebounce is the idle window the coordinator waits after a signal
// before snapshotting: a burst of signals within this window coalesces
// into one write.
const persistDebounce = 500 * time.Millisecond

// persistCoordinator is the single background task that consumes
// session.Manager's persist signal channel and debounces it into one
// snapshot write.
type persistCoordinator struct {
	mgr    *session.Manager
	stopCh chan struct{}
	done   chan struct{}
}

func startPersistCoordinator(mgr *session.Manager) *persistCoordinator {
	p := &persistCoordinator{
		mgr:    mgr,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *persistCoordinator) run() {
	defer close(p.done)

	pending := false
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-p.mgr.PersistSignal():
			if !pending {
				pending = true
				timer = time.NewTimer(persistDebounce)
				timerC = timer.C
			}

		case <-timerC:
			pending = false
			timerC = nil
			p.writeSnapshot()

		case <-p.stopCh:
			if timer != nil {
				timer.Stop()
			}
			p.writeSnapshot()
			return
		}
	}
}

func (p *persistCoordinator) writeSnapshot() {
	file := wire.SessionsFile{
		NodeBootID: p.mgr.NodeBootID,
		Sessions:   p.mgr.Snapshot(),
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return
	}

	path := filepath.Join(p.mgr.DataDir(), "sessions.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	os.Rename(tmp, path)
}

func (p *persistCoordinator) stop() {
	close(p.stopCh)
	<-p.done
}

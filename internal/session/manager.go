package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/codespacesh/codewire/internal/wire"
)

// Manager is a concurrent registry of sessions keyed by monotonic id,
// exposing the lifecycle verbs every transport (local, WebSocket, fleet)
// dispatches onto. Ids are never reused. The single coarse mutex here guards
// only map membership — all other state (output, input, status) lives in
// per-Session channels read outside the lock, so ListSessions never blocks
// behind an Attach.
type Manager struct {
	dataDir    string
	sessionDir string
	NodeBootID string

	mu       sync.RWMutex
	sessions map[uint32]*Session
	nextID   atomic.Uint32

	persistCh chan struct{}
}

// NewManager constructs a Manager rooted at dataDir, restoring the next-id
// counter from dataDir/sessions.json if present. A corrupt sessions.json is
// renamed to sessions.json.corrupt.<timestamp> and treated as empty.
func NewManager(dataDir string) (*Manager, error) {
	sessionDir := filepath.Join(dataDir, "sessions")
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, err
	}

	m := &Manager{
		dataDir:    dataDir,
		sessionDir: sessionDir,
		NodeBootID: uuid.NewString(),
		sessions:   make(map[uint32]*Session),
		persistCh:  make(chan struct{}, 1),
	}

	maxID, err := m.loadNextID()
	if err != nil {
		return nil, err
	}
	m.nextID.Store(maxID + 1)

	return m, nil
}

func (m *Manager) metaPath() string { return filepath.Join(m.dataDir, "sessions.json") }

// DataDir returns the root directory this Manager was constructed with, for
// callers (the persistence coordinator) that need to place sessions.json
// next to it.
func (m *Manager) DataDir() string { return m.dataDir }

// loadNextID reads sessions.json (if present) purely to seed the id
// counter; live sessions are never restored — the child processes do not
// survive the Node that launched them.
func (m *Manager) loadNextID() (uint32, error) {
	path := m.metaPath()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var file wire.SessionsFile
	if err := json.Unmarshal(data, &file); err != nil {
		backup := fmt.Sprintf("%s.corrupt.%s", path, time.Now().UTC().Format("20060102_150405"))
		_ = os.Rename(path, backup)
		return 0, nil
	}

	var max uint32
	for _, s := range file.Sessions {
		if s.ID > max {
			max = s.ID
		}
	}
	return max, nil
}

// PersistSignal exposes the channel the persistence coordinator (internal
// /node/persist.go) selects on; every mutating verb below signals it
// non-blockingly.
func (m *Manager) PersistSignal() <-chan struct{} { return m.persistCh }

func (m *Manager) signalPersist() {
	select {
	case m.persistCh <- struct{}{}:
	default:
	}
}

// Snapshot returns every session's persistable metadata, for the
// persistence coordinator to serialize.
func (m *Manager) Snapshot() []wire.SessionMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metas := make([]wire.SessionMeta, 0, len(m.sessions))
	for _, s := range m.sessions {
		metas = append(metas, s.meta())
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].ID < metas[j].ID })
	return metas
}

// Launch validates and starts a new session, inserting it into the
// registry.
func (m *Manager) Launch(command []string, workingDir string) (uint32, error) {
	// The counter is seeded at >=1 (NewManager), so this never produces 0 —
	// which matters because id 0 is reserved as the auto-attach sentinel
	// (Attach's "no id given" case).
	id := m.nextID.Add(1) - 1

	logPath := filepath.Join(m.sessionDir, fmt.Sprint(id), "output.log")
	s, err := launch(id, command, workingDir, logPath)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.signalPersist()
	go m.watchForTermination(s)

	return id, nil
}

// watchForTermination signals the persistence coordinator as soon as a
// session reaches a terminal status, so a snapshot reflecting that
// transition lands on disk without waiting for the periodic refresh.
func (m *Manager) watchForTermination(s *Session) {
	for {
		st, changed := s.status.subscribe()
		if st.Terminal() {
			m.signalPersist()
			return
		}
		<-changed
	}
}

// List returns every SessionInfo sorted by id ascending.
func (m *Manager) List() []wire.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	infos := make([]wire.SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (m *Manager) lookup(id uint32) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, wire.NotFound(id)
	}
	return s, nil
}

// AttachHandle bundles the output, input, and status channel handles
// returned by Attach, consumed by the Node dispatcher's Attach Bridge.
type AttachHandle struct {
	ID uint32
	s  *Session
	rx *subscriber
}

// RecvOutput blocks for the next output chunk.
func (h *AttachHandle) RecvOutput(ctx context.Context) (chunk []byte, lag int, ok bool) {
	return h.rx.recv(ctx)
}

// SendInput enqueues client bytes onto the session's input FIFO.
func (h *AttachHandle) SendInput(data []byte) (int, error) { return h.s.sendInput(data) }

// StatusNow and StatusChanged expose the status observable.
func (h *AttachHandle) StatusNow() Status { return h.s.status.get() }
func (h *AttachHandle) StatusChanged() <-chan struct{} {
	_, ch := h.s.status.subscribe()
	return ch
}

// Attach preconditions a session exists and is Running, then increments
// attach_count and returns its channel handles. An id of 0 is the
// auto-attach sentinel: resolves to the oldest Running, unattached session.
func (m *Manager) Attach(id uint32) (*AttachHandle, error) {
	var s *Session
	var err error
	if id == 0 {
		s, err = m.oldestAttachable()
	} else {
		s, err = m.lookup(id)
	}
	if err != nil {
		return nil, err
	}

	st := s.status.get()
	if st.Terminal() {
		return nil, wire.NotRunning(s.ID, st.String())
	}

	s.incAttach()
	m.signalPersist()
	return &AttachHandle{ID: s.ID, s: s, rx: s.output.subscribe()}, nil
}

// oldestAttachable implements the auto-attach policy: the oldest Running,
// unattached session.
func (m *Manager) oldestAttachable() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best *Session
	for _, s := range m.sessions {
		if s.status.get().Kind != Running || s.isAttached() {
			continue
		}
		if best == nil || s.ID < best.ID {
			best = s
		}
	}
	if best == nil {
		return nil, wire.NotFound(0)
	}
	return best, nil
}

// Watch returns the same channel handles as Attach, but does not touch
// attach_count: a watcher is a read-only observer, distinct from Attach's
// exclusive-ish, advisory-counted session ownership. Unlike Attach, a
// terminal session is not rejected — a watcher may legitimately connect
// just in time to observe the final status transition.
func (m *Manager) Watch(id uint32) (*AttachHandle, error) {
	s, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return &AttachHandle{ID: s.ID, s: s, rx: s.output.subscribe()}, nil
}

// Detach decrements attach_count (saturating at zero). NotFound is returned
// only when the id was never issued; a known id that has already reached a
// terminal status detaches successfully.
func (m *Manager) Detach(id uint32) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.decAttach()
	m.signalPersist()
	return nil
}

// SendInput is the cross-session, non-attach send path.
func (m *Manager) SendInput(id uint32, data []byte) (int, error) {
	s, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	return s.sendInput(data)
}

// Resize calls a session's PTY resize. Only meaningful within an attach
// bridge; see internal/node's standalone top-level Resize handler, which
// acks without calling this (no session id at that layer).
func (m *Manager) Resize(id uint32, cols, rows uint16) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	return s.resize(cols, rows)
}

// Kill transitions a session to Killed and signals SIGTERM.
func (m *Manager) Kill(id uint32) error {
	s, err := m.lookup(id)
	if err != nil {
		return err
	}
	s.kill()
	m.signalPersist()
	return nil
}

// KillAll snapshots every Running session then kills each, returning the
// snapshot size.
func (m *Manager) KillAll() int {
	m.mu.RLock()
	var running []*Session
	for _, s := range m.sessions {
		if s.status.get().Kind == Running {
			running = append(running, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range running {
		s.kill()
	}
	if len(running) > 0 {
		m.signalPersist()
	}
	return len(running)
}

// LogPath returns a session's append-only log file path.
func (m *Manager) LogPath(id uint32) (string, error) {
	s, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	return s.LogPath, nil
}

// GetStatus returns the enriched SessionInfo (last <=5 log lines as
// last_output_snippet) plus the log file's current size.
func (m *Manager) GetStatus(id uint32) (wire.SessionInfo, uint64, error) {
	s, err := m.lookup(id)
	if err != nil {
		return wire.SessionInfo{}, 0, err
	}

	info := s.info()
	var size uint64
	if fi, err := os.Stat(s.LogPath); err == nil {
		size = uint64(fi.Size())
	}
	info.OutputSizeBytes = &size

	if snippet, err := tailLines(s.LogPath, 5); err == nil && snippet != "" {
		info.LastOutputSnippet = &snippet
	}

	return info, size, nil
}

// RefreshStatuses signals the persistence coordinator unconditionally. It
// runs on a periodic timer alongside the event-driven signal in
// watchForTermination, as a belt-and-braces catch-all for any transition a
// caller might otherwise miss rather than the sole signal path.
func (m *Manager) RefreshStatuses() {
	m.signalPersist()
}

// Package session implements Session and Manager: PTY-backed child process
// ownership, output fan-out, input queueing, and the concurrent registry
// that launches, lists, attaches to, and kills sessions.
package session

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/codespacesh/codewire/internal/wire"
)

const (
	inputQueueCapacity = 256
	readBufferSize     = 4096
)

// Session owns one child process and its PTY.
type Session struct {
	ID         uint32
	Command    []string
	WorkingDir string
	CreatedAt  time.Time
	LogPath    string

	output *broadcast
	input  chan []byte
	status *latch

	// mu guards ptm and pid: the only state contended between the reader
	// (owns read side), resize (brief critical section on the master), and
	// Info/GetStatus snapshots.
	mu  sync.Mutex
	ptm *os.File
	pid int

	// attachMu guards attachCount, incremented/decremented by the Session
	// Manager's attach/detach verbs. It is advisory only: nothing blocks on
	// it, it just reports whether anyone is watching.
	attachMu    sync.Mutex
	attachCount int

	done chan struct{} // closed once reader+waiter have both finished
}

// launch validates argv and working_dir, opens a PTY at 80x24, spawns the
// child, and starts the reader/writer/waiter workers.
func launch(id uint32, command []string, workingDir, logPath string) (*Session, error) {
	if len(command) == 0 {
		return nil, wire.InvalidCommand("command must not be empty")
	}
	if err := validateExecutable(command[0]); err != nil {
		return nil, wire.InvalidCommand(err.Error())
	}
	if fi, err := os.Stat(workingDir); err != nil || !fi.IsDir() {
		return nil, wire.InvalidCommand(fmt.Sprintf("working_dir does not exist or is not a directory: %s", workingDir))
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, wire.Internal(err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Dir = workingDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: 80, Rows: 24})
	if err != nil {
		return nil, wire.Internal(fmt.Errorf("pty.Start: %w", err))
	}

	s := &Session{
		ID:         id,
		Command:    command,
		WorkingDir: workingDir,
		CreatedAt:  time.Now().UTC(),
		LogPath:    logPath,
		output:     newBroadcast(),
		input:      make(chan []byte, inputQueueCapacity),
		status:     newLatch(Status{Kind: Running}),
		ptm:        ptm,
		pid:        cmd.Process.Pid,
		done:       make(chan struct{}),
	}

	logFd, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, wire.Internal(err)
	}

	readerDone := make(chan struct{})
	go s.readerLoop(logFd, readerDone)
	go s.writerLoop()
	go s.waiterLoop(cmd, readerDone)

	return s, nil
}

// validateExecutable requires an absolute argv[0] to exist on disk; a
// relative one must resolve via PATH.
func validateExecutable(name string) error {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return fmt.Errorf("executable not found: %s", name)
		}
		return nil
	}
	if _, err := exec.LookPath(name); err != nil {
		return fmt.Errorf("executable not found on PATH: %s", name)
	}
	return nil
}

// readerLoop blocks on reads from the PTY master, appending each chunk to
// the log before publishing it to the broadcast so a subscriber never sees
// output that isn't already durable. It never blocks on subscribers and
// exits on EOF/EIO/read error or once status is observed non-Running.
func (s *Session) readerLoop(logFd *os.File, readerDone chan struct{}) {
	defer close(readerDone)
	defer logFd.Close()
	defer s.output.close()

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.ptm.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			logFd.Write(chunk)
			s.output.publish(chunk)
		}
		if err != nil {
			return
		}
		if s.status.get().Terminal() {
			return
		}
	}
}

// writerLoop drains the input FIFO and writes each buffer to the PTY
// master, exiting on queue close or write error.
func (s *Session) writerLoop() {
	for chunk := range s.input {
		s.mu.Lock()
		ptm := s.ptm
		s.mu.Unlock()
		if ptm == nil {
			return
		}
		if _, err := ptm.Write(chunk); err != nil {
			return
		}
	}
}

// waiterLoop blocks on the child's exit and transitions status to
// Completed(exit_code), unless a concurrent kill already transitioned to
// Killed (the latch's idempotent terminal transition makes this a no-op in
// that case).
func (s *Session) waiterLoop(cmd *exec.Cmd, readerDone chan struct{}) {
	<-readerDone
	err := cmd.Wait()

	exitCode := 0
	if err != nil {
		exitCode = -1
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		}
	}
	s.status.set(Status{Kind: Completed, ExitCode: exitCode})

	s.mu.Lock()
	if s.ptm != nil {
		s.ptm.Close()
		s.ptm = nil
	}
	s.mu.Unlock()

	close(s.input)
	close(s.done)
}

// resize calls the PTY master resize; a short critical section on ptm is
// the only thing it shares with the reader.
func (s *Session) resize(cols, rows uint16) error {
	s.mu.Lock()
	ptm := s.ptm
	s.mu.Unlock()
	if ptm == nil {
		return wire.NotRunning(s.ID, s.status.get().String())
	}
	return pty.Setsize(ptm, &pty.Winsize{Cols: cols, Rows: rows})
}

// sendInput is a non-blocking enqueue on the input FIFO: fails with Busy
// rather than waiting if the queue is full.
func (s *Session) sendInput(data []byte) (int, error) {
	if s.status.get().Terminal() {
		return 0, wire.NotRunning(s.ID, s.status.get().String())
	}
	select {
	case s.input <- data:
		return len(data), nil
	default:
		return 0, wire.Busy(s.ID)
	}
}

// kill transitions status to Killed and signals SIGTERM to the process
// group; any Waiter result observed afterward is discarded because the
// latch's terminal transition is sticky.
func (s *Session) kill() {
	s.status.set(Status{Kind: Killed})

	s.mu.Lock()
	pid := s.pid
	s.mu.Unlock()
	if pid <= 0 {
		return
	}
	if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 0 {
		syscall.Kill(-pgid, syscall.SIGTERM)
	} else {
		syscall.Kill(pid, syscall.SIGTERM)
	}
}

// pidOrZero reports the child pid, or zero if the process has already
// exited and released it.
func (s *Session) pidOrZero() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ptm == nil {
		return 0
	}
	return s.pid
}

// incAttach/decAttach maintain an advisory attach count, saturating at
// zero on decrement rather than wrapping.
func (s *Session) incAttach() {
	s.attachMu.Lock()
	s.attachCount++
	s.attachMu.Unlock()
}

func (s *Session) decAttach() {
	s.attachMu.Lock()
	if s.attachCount > 0 {
		s.attachCount--
	}
	s.attachMu.Unlock()
}

func (s *Session) isAttached() bool {
	s.attachMu.Lock()
	defer s.attachMu.Unlock()
	return s.attachCount > 0
}

// info builds the wire-safe SessionInfo snapshot.
func (s *Session) info() wire.SessionInfo {
	st := s.status.get()
	info := wire.SessionInfo{
		ID:         s.ID,
		Command:    strings.Join(s.Command, " "),
		WorkingDir: s.WorkingDir,
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
		Status:     st.String(),
		Attached:   s.isAttached(),
	}
	if pid := s.pidOrZero(); pid > 0 {
		info.PID = &pid
	}
	return info
}

// meta builds the persistable projection.
func (s *Session) meta() wire.SessionMeta {
	return wire.SessionMeta{
		ID:         s.ID,
		Command:    strings.Join(s.Command, " "),
		WorkingDir: s.WorkingDir,
		CreatedAt:  s.CreatedAt.Format(time.RFC3339),
		Status:     s.status.get().String(),
		PID:        s.pidOrZero(),
	}
}

// Package ipc exposes the sync state over a unix socket. Clients get the
// full snapshot on connect, then one JSON frame per change, newline
// delimited. Frames from the client carry user commands back to the engine.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/Kalmaegi/NowLyrics/internal/app"
)

var logger = log.With().Str("component", "ipc").Logger()

// Commander is the subset of the engine a client can drive. *app.App
// implements it.
type Commander interface {
	SelectCandidate(timelineID string)
	AdjustOffset(deltaMs int)
	SearchAgain()
}

// Command is one inbound client frame.
type Command struct {
	Cmd        string `json:"cmd"` // "select" | "offset" | "search_again"
	TimelineID string `json:"timeline_id,omitempty"`
	DeltaMs    int    `json:"delta_ms,omitempty"`
}

// Server owns the socket, a PID lock guarding single-instance operation,
// and the set of connected clients.
type Server struct {
	socketPath   string
	lockFilePath string
	feed         *app.Feed
	engine       Commander

	listener net.Listener
	lockFile *os.File

	mu      sync.Mutex
	clients map[net.Conn]struct{}
	closed  bool
}

// NewServer creates a server over the given feed and engine.
func NewServer(socketPath string, feed *app.Feed, engine Commander) *Server {
	return &Server{
		socketPath:   socketPath,
		lockFilePath: socketPath + ".lock",
		feed:         feed,
		engine:       engine,
		clients:      make(map[net.Conn]struct{}),
	}
}

// Start acquires the instance lock, binds the socket and begins serving.
func (s *Server) Start() error {
	if err := s.acquireLock(); err != nil {
		return err
	}
	if err := os.RemoveAll(s.socketPath); err != nil {
		s.releaseLock()
		return fmt.Errorf("remove stale socket: %w", err)
	}

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.releaseLock()
		return fmt.Errorf("listen %s: %w", s.socketPath, err)
	}
	s.listener = listener
	logger.Info().Str("socket", s.socketPath).Msg("ipc server listening")

	go s.acceptLoop()
	go s.broadcastLoop()
	return nil
}

// Close stops accepting, drops every client and releases the lock.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.Close()
	}
	s.releaseLock()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			logger.Error().Err(err).Msg("accept failed")
			continue
		}
		go s.handleConn(conn)
	}
}

// broadcastLoop fans feed updates out to every client. A client whose write
// fails is pruned; it can reconnect and resync from the snapshot.
func (s *Server) broadcastLoop() {
	id, updates := s.feed.Subscribe()
	defer s.feed.Unsubscribe(id)

	for u := range updates {
		frame, err := json.Marshal(u)
		if err != nil {
			logger.Error().Err(err).Msg("marshal update failed")
			continue
		}
		frame = append(frame, '\n')

		s.mu.Lock()
		for conn := range s.clients {
			if _, err := conn.Write(frame); err != nil {
				logger.Debug().Err(err).Msg("client write failed, dropping")
				conn.Close()
				delete(s.clients, conn)
			}
		}
		s.mu.Unlock()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	logger.Info().Msg("client connected")

	// Registration, snapshot read and the first write share the broadcast
	// lock: anything published before the snapshot is in it, anything after
	// reaches the now-registered client. Frames repeat the full snapshot,
	// so the overlap case is harmless.
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[conn] = struct{}{}
	snap := app.Update{Field: "snapshot", Snapshot: s.feed.Snapshot()}
	frame, err := json.Marshal(snap)
	if err == nil {
		_, err = conn.Write(append(frame, '\n'))
	}
	if err != nil {
		delete(s.clients, conn)
		s.mu.Unlock()
		logger.Warn().Err(err).Msg("initial snapshot write failed")
		conn.Close()
		return
	}
	s.mu.Unlock()

	// Read commands until the client goes away.
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			logger.Warn().Err(err).Msg("bad command frame")
			continue
		}
		s.dispatch(cmd)
	}

	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
	logger.Info().Msg("client disconnected")
}

func (s *Server) dispatch(cmd Command) {
	switch cmd.Cmd {
	case "select":
		logger.Info().Str("timeline", cmd.TimelineID).Msg("client selected timeline")
		s.engine.SelectCandidate(cmd.TimelineID)
	case "offset":
		logger.Info().Int("delta_ms", cmd.DeltaMs).Msg("client adjusted offset")
		s.engine.AdjustOffset(cmd.DeltaMs)
	case "search_again":
		logger.Info().Msg("client requested re-search")
		s.engine.SearchAgain()
	default:
		logger.Warn().Str("cmd", cmd.Cmd).Msg("unknown command")
	}
}

// acquireLock takes an exclusive flock on a PID file next to the socket so
// only one instance serves a given socket path.
func (s *Server) acquireLock() error {
	s.cleanStaleLock()

	file, err := os.OpenFile(s.lockFilePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return fmt.Errorf("another instance is already serving %s", s.socketPath)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}
	if _, err := fmt.Fprintf(file, "%d\n", os.Getpid()); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return fmt.Errorf("write pid: %w", err)
	}

	s.lockFile = file
	logger.Debug().Str("lock", s.lockFilePath).Int("pid", os.Getpid()).Msg("instance lock acquired")
	return nil
}

// cleanStaleLock removes a lock file left behind by a dead process.
func (s *Server) cleanStaleLock() {
	content, err := os.ReadFile(s.lockFilePath)
	if err != nil {
		return
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(content)))
	if err != nil || !processAlive(pid) {
		logger.Info().Str("lock", s.lockFilePath).Msg("removing stale lock file")
		os.Remove(s.lockFilePath)
	}
}

// processAlive probes the pid with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}

func (s *Server) releaseLock() {
	if s.lockFile == nil {
		return
	}
	syscall.Flock(int(s.lockFile.Fd()), syscall.LOCK_UN)
	s.lockFile.Close()
	os.Remove(s.lockFilePath)
	s.lockFile = nil
}

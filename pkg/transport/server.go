package transport

import (
	"sync"

	"golang.org/x/sys/unix"

	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
)

// Frame is one payload delivered by Server.Read, tagged with the client it
// arrived from.
type Frame struct {
	Client  string
	Payload []byte
}

// Server multiplexes framed reads across every registered client's FIFO
// and lazily opens write ends on first outbound message (spec.md §4.1
// "Server contract"), grounded on original_source's reader_writer class
// (src/lib/transport.cpp) and its round-robin poll-batch draining.
type Server struct {
	mu         sync.Mutex
	readFDs    map[string]int // client -> read fd
	fdToClient map[int]string
	writeFDs   map[string]int // client -> write fd, populated lazily
	breakers   map[string]*breaker
	errClients map[string]bool // clients isolated after a read/write error

	pollList []unix.PollFd
	ready    []int // fds ready in the current poll batch, drained before re-polling
}

// NewServer prepares a read end for every allowed client name and wires
// the read fds into the multiplexer (spec.md §4.1 "init(clients)").
func NewServer(clients []string) (*Server, error) {
	s := &Server{
		readFDs:    make(map[string]int, len(clients)),
		fdToClient: make(map[int]string, len(clients)),
		writeFDs:   make(map[string]int, len(clients)),
		breakers:   make(map[string]*breaker, len(clients)),
		errClients: make(map[string]bool),
	}
	for _, c := range clients {
		toEngine, _ := fifoPaths(c)
		fd, err := openNonBlockingRead(toEngine)
		if err != nil {
			return nil, err
		}
		s.readFDs[c] = fd
		s.fdToClient[fd] = c
		s.breakers[c] = newBreaker(c)
		s.pollList = append(s.pollList, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
	}
	return s, nil
}

// Read multiplexes across all client read fds using an OS-level poll.
// It delivers one frame at a time, round-robining only through fds that
// became ready in the current poll batch, draining the batch before
// re-polling (spec.md §4.1). timeoutSeconds of -1 blocks indefinitely; 0
// polls once without blocking. Returns (nil, nil) on timeout.
func (s *Server) Read(timeoutSeconds int) (*Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if len(s.ready) == 0 {
			if err := s.pollOnce(timeoutSeconds); err != nil {
				return nil, err
			}
			if len(s.ready) == 0 {
				return nil, nil // timeout
			}
		}

		fd := s.ready[0]
		s.ready = s.ready[1:]
		client := s.fdToClient[fd]
		if s.errClients[client] {
			continue
		}

		payload, err := readFrame(fd)
		if err != nil {
			s.errClients[client] = true
			return nil, lomerrors.FailedToWithDetails("read frame", "transport", client, err)
		}
		return &Frame{Client: client, Payload: payload}, nil
	}
}

func (s *Server) pollOnce(timeoutSeconds int) error {
	ms := timeoutSeconds * 1000
	if timeoutSeconds < 0 {
		ms = -1
	}

	fds := make([]unix.PollFd, len(s.pollList))
	copy(fds, s.pollList)
	for i := range fds {
		fds[i].Revents = 0
	}

	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return lomerrors.FailedTo("poll transport fds", err)
	}
	if n == 0 {
		return nil
	}

	for _, pfd := range fds {
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			s.ready = append(s.ready, int(pfd.Fd))
		}
	}
	return nil
}

// Write lazily opens the write fd on first call and reuses it on
// subsequent calls, routing the write through a per-client circuit
// breaker so a peer whose writes keep failing is rejected fast instead of
// being written to again. The open and the write themselves are blocking:
// a peer with no reader or a full pipe blocks the caller (spec.md §4.1
// "write(client_name, payload)"; breaker detailed in SPEC_FULL.md DOMAIN
// STACK).
func (s *Server) Write(client string, payload []byte) error {
	s.mu.Lock()
	fd, ok := s.writeFDs[client]
	if !ok {
		_, toClient := fifoPaths(client)
		var err error
		fd, err = openBlockingWrite(toClient)
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.writeFDs[client] = fd
	}
	b := s.breakers[client]
	s.mu.Unlock()

	_, err := b.execute(func() (interface{}, error) {
		return nil, writeFrame(fd, payload)
	})
	if err != nil {
		s.mu.Lock()
		s.errClients[client] = true
		s.mu.Unlock()
		return lomerrors.FailedToWithDetails("write frame", "transport", client, err)
	}
	return nil
}

// IsIsolated reports whether client has been isolated after a read or
// write failure (spec.md §4.1 "Failure semantics").
func (s *Server) IsIsolated(client string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errClients[client]
}

// Close releases every fd the server owns.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for _, fd := range s.readFDs {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	for _, fd := range s.writeFDs {
		if err := unix.Close(fd); err != nil && first == nil {
			first = err
		}
	}
	return first
}

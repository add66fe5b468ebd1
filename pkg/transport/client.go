package transport

import (
	"golang.org/x/sys/unix"
)

// Client is the symmetric, single-endpoint counterpart to Server (spec.md
// §4.1 "Client contract").
type Client struct {
	name     string
	readFD   int
	writeFD  int
	wOpened  bool
	toClient string
	toEngine string
}

// NewClient opens the read end for name immediately; the write end is
// opened lazily on first Write, mirroring Server's lazy-open contract.
func NewClient(name string) (*Client, error) {
	toEngine, toClient := fifoPaths(name)
	fd, err := openNonBlockingRead(toClient)
	if err != nil {
		return nil, err
	}
	return &Client{name: name, readFD: fd, toClient: toClient, toEngine: toEngine}, nil
}

// GetReadFD exposes the underlying read fd so plugin hosts can integrate
// it into their own event loops (spec.md §4.1 "get_read_fd()").
func (c *Client) GetReadFD() int {
	return c.readFD
}

// Read blocks (subject to timeoutSeconds, -1 for indefinite, 0 for a
// single poll) until a frame is available, or returns (nil, nil) on
// timeout.
func (c *Client) Read(timeoutSeconds int) ([]byte, error) {
	ms := timeoutSeconds * 1000
	if timeoutSeconds < 0 {
		ms = -1
	}
	fds := []unix.PollFd{{Fd: int32(c.readFD), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return readFrame(c.readFD)
}

// Write lazily opens the write fd on first call and reuses it afterward.
func (c *Client) Write(payload []byte) error {
	if !c.wOpened {
		fd, err := openBlockingWrite(c.toEngine)
		if err != nil {
			return err
		}
		c.writeFD = fd
		c.wOpened = true
	}
	return writeFrame(c.writeFD, payload)
}

// Close releases the client's fds.
func (c *Client) Close() error {
	var first error
	if err := unix.Close(c.readFD); err != nil {
		first = err
	}
	if c.wOpened {
		if err := unix.Close(c.writeFD); err != nil && first == nil {
			first = err
		}
	}
	return first
}

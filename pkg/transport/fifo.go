// Package transport implements the framed FIFO IPC channel between the
// engine and its registered clients (spec.md §4.1).
package transport

import (
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	lomerrors "github.com/sonic-net/lom-engine/pkg/shared/errors"
)

// MaxFrameBytes is the largest JSON payload a single frame may carry;
// larger frames are a protocol error (spec.md §4.1 "Framing").
const MaxFrameBytes = 2048

const lengthPrefixBytes = 4

// fifoPaths returns the canonical client-to-engine and engine-to-client
// FIFO paths for client (spec.md §4.1 "Topology").
func fifoPaths(client string) (toEngine, toClient string) {
	return fmt.Sprintf("/tmp/lom_fifo_%s_to_engine", client),
		fmt.Sprintf("/tmp/lom_fifo_engine_to_%s", client)
}

// ensureFifo creates the FIFO node at path if it does not already exist.
func ensureFifo(path string) error {
	err := unix.Mkfifo(path, 0o600)
	if err != nil && err != unix.EEXIST {
		return lomerrors.FailedToWithDetails("create fifo", "transport", path, err)
	}
	return nil
}

// openNonBlockingRead opens path for non-blocking read, creating the node
// first if necessary.
func openNonBlockingRead(path string) (int, error) {
	if err := ensureFifo(path); err != nil {
		return -1, err
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, lomerrors.FailedToWithDetails("open fifo for read", "transport", path, err)
	}
	return fd, nil
}

// openBlockingWrite opens path for write, creating the node first if
// necessary. The open blocks until a reader is present on the peer side
// (spec.md §4.1 "a writer cannot open a FIFO until a reader exists").
func openBlockingWrite(path string) (int, error) {
	if err := ensureFifo(path); err != nil {
		return -1, err
	}
	fd, err := unix.Open(path, unix.O_WRONLY, 0)
	if err != nil {
		return -1, lomerrors.FailedToWithDetails("open fifo for write", "transport", path, err)
	}
	return fd, nil
}

// writeFrame writes a single length-prefixed frame to fd. Payloads larger
// than MaxFrameBytes are rejected before any bytes are written.
func writeFrame(fd int, payload []byte) error {
	if len(payload) > MaxFrameBytes {
		return lomerrors.ValidationError("payload", fmt.Sprintf("frame of %d bytes exceeds max %d", len(payload), MaxFrameBytes))
	}
	header := make([]byte, lengthPrefixBytes)
	binary.NativeEndian.PutUint32(header, uint32(len(payload)))

	if err := writeAll(fd, header); err != nil {
		return lomerrors.FailedTo("write frame header", err)
	}
	if err := writeAll(fd, payload); err != nil {
		return lomerrors.FailedTo("write frame payload", err)
	}
	return nil
}

// writeAll retries short writes until buf is fully written or an error
// occurs (spec.md §4.1 "Short writes are treated as fatal for that peer" —
// fatal refers to the caller's handling after writeAll itself exhausts
// retries, not to a single partial unix.Write return).
func writeAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Write(fd, buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return os.ErrClosed
		}
		buf = buf[n:]
	}
	return nil
}

// readFrame reads a single length-prefixed frame from fd, which must
// already be known to have data available (e.g. via poll).
func readFrame(fd int) ([]byte, error) {
	header := make([]byte, lengthPrefixBytes)
	if err := readAll(fd, header); err != nil {
		return nil, lomerrors.FailedTo("read frame header", err)
	}
	n := binary.NativeEndian.Uint32(header)
	if n > MaxFrameBytes {
		return nil, lomerrors.ValidationError("frame length", fmt.Sprintf("%d exceeds max %d", n, MaxFrameBytes))
	}
	payload := make([]byte, n)
	if n > 0 {
		if err := readAll(fd, payload); err != nil {
			return nil, lomerrors.FailedTo("read frame payload", err)
		}
	}
	return payload, nil
}

func readAll(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				continue
			}
			return err
		}
		if n == 0 {
			return os.ErrClosed
		}
		buf = buf[n:]
	}
	return nil
}

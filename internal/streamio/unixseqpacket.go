package streamio

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrNoClientConnected is returned by SeqpacketWriter.Write when no
// connected peer is recorded after Open returns (for example, when Close
// ran concurrently).
var ErrNoClientConnected = errors.New("streamio: no client connected yet")

// seqpacketRecvBufferSize caps a single SOCK_SEQPACKET message.
const seqpacketRecvBufferSize = 128 * 1024

// SeqpacketReader connects to a SOCK_SEQPACKET Unix socket as a client; each
// Next reads exactly one datagram, so message boundaries never need
// explicit framing.
type SeqpacketReader struct {
	path string
	fd   int
}

func NewSeqpacketReader(path string) *SeqpacketReader {
	return &SeqpacketReader{path: path, fd: -1}
}

func (r *SeqpacketReader) Active() bool { return r.fd >= 0 }

func (r *SeqpacketReader) Open() error {
	if r.Active() {
		return nil
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("streamio: failed to create socket: %w", err)
	}

	for {
		err := unix.Connect(fd, &unix.SockaddrUnix{Name: r.path})
		if err == nil {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		unix.Close(fd)
		return fmt.Errorf("streamio: failed to connect to %q: %w", r.path, err)
	}

	r.fd = fd
	return nil
}

func (r *SeqpacketReader) Next() ([]byte, error) {
	if err := r.Open(); err != nil {
		return nil, err
	}

	buf := make([]byte, seqpacketRecvBufferSize)
	for {
		n, _, err := unix.Recvfrom(r.fd, buf, unix.MSG_TRUNC)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			if errors.Is(err, unix.ECONNRESET) {
				return nil, nil
			}
			return nil, fmt.Errorf("streamio: failed to read from socket: %w", err)
		}
		if n == 0 {
			return nil, nil
		}
		if n > len(buf) {
			return nil, fmt.Errorf("streamio: message truncated: received %d bytes, buffer size %d bytes", n, len(buf))
		}
		return buf[:n], nil
	}
}

func (r *SeqpacketReader) Close() error {
	if r.fd >= 0 {
		unix.Close(r.fd)
		r.fd = -1
	}
	return nil
}

// SeqpacketWriter listens on a SOCK_SEQPACKET Unix socket and accepts a
// single peer in the background; Open, and so Write, blocks until that
// peer has connected.
type SeqpacketWriter struct {
	path string

	mu         sync.Mutex
	listenerFd int
	clientFd   int
	acceptOnce sync.Once
	accepted   chan int
	acceptErr  error
}

func NewSeqpacketWriter(path string) *SeqpacketWriter {
	return &SeqpacketWriter{path: path, listenerFd: -1, clientFd: -1, accepted: make(chan int, 1)}
}

func (w *SeqpacketWriter) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.clientFd >= 0
}

func (w *SeqpacketWriter) createListener() error {
	if _, err := os.Stat(w.path); err == nil {
		if probe, dialErr := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0); dialErr == nil {
			connectErr := unix.Connect(probe, &unix.SockaddrUnix{Name: w.path})
			unix.Close(probe)
			if connectErr == nil {
				return fmt.Errorf("streamio: socket path %q is already in use", w.path)
			}
		}
		if err := os.Remove(w.path); err != nil {
			return fmt.Errorf("streamio: failed to remove stale socket file: %w", err)
		}
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("streamio: failed to create socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: w.path}); err != nil {
		unix.Close(fd)
		return fmt.Errorf("streamio: failed to bind socket: %w", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		unix.Close(fd)
		return fmt.Errorf("streamio: failed to listen on socket: %w", err)
	}

	w.listenerFd = fd
	return nil
}

func (w *SeqpacketWriter) Open() error {
	w.mu.Lock()
	if w.clientFd >= 0 {
		w.mu.Unlock()
		return nil
	}
	if w.listenerFd < 0 {
		if err := w.createListener(); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	listenerFd := w.listenerFd
	w.mu.Unlock()

	w.acceptOnce.Do(func() {
		go func() {
			for {
				fd, _, err := unix.Accept(listenerFd)
				if err != nil {
					if errors.Is(err, unix.EINTR) {
						continue
					}
					w.mu.Lock()
					w.acceptErr = fmt.Errorf("streamio: accept failed: %w", err)
					w.mu.Unlock()
					close(w.accepted)
					return
				}
				w.accepted <- fd
				close(w.accepted)
				return
			}
		}()
	})

	fd, ok := <-w.accepted
	if !ok {
		w.mu.Lock()
		err := w.acceptErr
		w.mu.Unlock()
		if err != nil {
			return err
		}
		return errors.New("streamio: accept channel closed unexpectedly")
	}

	w.mu.Lock()
	w.clientFd = fd
	w.mu.Unlock()
	return nil
}

func (w *SeqpacketWriter) Write(item []byte) (int, error) {
	if err := w.Open(); err != nil {
		return 0, err
	}

	w.mu.Lock()
	fd := w.clientFd
	w.mu.Unlock()
	if fd < 0 {
		return 0, ErrNoClientConnected
	}

	if err := unix.Sendto(fd, item, 0, nil); err != nil {
		return 0, fmt.Errorf("streamio: failed to write to socket: %w", err)
	}
	return len(item), nil
}

func (w *SeqpacketWriter) Flush() error { return nil }

func (w *SeqpacketWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.clientFd >= 0 {
		unix.Close(w.clientFd)
		w.clientFd = -1
	}
	if w.listenerFd >= 0 {
		unix.Close(w.listenerFd)
		w.listenerFd = -1
	}
	if _, err := os.Stat(w.path); err == nil {
		os.Remove(w.path)
	}
	return nil
}

package mcp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// StdIO implements a standard input/output transport layer using newline-delimited JSON-RPC
// messages over stdin/stdout or similar io.Reader/io.Writer pairs. It provides a single
// persistent connection and processes messages strictly sequentially: the next line is read
// only after the previous message was handled.
//
// The transport can be used as either ServerTransport or ClientTransport. Proper
// initialization requires using the NewStdIO constructor function to create new instances.
type StdIO struct {
	conn   *stdIOConn
	closed chan struct{}
}

// StdIOOption represents the options for the StdIO transport.
type StdIOOption func(*StdIO)

type stdIOConn struct {
	id     string
	reader io.Reader
	writer io.Writer
	logger *slog.Logger

	writeMessages chan stdIOMessage
	done          chan struct{}
	stopOnce      sync.Once
	writeClosed   chan struct{}
	writerOnce    sync.Once
}

type stdIOMessage struct {
	msg  []byte
	errs chan error
}

type lineWithErr struct {
	line []byte
	err  error
}

// NewStdIO creates a new StdIO instance configured with the provided reader and writer.
func NewStdIO(reader io.Reader, writer io.Writer, options ...StdIOOption) StdIO {
	s := StdIO{
		conn: &stdIOConn{
			id:            uuid.New().String(),
			reader:        reader,
			writer:        writer,
			logger:        slog.Default(),
			writeMessages: make(chan stdIOMessage),
			done:          make(chan struct{}),
			writeClosed:   make(chan struct{}),
		},
		closed: make(chan struct{}),
	}
	for _, opt := range options {
		opt(&s)
	}
	return s
}

// WithStdIOLogger sets the logger for the StdIO transport.
func WithStdIOLogger(logger *slog.Logger) StdIOOption {
	return func(s *StdIO) {
		s.conn.logger = logger.With(
			slog.String("package", "mcpbase"),
			slog.String("component", "stdio"),
		)
	}
}

// Sessions implements the ServerTransport interface by providing an iterator that yields
// a single persistent connection. The iteration ends once that connection is stopped.
func (s StdIO) Sessions() iter.Seq[Conn] {
	return func(yield func(Conn) bool) {
		defer close(s.closed)

		s.conn.startWriter()

		// StdIO only supports a single connection, so we yield it and wait until it's done.
		yield(s.conn)
		<-s.conn.done
	}
}

// Shutdown implements the ServerTransport interface by waiting for the Sessions loop to end.
func (s StdIO) Shutdown(ctx context.Context) error {
	// Wait for Sessions loop to breaks.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
	}
	return nil
}

// StartSession implements the ClientTransport interface by returning the single connection.
func (s StdIO) StartSession(_ context.Context) (Conn, error) {
	s.conn.startWriter()
	return s.conn, nil
}

func (s *stdIOConn) ID() string {
	return s.id
}

func (s *stdIOConn) Send(ctx context.Context, msg []byte) error {
	// Append newline to maintain message framing protocol.
	line := make([]byte, 0, len(msg)+1)
	line = append(line, bytes.TrimSpace(msg)...)
	line = append(line, '\n')

	ioMsg := stdIOMessage{
		msg:  line,
		errs: make(chan error, 1),
	}

	// Queue the message for sending so concurrent writers never interleave lines.
	select {
	case <-ctx.Done():
		return fmt.Errorf("failed to queue message: %w", ctx.Err())
	case <-s.done:
		return errConnClosed
	case s.writeMessages <- ioMsg:
	}

	// Wait for the resulting error channel to receive the error.
	select {
	case err := <-ioMsg.errs:
		if err != nil {
			return fmt.Errorf("failed to write message: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to wait for write result: %w", ctx.Err())
	case <-s.done:
		return errConnClosed
	}
}

func (s *stdIOConn) Messages() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		// Use bufio.Reader instead of bufio.Scanner to avoid max token size errors.
		reader := bufio.NewReader(s.reader)
		for {
			// The channel is buffered so the reading goroutine never blocks once the
			// iteration stopped listening.
			lines := make(chan lineWithErr, 1)

			// We read in a goroutine to avoid blocking on slow readers, so we can listen
			// to done channel and return if needed.
			go func() {
				line, err := reader.ReadBytes('\n')
				lines <- lineWithErr{line: line, err: err}
			}()

			var lwe lineWithErr
			select {
			case <-s.done:
				return
			case lwe = <-lines:
			}

			line := bytes.TrimSpace(lwe.line)
			if len(line) > 0 {
				// We stop iteration if yield returns false.
				if !yield(line) {
					return
				}
			}

			if lwe.err != nil {
				if !errors.Is(lwe.err, io.EOF) && !errors.Is(lwe.err, io.ErrClosedPipe) {
					s.logger.Error("failed to read message", slog.String("err", lwe.err.Error()))
				}
				return
			}
		}
	}
}

func (s *stdIOConn) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
	// A writer started after done exits at once, so writeClosed is always closed.
	s.startWriter()
	<-s.writeClosed
}

func (s *stdIOConn) startWriter() {
	s.writerOnce.Do(func() { go s.processWriteMessages() })
}

func (s *stdIOConn) processWriteMessages() {
	defer close(s.writeClosed)

	for {
		// Process writing the message queue until the connection is closed.
		var msg stdIOMessage
		select {
		case <-s.done:
			return
		case msg = <-s.writeMessages:
		}

		_, err := s.writer.Write(msg.msg)

		msg.errs <- err
	}
}

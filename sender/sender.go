// Package sender streams files over a channel as a paced sequence of
// length-carrying frames.
package sender

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"golang.org/x/crypto/blake2b"

	"edsu/frame"
	"edsu/internal/logging"
)

// StdinName is the stream name used when no files are given.
const StdinName = "stdin"

// Link is the part of a channel the sender uses.
type Link interface {
	Send(frame []byte) error
	LocalAddr() net.HardwareAddr
	Peer() net.HardwareAddr
}

// StreamReadError reports a failed read from an input stream.
type StreamReadError struct {
	Name   string
	Offset int64
	Err    error
}

func (e *StreamReadError) Error() string {
	return fmt.Sprintf("can't read %s at offset %d: %v", e.Name, e.Offset, e.Err)
}

func (e *StreamReadError) Unwrap() error { return e.Err }

// Sender reads inputs in fixed-size chunks and transmits one frame per
// chunk, pausing after every frame. A Sender is used from one goroutine;
// only Stats may be called concurrently.
type Sender struct {
	link    Link
	builder *frame.Builder
	buf     []byte
	pause   time.Duration
	logger  *logging.Logger
	open    func(string) (io.ReadCloser, error)
	sleep   func(context.Context, time.Duration) error
	report  func(Result)
	stats   counters
}

// Result describes the outcome of one input.
type Result struct {
	Name    string
	Frames  uint64
	Bytes   int64
	Skipped bool
	Err     error
}

// Option customises a Sender.
type Option func(*Sender)

// WithPause sets the delay after each frame. Zero means no delay.
func WithPause(d time.Duration) Option {
	return func(s *Sender) { s.pause = d }
}

// WithLogger sets the logger for progress and file errors.
func WithLogger(l *logging.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// WithChunkSize sets the read size. Values outside (0, PayloadCapacity]
// are ignored.
func WithChunkSize(n int) Option {
	return func(s *Sender) {
		if n > 0 && n <= frame.PayloadCapacity {
			s.buf = make([]byte, n)
		}
	}
}

// WithOpener replaces os.Open for named inputs.
func WithOpener(open func(string) (io.ReadCloser, error)) Option {
	return func(s *Sender) { s.open = open }
}

// WithSleep replaces the pacing delay.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(s *Sender) { s.sleep = sleep }
}

// WithReport calls fn once per input after it has been sent, skipped or
// abandoned.
func WithReport(fn func(Result)) Option {
	return func(s *Sender) {
		if fn != nil {
			s.report = fn
		}
	}
}

// New returns a Sender for link. The frame addresses are fixed here for
// the lifetime of the Sender.
func New(link Link, opts ...Option) (*Sender, error) {
	b, err := frame.NewBuilder(link.Peer(), link.LocalAddr())
	if err != nil {
		return nil, err
	}
	s := &Sender{
		link:    link,
		builder: b,
		buf:     make([]byte, frame.PayloadCapacity),
		logger:  logging.Discard(),
		open:    func(path string) (io.ReadCloser, error) { return os.Open(path) },
		sleep:   Sleep,
		report:  func(Result) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sleep waits for d or until ctx ends. It does not wait at all when d is
// not positive.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SendStream transmits r until it is exhausted. Each Read that returns data
// becomes one frame. A read returning no data ends the stream, as does
// io.EOF. Read and send failures are returned and end the stream.
func (s *Sender) SendStream(ctx context.Context, name string, r io.Reader) error {
	res := Result{Name: name}
	err := s.sendStream(ctx, r, &res)
	res.Err = err
	s.report(res)
	return err
}

func (s *Sender) sendStream(ctx context.Context, r io.Reader, res *Result) error {
	name := res.Name
	digest, err := blake2b.New256(nil)
	if err != nil {
		return err
	}
	s.stats.begin(name)
	defer s.stats.end()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, rerr := s.read(ctx, r)
		if ctx.Err() != nil && errors.Is(rerr, ctx.Err()) {
			return rerr
		}
		if n > 0 {
			data, err := s.builder.Build(s.buf[:n])
			if err != nil {
				return err
			}
			if err := s.link.Send(data); err != nil {
				return err
			}
			digest.Write(s.buf[:n])
			res.Bytes += int64(n)
			res.Frames++
			s.stats.frame(n, len(data))
			if err := s.sleep(ctx, s.pause); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) || (rerr == nil && n == 0) {
			break
		}
		if rerr != nil {
			return &StreamReadError{Name: name, Offset: res.Bytes, Err: rerr}
		}
	}

	s.stats.files.Add(1)
	fields := map[string]interface{}{"file": name, "frames": res.Frames, "bytes": res.Bytes}
	s.logger.Info("file sent", fields)
	if s.logger.Enabled(logging.LevelDebug) {
		s.logger.Debug("file digest", map[string]interface{}{
			"file":    name,
			"blake2b": hex.EncodeToString(digest.Sum(nil)),
		})
	}
	return nil
}

// read performs one Read into s.buf, returning early with ctx.Err() when
// ctx ends first. An abandoned Read goes on in the background with the old
// buffer, so s.buf is replaced before returning.
func (s *Sender) read(ctx context.Context, r io.Reader) (int, error) {
	if ctx.Done() == nil {
		return r.Read(s.buf)
	}
	type result struct {
		n   int
		err error
	}
	buf := s.buf
	done := make(chan result, 1)
	go func() {
		n, err := r.Read(buf)
		done <- result{n, err}
	}()
	select {
	case res := <-done:
		return res.n, res.err
	case <-ctx.Done():
		s.buf = make([]byte, len(buf))
		return 0, ctx.Err()
	}
}

// SendFiles transmits each path in order. With no paths it transmits stdin.
// A path that cannot be opened is reported and skipped; any other failure
// stops the run.
func (s *Sender) SendFiles(ctx context.Context, paths []string, stdin io.Reader) error {
	if len(paths) == 0 {
		return s.SendStream(ctx, StdinName, stdin)
	}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		rc, err := s.open(path)
		if err != nil {
			s.stats.skipped.Add(1)
			s.logger.Error("can't open file", map[string]interface{}{"file": path, "error": err.Error()})
			s.report(Result{Name: path, Skipped: true, Err: err})
			continue
		}
		err = s.SendStream(ctx, path, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

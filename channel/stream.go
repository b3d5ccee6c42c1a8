package channel

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

type received struct {
	err error
	env protocol.Envelope
}

// Stream is a Port speaking a sequence of CBOR envelopes over a byte stream,
// typically the stdin and stdout of a worker process.
type Stream struct {
	w       io.Writer
	dec     *cbor.Decoder
	closer  io.Closer
	recv    chan received
	done    chan struct{}
	wmu     sync.Mutex
	start   sync.Once
	closeMu sync.Once
}

var _ Port = (*Stream)(nil)

// NewStream creates a stream port reading from r and writing to w. If r or w
// implements io.Closer it is closed by Close.
func NewStream(r io.Reader, w io.Writer) *Stream {
	s := &Stream{
		w:    w,
		dec:  decMode.NewDecoder(r),
		recv: make(chan received),
		done: make(chan struct{}),
	}
	switch {
	case isCloser(r):
		s.closer = r.(io.Closer)
	case isCloser(w):
		s.closer = w.(io.Closer)
	}
	return s
}

func isCloser(v any) bool {
	_, ok := v.(io.Closer)
	return ok
}

func (s *Stream) readLoop() {
	for {
		var w wireEnvelope
		err := s.dec.Decode(&w)
		var r received
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				r.err = io.EOF
			} else {
				r.err = fferrors.InvalidData(fferrors.PhaseTransport, "decode envelope", err)
			}
		} else {
			r.env = fromWire(w)
		}

		select {
		case s.recv <- r:
		case <-s.done:
			return
		}
		if r.err != nil {
			Logger().Debug("stream reader stopped", zap.Error(r.err))
			return
		}
	}
}

// Receive returns the next envelope. A malformed stream cannot be resynced;
// after the first decoding error every Receive returns io.EOF.
func (s *Stream) Receive(ctx context.Context) (protocol.Envelope, error) {
	s.start.Do(func() { go s.readLoop() })

	select {
	case r, ok := <-s.recv:
		if !ok {
			return protocol.Envelope{}, io.EOF
		}
		if r.err != nil {
			close(s.recv)
		}
		return r.env, r.err
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case <-s.done:
		return protocol.Envelope{}, io.EOF
	}
}

// Post writes one envelope. Concurrent Posts are serialized.
func (s *Stream) Post(_ context.Context, env protocol.Envelope) error {
	select {
	case <-s.done:
		return fferrors.Closed("stream")
	default:
	}

	b, err := Marshal(env)
	if err != nil {
		return err
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if _, err := s.w.Write(b); err != nil {
		return fferrors.Wrap(fferrors.PhaseTransport, fferrors.KindClosed, err, "write envelope")
	}
	return nil
}

// Close stops the port.
func (s *Stream) Close() error {
	var err error
	s.closeMu.Do(func() {
		close(s.done)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

package channel

import (
	"context"
	"io"
	"sync"

	"github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

type pipe struct {
	done chan struct{}
	once sync.Once
}

func (p *pipe) close() {
	p.once.Do(func() { close(p.done) })
}

type pipePort struct {
	shared *pipe
	in     <-chan protocol.Envelope
	out    chan<- protocol.Envelope
}

// Pipe returns two connected in-process ports. Each direction buffers up to
// buffer envelopes.
//
// Posting deep-copies the payload, so neither side can observe the other's
// later mutations. An envelope marked Transfer hands its byte payload over
// without copying; the sender must not touch it afterwards.
//
// Closing either port closes both directions. Envelopes already queued are
// still delivered before Receive reports io.EOF.
func Pipe(buffer int) (Port, Port) {
	shared := &pipe{done: make(chan struct{})}
	ab := make(chan protocol.Envelope, buffer)
	ba := make(chan protocol.Envelope, buffer)
	return &pipePort{shared: shared, in: ba, out: ab},
		&pipePort{shared: shared, in: ab, out: ba}
}

func (p *pipePort) Receive(ctx context.Context) (protocol.Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-ctx.Done():
		return protocol.Envelope{}, ctx.Err()
	case <-p.shared.done:
		select {
		case env := <-p.in:
			return env, nil
		default:
			return protocol.Envelope{}, io.EOF
		}
	}
}

func (p *pipePort) Post(ctx context.Context, env protocol.Envelope) error {
	select {
	case <-p.shared.done:
		return errors.Closed("pipe")
	default:
	}

	if !env.Transfer {
		env.Data = deepCopy(env.Data)
	}

	select {
	case p.out <- env:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.shared.done:
		return errors.Closed("pipe")
	}
}

func (p *pipePort) Close() error {
	p.shared.close()
	return nil
}

package channel

import (
	"context"

	"github.com/wippyai/ffbridge/protocol"
)

// Port is one end of an envelope channel.
//
// Receive blocks until an envelope arrives, ctx is done, or the channel is
// closed; after an orderly close it returns io.EOF. Post returns an error
// matching errors.ErrClosed once either end has closed.
type Port interface {
	Receive(ctx context.Context) (protocol.Envelope, error)
	Post(ctx context.Context, env protocol.Envelope) error
	Close() error
}

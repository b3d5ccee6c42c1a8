package channel

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"

	fferrors "github.com/wippyai/ffbridge/errors"
	"github.com/wippyai/ffbridge/protocol"
)

// DefaultReadLimit bounds a single websocket message. Frames at 1080p are
// about 3 MiB.
const DefaultReadLimit = 64 << 20

// WebSocket is a Port carrying one CBOR envelope per binary message.
type WebSocket struct {
	conn *websocket.Conn
}

var _ Port = (*WebSocket)(nil)

// NewWebSocket wraps an established connection.
func NewWebSocket(conn *websocket.Conn, readLimit int64) *WebSocket {
	if readLimit <= 0 {
		readLimit = DefaultReadLimit
	}
	conn.SetReadLimit(readLimit)
	return &WebSocket{conn: conn}
}

// DialWebSocket connects to a worker listening at url.
func DialWebSocket(ctx context.Context, url string, readLimit int64) (*WebSocket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fferrors.Wrap(fferrors.PhaseTransport, fferrors.KindClosed, err, "dial "+url)
	}
	return NewWebSocket(conn, readLimit), nil
}

// AcceptWebSocket upgrades an HTTP request into a port.
func AcceptWebSocket(w http.ResponseWriter, r *http.Request, readLimit int64) (*WebSocket, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, fferrors.Wrap(fferrors.PhaseTransport, fferrors.KindInvalidInput, err, "websocket upgrade")
	}
	return NewWebSocket(conn, readLimit), nil
}

// Receive reads the next envelope. Cancelling ctx closes the connection.
func (p *WebSocket) Receive(ctx context.Context) (protocol.Envelope, error) {
	typ, data, err := p.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure ||
			websocket.CloseStatus(err) == websocket.StatusGoingAway ||
			errors.Is(err, io.EOF) {
			return protocol.Envelope{}, io.EOF
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return protocol.Envelope{}, ctxErr
		}
		return protocol.Envelope{}, fferrors.Wrap(fferrors.PhaseTransport, fferrors.KindClosed, err, "read message")
	}
	if typ != websocket.MessageBinary {
		return protocol.Envelope{}, fferrors.New(fferrors.PhaseTransport, fferrors.KindInvalidData).
			Value(typ.String()).
			Detail("expected a binary message").
			Build()
	}
	return Unmarshal(data)
}

// Post writes one envelope as a binary message. Safe for concurrent use.
func (p *WebSocket) Post(ctx context.Context, env protocol.Envelope) error {
	b, err := Marshal(env)
	if err != nil {
		return err
	}
	if err := p.conn.Write(ctx, websocket.MessageBinary, b); err != nil {
		return fferrors.Wrap(fferrors.PhaseTransport, fferrors.KindClosed, err, "write message")
	}
	return nil
}

// Close performs a normal closing handshake.
func (p *WebSocket) Close() error {
	return p.conn.Close(websocket.StatusNormalClosure, "")
}

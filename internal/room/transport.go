package room

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/tazhate/familycal/internal/domain"
)

// Transport carries envelopes to and from the room server.
type Transport interface {
	Send(ctx context.Context, env domain.Envelope) error
	Receive(ctx context.Context) (domain.Envelope, error)
	Close() error
}

// WSTransport is a websocket client transport.
type WSTransport struct {
	conn net.Conn
	rw   io.ReadWriter

	writeMu sync.Mutex
}

// WSURL turns an http(s) server base URL into its websocket endpoint.
func WSURL(serverURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// DialWS connects to the room endpoint at wsURL.
func DialWS(ctx context.Context, wsURL string) (*WSTransport, error) {
	conn, br, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	t := &WSTransport{conn: conn}
	var r io.Reader = conn
	if br != nil {
		// The handshake reader may hold frames the server sent right away.
		r = io.MultiReader(br, conn)
	}
	t.rw = struct {
		io.Reader
		io.Writer
	}{r, &lockedWriter{mu: &t.writeMu, w: conn}}
	return t, nil
}

func (t *WSTransport) Send(ctx context.Context, env domain.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(t.conn, ws.OpText, b); err != nil {
		return fmt.Errorf("write %s: %w", env.Type, err)
	}
	return nil
}

func (t *WSTransport) Receive(ctx context.Context) (domain.Envelope, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Envelope{}, err
		}
		data, op, err := wsutil.ReadServerData(t.rw)
		if err != nil {
			return domain.Envelope{}, fmt.Errorf("read frame: %w", err)
		}
		if op != ws.OpText {
			continue
		}
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return domain.Envelope{}, &PayloadError{Err: err}
		}
		return env, nil
	}
}

func (t *WSTransport) Close() error {
	return t.conn.Close()
}

// PayloadError reports a frame that could not be decoded. The connection
// itself is still usable.
type PayloadError struct {
	Err error
}

func (e *PayloadError) Error() string { return "decode envelope: " + e.Err.Error() }
func (e *PayloadError) Unwrap() error { return e.Err }

// lockedWriter serializes control frame replies with our own writes.
type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

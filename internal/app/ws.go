package app

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/MrWong99/hearken/internal/observe"
	"github.com/MrWong99/hearken/pkg/audio"
)

// handleStream upgrades the request to a websocket and runs the connection's
// read loop until the peer goes away, the stream violates a limit or the
// server shuts down.
func (a *App) handleStream(w http.ResponseWriter, r *http.Request) {
	if !a.track() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer a.handlers.Done()
	p := a.pipeline.Load()

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: a.originPatterns,
	})
	if err != nil {
		observe.Logger(r.Context()).Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	ws.SetReadLimit(int64(p.ReadLimitBytes))

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	stop := context.AfterFunc(a.ctx, cancel)
	defer stop()

	conn, err := a.conns.Open(ctx, r.RemoteAddr, p, func(ctx context.Context, message string) error {
		return ws.Write(ctx, websocket.MessageText, []byte(message))
	})
	if err != nil {
		observe.Logger(ctx).Error("failed to set up connection", "remote", r.RemoteAddr, "err", err)
		_ = ws.Close(websocket.StatusInternalError, "connection setup failed")
		return
	}
	defer a.conns.Remove(conn)

	code, reason := readLoop(ctx, ws, conn)
	if a.ctx.Err() != nil {
		code, reason = websocket.StatusGoingAway, "server shutting down"
	}
	_ = ws.Close(code, reason)
}

// readLoop routes binary messages into conn and returns the close status to
// send to the peer.
func readLoop(ctx context.Context, ws *websocket.Conn, conn *Connection) (websocket.StatusCode, string) {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				conn.log.Debug("peer closed the stream", "status", status)
			case errors.Is(err, context.Canceled):
				conn.log.Debug("stream cancelled")
			default:
				conn.log.Info("stream read failed", "err", err)
			}
			return websocket.StatusNormalClosure, ""
		}
		if typ != websocket.MessageBinary {
			conn.log.Debug("ignoring text message", "bytes", len(data))
			continue
		}
		if err := conn.HandleAudio(ctx, data); err != nil {
			if errors.Is(err, audio.ErrResidualOverflow) {
				conn.log.Warn("closing stream, pending audio limit exceeded", "err", err)
				return websocket.StatusMessageTooBig, "pending audio limit exceeded"
			}
			conn.log.Error("closing stream, audio processing failed", "err", err)
			return websocket.StatusInternalError, "audio processing failed"
		}
	}
}

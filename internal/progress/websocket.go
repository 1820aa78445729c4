package progress

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS upgrades the request and pushes events for id as JSON text frames,
// closing normally after the terminal event. Lookup errors are returned
// before the upgrade.
func (r *Reporter) ServeWS(w http.ResponseWriter, req *http.Request, id string) error {
	t, err := r.tasks.Get(id)
	if err != nil {
		return err
	}

	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade already replied to the client.
		r.logger.Debug("Websocket upgrade failed", "task_id", id, "error", err)
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(req.Context())
	defer cancel()

	// Reader loop: only detects the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					r.logger.Debug("Websocket read error", "task_id", id, "error", err)
				}
				return
			}
		}
	}()

	err = r.stream(ctx, id, t, func(e Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(e)
	})
	if err != nil && ctx.Err() == nil {
		r.logger.Warn("Websocket stream ended early", "task_id", id, "error", err)
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"),
		time.Now().Add(writeWait))
	return nil
}

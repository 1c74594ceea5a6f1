package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Send dials the control endpoint at url, sends cmd and collects replies
// until the command is answered. MEMORY frames are skipped and do not count
// as activity: Send fails when no reply frame arrives within idle of the
// previous one, even if the server is still working on the command.
func Send(ctx context.Context, url, cmd string, idle time.Duration) ([]string, error) {
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", url, err)
	}
	defer ws.Close()

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(cmd)); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	var replies []string
	deadline := time.Now().Add(idle)
	for {
		ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return replies, ctxErr
			}
			return replies, fmt.Errorf("waiting for reply to %q: %w", cmd, err)
		}

		msg := string(data)
		if strings.HasPrefix(msg, PrefixMemory) {
			continue
		}
		replies = append(replies, msg)
		if answered(msg) {
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return replies, nil
		}
		deadline = time.Now().Add(idle)
	}
}

// answered reports whether msg is the last frame of a reply. SCAN_STARTED
// and SCAN_STOPPED are followed by a status frame.
func answered(msg string) bool {
	return msg != ReplyScanStarted && msg != ReplyScanStopped
}

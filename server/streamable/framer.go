package streamable

import (
	"fmt"
	"strings"

	"github.com/viant/mcpserver/stream"
)

// frameEvent formats a stream event as an SSE message frame; the cursor
// doubles as the SSE event id so clients can resume with Last-Event-ID.
func frameEvent(event stream.Event) []byte {
	return []byte(fmt.Sprintf("id: %d\nevent: message\ndata: %s\n\n",
		event.Cursor, strings.TrimSpace(string(event.Payload))))
}

// frameHeartbeat returns an SSE comment frame; comments keep intermediaries
// from idling out the connection without affecting Last-Event-ID.
func frameHeartbeat() []byte {
	return []byte(": ping\n\n")
}

// framePayload formats an out-of-band message without an event id so it does
// not advance the client's Last-Event-ID cursor.
func framePayload(payload []byte) []byte {
	return []byte(fmt.Sprintf("event: message\ndata: %s\n\n", strings.TrimSpace(string(payload))))
}

package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/emandor/omr_service/internal/telemetry"
)

const (
	sendQueue    = 64
	writeTimeout = 10 * time.Second
)

// client owns one connection. Broadcasts only enqueue; a single pump
// goroutine writes, so a subscriber that stops reading never blocks a caller.
// A client whose queue overflows or whose write fails is dropped.
type client struct {
	queue chan PayloadEvent
	done  chan struct{}
	once  sync.Once
	write func(v any) error
	stop  func()
}

func newClient(write func(v any) error, stop func()) *client {
	c := &client{
		queue: make(chan PayloadEvent, sendQueue),
		done:  make(chan struct{}),
		write: write,
		stop:  stop,
	}
	go c.pump()
	return c
}

func (c *client) pump() {
	for {
		select {
		case <-c.done:
			return
		case pl := <-c.queue:
			if err := c.write(pl); err != nil {
				telemetry.L().Debug().Err(err).Str("event", string(pl.Event)).Msg("ws_write_failed")
				drop(c)
				return
			}
		}
	}
}

// send reports false when the client is gone or too far behind.
func (c *client) send(pl PayloadEvent) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- pl:
		return true
	default:
		return false
	}
}

func drop(c *client) {
	leaveAll(c)
	c.once.Do(func() {
		close(c.done)
		if c.stop != nil {
			c.stop()
		}
	})
}

var (
	mu    sync.RWMutex
	rooms = map[string]map[*client]struct{}{}
)

type Action string

const (
	ActionJoin  Action = "join"
	ActionLeave Action = "leave"
)

type Room string

const (
	// every sheet and answer-key change
	RoomSheets Room = "omr.room.sheets"
	// progress of one request, suffixed with its X-Request-ID
	RoomRequest Room = "omr.room.request"
)

type Event string

const (
	EventSheetCreated     Event = "omr.event.sheet_created"
	EventSheetDeleted     Event = "omr.event.sheet_deleted"
	EventAnswerKeyCreated Event = "omr.event.answer_key_created"
	EventRangeDone        Event = "omr.event.range_done"
	EventRangeError       Event = "omr.event.range_error"
)

type PayloadEvent struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

type ClientMessage struct {
	Action Action `json:"action"`
	Room   string `json:"room"`
}

type RangePayload struct {
	First     int    `json:"first"`
	Last      int    `json:"last"`
	Responses int    `json:"responses,omitempty"`
	Error     string `json:"error,omitempty"`
}

func HandleWS(c *websocket.Conn) {
	rid, _ := c.Locals("ws_req_id").(string)
	tlog := telemetry.L().With().Str("module", "ws").Str("req_id", rid).Logger()
	tlog.Info().Msg("ws_connected")
	cl := newClient(func(v any) error {
		if err := c.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			return err
		}
		return c.WriteJSON(v)
	}, func() { _ = c.Close() })
	defer func() {
		drop(cl)
		tlog.Info().Msg("ws_disconnected")
	}()

	for {
		_, msg, err := c.ReadMessage()
		if err != nil {
			break
		}

		var cm ClientMessage
		if err := json.Unmarshal(msg, &cm); err != nil {
			continue
		}

		switch cm.Action {
		case ActionJoin:
			joinRoom(cl, cm.Room)
		case ActionLeave:
			leaveRoom(cl, cm.Room)
		}
	}
}

func joinRoom(c *client, room string) {
	if room == "" {
		return
	}
	mu.Lock()
	if rooms[room] == nil {
		rooms[room] = map[*client]struct{}{}
	}
	rooms[room][c] = struct{}{}
	mu.Unlock()
	telemetry.L().Debug().Str("room", room).Msg("ws_join")
}

func leaveRoom(c *client, room string) {
	if room == "" {
		return
	}
	mu.Lock()
	delete(rooms[room], c)
	if len(rooms[room]) == 0 {
		delete(rooms, room)
	}
	mu.Unlock()
	telemetry.L().Debug().Str("room", room).Msg("ws_leave")
}

func leaveAll(c *client) {
	mu.Lock()
	for room, conns := range rooms {
		delete(conns, c)
		if len(conns) == 0 {
			delete(rooms, room)
		}
	}
	mu.Unlock()
}

func HasSubscribers(room string) bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(rooms[room]) > 0
}

// RequestRoom is the room a client joins to follow one request.
func RequestRoom(reqID string) string {
	return string(RoomRequest) + "." + reqID
}

func broadcast(room string, pl PayloadEvent) {
	mu.RLock()
	conns := make([]*client, 0, len(rooms[room]))
	for c := range rooms[room] {
		conns = append(conns, c)
	}
	mu.RUnlock()

	for _, c := range conns {
		if !c.send(pl) {
			telemetry.L().Warn().Str("room", room).Msg("ws_client_dropped")
			drop(c)
		}
	}
}

func BroadcastSheetCreated(sheet any) {
	broadcast(string(RoomSheets), PayloadEvent{Event: EventSheetCreated, Data: sheet})
}

func BroadcastSheetDeleted(sheetID int64) {
	broadcast(string(RoomSheets), PayloadEvent{Event: EventSheetDeleted, Data: map[string]any{"id": sheetID}})
}

func BroadcastAnswerKeyCreated(key any) {
	broadcast(string(RoomSheets), PayloadEvent{Event: EventAnswerKeyCreated, Data: key})
}

func BroadcastRangeDone(reqID string, first, last, responses int) {
	if reqID == "" {
		return
	}
	broadcast(RequestRoom(reqID), PayloadEvent{
		Event: EventRangeDone,
		Data:  RangePayload{First: first, Last: last, Responses: responses},
	})
}

func BroadcastRangeError(reqID string, first, last int, err error) {
	if reqID == "" || err == nil {
		return
	}
	broadcast(RequestRoom(reqID), PayloadEvent{
		Event: EventRangeError,
		Data:  RangePayload{First: first, Last: last, Error: err.Error()},
	})
}

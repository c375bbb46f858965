package duel

import (
	"github.com/udisondev/duelgo/internal/protocol"
)

// slot хранит состояние одного подключения: поток, состояние сессии и
// данные активной фазы (код открытой игры либо партнёр и сама игра).
type slot struct {
	stream *protocol.Stream
	state  SessionState

	code    uint32 // valid in StateWaiting
	partner int    // valid in StatePlaying
	game    *Game  // valid in StatePlaying
}

func (sl *slot) toIdle() {
	sl.state = StateIdle
	sl.code = 0
	sl.partner = -1
	sl.game = nil
}

// registry — таблица подключений фиксированной ёмкости. Освободившиеся
// слоты переиспользуются (первый свободный), поверх ёмкости новые
// подключения не принимаются. Защищается мьютексом сервера.
type registry struct {
	slots []*slot
	cap   int
}

func newRegistry(capacity int) *registry {
	return &registry{cap: capacity}
}

// add places a stream into the first vacant slot, appending a new one if
// none is vacant and the table is below cap. Returns the slot id, or false
// when the table is full.
func (r *registry) add(stream *protocol.Stream) (int, bool) {
	sl := &slot{stream: stream, state: StateIdle, partner: -1}
	for i, cur := range r.slots {
		if cur == nil {
			r.slots[i] = sl
			return i, true
		}
	}
	if len(r.slots) < r.cap {
		r.slots = append(r.slots, sl)
		return len(r.slots) - 1, true
	}
	return 0, false
}

// get returns the slot for id, or nil when id is out of range or vacant.
func (r *registry) get(id int) *slot {
	if id < 0 || id >= len(r.slots) {
		return nil
	}
	return r.slots[id]
}

// clear vacates the slot, returning its previous contents.
func (r *registry) clear(id int) *slot {
	sl := r.get(id)
	if sl != nil {
		r.slots[id] = nil
	}
	return sl
}

// count returns the number of occupied slots.
func (r *registry) count() int {
	n := 0
	for _, sl := range r.slots {
		if sl != nil {
			n++
		}
	}
	return n
}

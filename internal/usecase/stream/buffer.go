package stream

import "tradecore/internal/domain"

// diffBuffer — ограниченная очередь диффов на время ресинка.
// Переполнение вытесняет самые старые записи; вытеснение честно
// считается, чтобы супервизор мог это залогировать.
type diffBuffer struct {
	cap     int
	evs     []*domain.DiffEvent
	dropped int
}

func newDiffBuffer(cap int) *diffBuffer {
	return &diffBuffer{cap: cap}
}

func (b *diffBuffer) push(ev *domain.DiffEvent) {
	if len(b.evs) >= b.cap {
		n := copy(b.evs, b.evs[1:])
		b.evs = b.evs[:n]
		b.dropped++
	}
	b.evs = append(b.evs, ev)
}

// drain отдаёт накопленное и очищает буфер; счётчик вытеснений
// сохраняется на весь ресинк.
func (b *diffBuffer) drain() []*domain.DiffEvent {
	out := b.evs
	b.evs = nil
	return out
}

func (b *diffBuffer) droppedTotal() int { return b.dropped }

func (b *diffBuffer) len() int { return len(b.evs) }

package domain

import "sync"

// Subscription — отменяемый handle живого запроса. Updates отдаёт сначала
// начальный снимок, затем новый снимок на каждое изменение. Промежуточные
// снимки могут склеиваться, но последний всегда доставляется. Канал
// закрывается после Close или отмены контекста подписки. Владелец обязан
// вызвать Close; для перезапуска нужен новый вызов Watch.
type Subscription[S any] struct {
	updates <-chan S
	stop    func()
	once    sync.Once
}

// NewSubscription оборачивает канал снимков и функцию остановки.
func NewSubscription[S any](updates <-chan S, stop func()) *Subscription[S] {
	return &Subscription[S]{updates: updates, stop: stop}
}

// Updates возвращает канал снимков.
func (s *Subscription[S]) Updates() <-chan S {
	return s.updates
}

// Close освобождает подписку. Безопасно вызывать повторно.
func (s *Subscription[S]) Close() {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
	})
}

// MapSubscription преобразует каждый снимок исходной подписки.
// Close результата закрывает и исходную подписку.
func MapSubscription[S, T any](src *Subscription[S], fn func(S) T) *Subscription[T] {
	out := make(chan T)
	done := make(chan struct{})

	go func() {
		defer close(out)
		for snapshot := range src.Updates() {
			select {
			case out <- fn(snapshot):
			case <-done:
				return
			}
		}
	}()

	return NewSubscription(out, func() {
		close(done)
		src.Close()
	})
}

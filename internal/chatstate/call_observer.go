package chatstate

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"social_chat/internal/docstore"
	"social_chat/internal/domain"
)

type CallSource interface {
	WatchCall(ctx context.Context, callID string, fn func(*domain.Call)) (docstore.Unsubscribe, error)
}

type CallUpdate struct {
	Status domain.CallStatus
	// Call равен nil, если документ удален
	Call *domain.Call
}

// CallObserver следит за документом звонка. Пропавший документ - это ended,
// а не ошибка. После конечного статуса подписка снимается сама (в фоне), onUpdate больше
// не вызывается. Close дожидается снятия подписки.
type CallObserver struct {
	clock    clock.Clock
	onUpdate func(CallUpdate)

	mu     sync.Mutex
	last   *domain.Call
	status domain.CallStatus
	done   bool
	unsub  docstore.Unsubscribe
	ended  chan struct{}
}

func NewCallObserver(clk clock.Clock, onUpdate func(CallUpdate)) *CallObserver {
	if onUpdate == nil {
		onUpdate = func(CallUpdate) {}
	}
	return &CallObserver{clock: clk, onUpdate: onUpdate, ended: make(chan struct{})}
}

func (o *CallObserver) Observe(ctx context.Context, source CallSource, callID string) error {
	unsub, err := source.WatchCall(ctx, callID, o.handle)
	if err != nil {
		return err
	}

	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		unsub()
		return nil
	}
	o.unsub = unsub
	o.mu.Unlock()
	return nil
}

func (o *CallObserver) handle(call *domain.Call) {
	o.mu.Lock()
	if o.done {
		o.mu.Unlock()
		return
	}

	update := CallUpdate{Status: domain.CallStatusEnded, Call: call}
	if call != nil {
		update.Status = call.Status
		o.last = call
	}
	// тот же статус: изменился состав или флаги участников
	if update.Status == o.status && call != nil {
		o.mu.Unlock()
		o.onUpdate(update)
		return
	}
	o.status = update.Status

	var unsub docstore.Unsubscribe
	if update.Status.IsTerminal() {
		o.done = true
		unsub = o.unsub
		close(o.ended)
	}
	o.mu.Unlock()

	o.onUpdate(update)
	// handle выполняется внутри доставки подписки, а снятие может ждать ее завершения
	if unsub != nil {
		go unsub()
	}
}

func (o *CallObserver) Status() domain.CallStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Ended закрывается, когда звонок перешел в конечный статус или исчез
func (o *CallObserver) Ended() <-chan struct{} {
	return o.ended
}

// Elapsed - длительность разговора по answeredAt, ее клиент передает в EndCall
func (o *CallObserver) Elapsed() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil || o.last.AnsweredAt == nil {
		return 0
	}
	return o.clock.Now().Sub(*o.last.AnsweredAt)
}

func (o *CallObserver) Close() {
	o.mu.Lock()
	unsub := o.unsub
	o.unsub = nil
	if !o.done {
		o.done = true
		close(o.ended)
	}
	o.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

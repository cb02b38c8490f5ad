package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Notifier fans monitor notices out to in-process subscribers. Slow
// subscribers miss notices instead of blocking publishers.
type Notifier struct {
	mu   sync.Mutex
	subs map[uuid.UUID]map[chan model.MonitorNotice]struct{}
}

// NewNotifier creates a Notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[uuid.UUID]map[chan model.MonitorNotice]struct{})}
}

func (n *Notifier) Publish(_ context.Context, notice model.MonitorNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	for ch := range n.subs[notice.BatchID] {
		select {
		case ch <- notice:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of notices for batchID that is closed when ctx ends.
func (n *Notifier) Subscribe(ctx context.Context, batchID uuid.UUID) (<-chan model.MonitorNotice, error) {
	ch := make(chan model.MonitorNotice, 16)

	n.mu.Lock()
	if n.subs[batchID] == nil {
		n.subs[batchID] = make(map[chan model.MonitorNotice]struct{})
	}
	n.subs[batchID][ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs[batchID], ch)
		if len(n.subs[batchID]) == 0 {
			delete(n.subs, batchID)
		}
		n.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

package alerts

import (
	"context"
	"sync"
)

// Recorder keeps alerts in memory.
type Recorder struct {
	mu     sync.Mutex
	Alerts []Alert
}

func (r *Recorder) Alert(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Alerts = append(r.Alerts, a)
	return nil
}

func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Alerts)
}

package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/sinkobela/ecmr-backend-sub000/internal/db/models"
	"github.com/sinkobela/ecmr-backend-sub000/pkg/metrics"
	"go.uber.org/zap"
)

type StatusChange struct {
	DocumentID string
	From       models.DocumentStatus
	To         models.DocumentStatus
	Cause      string
}

// Callback observes a committed status change. Returned errors are logged only.
type Callback func(ctx context.Context, change StatusChange) error

type registration struct {
	name string
	fn   Callback
}

// Notifier invokes callbacks synchronously in registration order. A failing
// or panicking callback never stops the ones after it.
type Notifier struct {
	mu        sync.RWMutex
	callbacks []registration
	logger    *zap.Logger
}

func NewNotifier(logger *zap.Logger) *Notifier {
	return &Notifier{logger: logger.With(zap.String("component", "status_notifier"))}
}

func (n *Notifier) Register(name string, fn Callback) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.callbacks = append(n.callbacks, registration{name: name, fn: fn})
}

// Notify returns the number of callbacks that failed.
func (n *Notifier) Notify(ctx context.Context, change StatusChange) int {
	n.mu.RLock()
	callbacks := append([]registration(nil), n.callbacks...)
	n.mu.RUnlock()

	failed := 0
	for _, cb := range callbacks {
		if err := n.invoke(ctx, cb, change); err != nil {
			failed++
			n.logger.Error("status callback failed",
				zap.String("callback", cb.name),
				zap.String("doc_id", change.DocumentID),
				zap.String("from", string(change.From)),
				zap.String("to", string(change.To)),
				zap.Error(err))
		}
	}
	return failed
}

func (n *Notifier) invoke(ctx context.Context, cb registration, change StatusChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return cb.fn(ctx, change)
}

// LogCallback records every transition at info level.
func LogCallback(logger *zap.Logger) Callback {
	return func(ctx context.Context, change StatusChange) error {
		logger.Info("Document status changed",
			zap.String("doc_id", change.DocumentID),
			zap.String("from", string(change.From)),
			zap.String("to", string(change.To)),
			zap.String("cause", change.Cause))
		return nil
	}
}

func MetricsCallback(collector *metrics.MetricsCollector) Callback {
	return func(ctx context.Context, change StatusChange) error {
		collector.IncrementCounter("status_transitions", map[string]string{
			"to":    string(change.To),
			"cause": change.Cause,
		})
		return nil
	}
}

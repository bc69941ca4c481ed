package flowsvc

import (
	"context"
	"sync"
	"time"

	"github.com/relayflow/relay-agent/flowapi"
	"go.uber.org/zap"
)

// Scheduler owns the two deliberately long-lived suspensions: delay timers
// and pending confirmations. Reset cancels everything without invoking the
// continuations and waits for in-flight goroutines to quiesce.
type Scheduler struct {
	log *zap.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	confirms map[flowapi.NodeID]func(ctx context.Context, accepted bool)
}

func NewScheduler(log *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		confirms: make(map[flowapi.NodeID]func(ctx context.Context, accepted bool)),
	}
}

// After schedules fn after d. Scheduling is fire-and-forget relative to the
// calling propagation pass. The returned cancel drops the single timer;
// Reset drops all of them.
func (s *Scheduler) After(d time.Duration, fn func(ctx context.Context)) (cancel func()) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	timerCtx, timerCancel := context.WithCancel(parent)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer timerCancel()
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timerCtx.Done():
		case <-timer.C:
			if timerCtx.Err() != nil {
				return
			}
			fn(timerCtx)
		}
	}()
	return timerCancel
}

// AwaitConfirmation suspends a node's propagation pending an external yes/no
// decision. A newer pending confirmation for the same node supersedes the
// older one, which is dropped without being invoked.
func (s *Scheduler) AwaitConfirmation(node flowapi.NodeID, fn func(ctx context.Context, accepted bool)) {
	s.mu.Lock()
	if _, ok := s.confirms[node]; ok {
		s.log.Debug("pending confirmation superseded", zap.Int64("nodeId", int64(node)))
	}
	s.confirms[node] = fn
	s.mu.Unlock()
}

// Resolve completes a pending confirmation. Returns false when nothing was
// pending for the node.
func (s *Scheduler) Resolve(ctx context.Context, node flowapi.NodeID, accepted bool) bool {
	s.mu.Lock()
	fn, ok := s.confirms[node]
	if ok {
		delete(s.confirms, node)
	}
	runCtx := s.ctx
	s.mu.Unlock()
	if !ok {
		return false
	}
	if runCtx.Err() != nil {
		return false
	}
	fn(runCtx, accepted)
	return true
}

// PendingConfirmations returns the node ids with an unresolved confirmation.
func (s *Scheduler) PendingConfirmations() []flowapi.NodeID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]flowapi.NodeID, 0, len(s.confirms))
	for id := range s.confirms {
		out = append(out, id)
	}
	return out
}

// Reset cancels all pending timers and confirmations without invoking their
// continuations and blocks until in-flight goroutines have exited. The
// scheduler is reusable afterwards.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	s.cancel()
	s.confirms = make(map[flowapi.NodeID]func(ctx context.Context, accepted bool))
	s.mu.Unlock()
	s.wg.Wait()
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()
}

package cycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

// nightlyLease enforces "at most one nightly induction cycle active"
// (§4.7). When etcd endpoints are configured it uses a distributed
// session-backed mutex so multiple controller processes coordinate;
// otherwise it falls back to an in-process mutex, which is sufficient
// for a single-process deployment.
type nightlyLease struct {
	mu       sync.Mutex
	inUse    bool
	client   *clientv3.Client
	session  *concurrency.Session
	distLock *concurrency.Mutex
}

const lockKey = "/kmrl/induction/nightly-cycle"

func newNightlyLease(endpoints []string) (*nightlyLease, error) {
	if len(endpoints) == 0 {
		return &nightlyLease{}, nil
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &nightlyLease{client: client}, nil
}

// ErrCycleInFlight is returned when a nightly cycle is already running.
var ErrCycleInFlight = fmt.Errorf("a nightly induction cycle is already in flight")

// Acquire returns a release function, or ErrCycleInFlight if the lease
// is already held.
func (l *nightlyLease) Acquire(ctx context.Context) (func(), error) {
	if l.client == nil {
		l.mu.Lock()
		if l.inUse {
			l.mu.Unlock()
			return nil, ErrCycleInFlight
		}
		l.inUse = true
		l.mu.Unlock()
		return func() {
			l.mu.Lock()
			l.inUse = false
			l.mu.Unlock()
		}, nil
	}

	session, err := concurrency.NewSession(l.client, concurrency.WithTTL(int((2 * time.Minute).Seconds())))
	if err != nil {
		return nil, fmt.Errorf("etcd session: %w", err)
	}
	m := concurrency.NewMutex(session, lockKey)
	if err := m.TryLock(ctx); err != nil {
		session.Close()
		return nil, ErrCycleInFlight
	}
	return func() {
		m.Unlock(context.Background())
		session.Close()
	}, nil
}

func (l *nightlyLease) Close() {
	if l.client != nil {
		l.client.Close()
	}
}

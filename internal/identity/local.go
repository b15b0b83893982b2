package identity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sakif/inkwell/internal/apperror"
)

var _ Gateway = (*Local)(nil)

// Local is a Gateway holding a single current identity, backed by a
// Provider. Listeners run synchronously after the state changed, outside the
// lock, in registration order.
type Local struct {
	provider *Provider
	logger   *slog.Logger

	mu        sync.Mutex
	current   *Identity
	listeners map[uint64]func(Event)
	order     []uint64
	nextID    uint64
}

func NewLocal(provider *Provider, logger *slog.Logger) *Local {
	return &Local{
		provider:  provider,
		logger:    logger,
		listeners: make(map[uint64]func(Event)),
	}
}

func (l *Local) SignUp(ctx context.Context, email, password string, seed ProfileSeed) (*Identity, error) {
	id, err := l.provider.Register(ctx, email, password, seed)
	if err != nil {
		return nil, err
	}
	l.set(id, SignedIn)
	return id, nil
}

func (l *Local) SignIn(ctx context.Context, email, password string) (*Identity, error) {
	id, err := l.provider.Verify(ctx, email, password)
	if err != nil {
		return nil, err
	}
	l.set(id, SignedIn)
	return id, nil
}

// SignInExternal completes a sign-in vouched for by an OAuth provider.
func (l *Local) SignInExternal(ctx context.Context, u ExternalUser) (*Identity, error) {
	id, err := l.provider.LinkExternal(ctx, u)
	if err != nil {
		return nil, err
	}
	l.set(id, SignedIn)
	return id, nil
}

// Resume restores a session from a token stored by the client.
func (l *Local) Resume(ctx context.Context, token string) (*Identity, error) {
	id, err := l.provider.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	l.set(id, SignedIn)
	return id, nil
}

// SignOut clears the current identity. Signing out while signed out is a
// no-op and notifies nobody.
func (l *Local) SignOut(_ context.Context) error {
	l.mu.Lock()
	was := l.current
	l.current = nil
	l.mu.Unlock()

	if was != nil {
		l.logger.Info("signed out", slog.String("user_id", was.UserID))
		l.emit(Event{Kind: SignedOut})
	}
	return nil
}

// Refresh swaps the current token for a fresh one.
func (l *Local) Refresh(ctx context.Context) (*Identity, error) {
	cur := l.snapshot()
	if cur == nil {
		return nil, apperror.Unauthenticated("not signed in")
	}
	id, err := l.provider.Reissue(ctx, cur)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthenticated) {
			l.SignOut(ctx)
		}
		return nil, err
	}
	l.set(id, TokenRefreshed)
	return id, nil
}

// CurrentIdentity revalidates the held token. A token that expired or whose
// account was deleted signs the gateway out and yields (nil, nil).
func (l *Local) CurrentIdentity(ctx context.Context) (*Identity, error) {
	cur := l.snapshot()
	if cur == nil {
		return nil, nil
	}
	id, err := l.provider.Authenticate(ctx, cur.Token)
	if err != nil {
		if errors.Is(err, apperror.ErrUnauthenticated) {
			l.SignOut(ctx)
			return nil, nil
		}
		return nil, err
	}
	id.AvatarURL = cur.AvatarURL
	return id, nil
}

func (l *Local) OnAuthChanged(fn func(Event)) func() {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.listeners[id] = fn
	l.order = append(l.order, id)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.listeners, id)
			for i, v := range l.order {
				if v == id {
					l.order = append(l.order[:i], l.order[i+1:]...)
					break
				}
			}
			l.mu.Unlock()
		})
	}
}

func (l *Local) snapshot() *Identity {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil
	}
	cp := *l.current
	return &cp
}

func (l *Local) set(id *Identity, kind EventKind) {
	cp := *id
	l.mu.Lock()
	l.current = &cp
	l.mu.Unlock()

	l.logger.Info("auth changed", slog.String("kind", string(kind)), slog.String("user_id", id.UserID))
	out := cp
	l.emit(Event{Kind: kind, Identity: &out})
}

func (l *Local) emit(e Event) {
	l.mu.Lock()
	fns := make([]func(Event), 0, len(l.order))
	for _, id := range l.order {
		fns = append(fns, l.listeners[id])
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(e)
	}
}

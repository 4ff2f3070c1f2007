package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/privrollup/walletd/internal/core/domain"
	"github.com/privrollup/walletd/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

// Session scopes event subscriptions to the lifetime of a client. Destroy
// stops every observer registered through it.
type Session struct {
	id  string
	sdk *Sdk
	bus ports.EventBus

	lock      *sync.Mutex
	observers map[string]context.CancelFunc
	wg        *sync.WaitGroup
	destroyed bool
}

func newSession(sdk *Sdk, bus ports.EventBus) *Session {
	return &Session{
		id:        uuid.NewString(),
		sdk:       sdk,
		bus:       bus,
		lock:      &sync.Mutex{},
		observers: make(map[string]context.CancelFunc),
		wg:        &sync.WaitGroup{},
	}
}

func (s *Session) Id() string {
	return s.id
}

// Subscribe calls handler for every event of the given type until the
// returned observer is removed or the session destroyed.
func (s *Session) Subscribe(
	eventType domain.EventType, handler func(event domain.Event),
) (string, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.destroyed {
		return "", stateError("", "session destroyed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	events, err := s.bus.Subscribe(ctx, eventType)
	if err != nil {
		cancel()
		return "", fmt.Errorf("failed to subscribe to %s events: %w", eventType, err)
	}

	id := uuid.NewString()
	s.observers[id] = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				handler(event)
			}
		}
	}()
	log.Debugf("session %s: added %s observer %s", s.id, eventType, id)
	return id, nil
}

func (s *Session) Unsubscribe(id string) {
	s.lock.Lock()
	cancel, ok := s.observers[id]
	delete(s.observers, id)
	s.lock.Unlock()
	if ok {
		cancel()
	}
}

// Destroy removes every observer and waits for their handlers to return.
func (s *Session) Destroy() {
	s.lock.Lock()
	if s.destroyed {
		s.lock.Unlock()
		return
	}
	s.destroyed = true
	for id, cancel := range s.observers {
		cancel()
		delete(s.observers, id)
	}
	s.lock.Unlock()

	s.wg.Wait()
	s.sdk.forgetSession(s.id)
	log.Debugf("session %s destroyed", s.id)
}

// User returns a handle on a registered user.
func (s *Session) User(ctx context.Context, userId domain.UserId) (*UserSession, error) {
	if _, err := s.sdk.GetUser(ctx, userId); err != nil {
		return nil, err
	}
	return &UserSession{s, userId}, nil
}

// UserSession is a Session bound to one user.
type UserSession struct {
	session *Session
	userId  domain.UserId
}

func (u *UserSession) Id() domain.UserId {
	return u.userId
}

func (u *UserSession) GetBalance(ctx context.Context, assetId uint32) (*uint256.Int, error) {
	return u.session.sdk.GetBalance(ctx, u.userId, assetId)
}

func (u *UserSession) GetBalances(ctx context.Context) ([]domain.AssetValue, error) {
	return u.session.sdk.GetBalances(ctx, u.userId)
}

func (u *UserSession) GetTxs(ctx context.Context) ([]domain.UserTx, error) {
	return u.session.sdk.GetUserTxs(ctx, u.userId)
}

func (u *UserSession) PickNotes(
	ctx context.Context, assetId uint32, value *uint256.Int, opts ...PickOption,
) ([]domain.Note, error) {
	return u.session.sdk.PickNotes(ctx, u.userId, assetId, value, opts...)
}

// Subscribe calls handler for the balance and history changes of the user.
func (u *UserSession) Subscribe(handler func(event domain.Event)) ([]string, error) {
	ids := make([]string, 0, 2)
	for _, eventType := range []domain.EventType{
		domain.EventTypeUpdatedBalance, domain.EventTypeNewUserTx,
	} {
		id, err := u.session.Subscribe(eventType, func(event domain.Event) {
			if eventUserId(event) == u.userId {
				handler(event)
			}
		})
		if err != nil {
			for _, id := range ids {
				u.session.Unsubscribe(id)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func eventUserId(event domain.Event) domain.UserId {
	switch e := event.(type) {
	case domain.BalanceUpdated:
		return e.UserId
	case domain.NewUserTx:
		return e.UserId
	default:
		return ""
	}
}

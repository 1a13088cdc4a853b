// Package auth holds the client's signed-in principal and notifies
// subscribers when it changes.
package auth

import (
	"sync"

	"github.com/nazeru/storefront-tx-go/internal/order/domain"
)

type Provider interface {
	CurrentPrincipal() *domain.Principal
	Subscribe() (<-chan *domain.Principal, func())
}

// Session is an in-process Provider. Subscribers receive only the latest
// principal; a slow subscriber never blocks SignIn or SignOut.
type Session struct {
	mu        sync.Mutex
	principal *domain.Principal
	subs      map[int]chan *domain.Principal
	next      int
}

func NewSession() *Session {
	return &Session{subs: make(map[int]chan *domain.Principal)}
}

var _ Provider = (*Session)(nil)

func (s *Session) CurrentPrincipal() *domain.Principal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.principal)
}

func clone(p *domain.Principal) *domain.Principal {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func (s *Session) SignIn(p domain.Principal) { s.set(&p) }

func (s *Session) SignOut() { s.set(nil) }

func (s *Session) set(p *domain.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.principal = p
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- clone(p)
	}
}

// Subscribe returns a channel that first carries the current principal and
// then every change. Call the returned func to unsubscribe.
func (s *Session) Subscribe() (<-chan *domain.Principal, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	ch := make(chan *domain.Principal, 1)
	ch <- clone(s.principal)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
}

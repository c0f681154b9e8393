package core

import (
	"sync"

	"github.com/dkeye/CallBridge/internal/domain"
)

// linkSession implements LinkSession by pairing account + transport.
type linkSession struct {
	mu      sync.RWMutex
	account *domain.Account
	signal  SignalConnection
}

func NewLinkSession(account *domain.Account) LinkSession {
	return &linkSession{account: account}
}

func (l *linkSession) Account() *domain.Account { return l.account }

func (l *linkSession) Signal() SignalConnection {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.signal
}

func (l *linkSession) UpdateSignal(sc SignalConnection) LinkSession {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signal = sc
	return l
}

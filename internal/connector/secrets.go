// Package connector exposes external-API wrappers as Tool Broker tools,
// sourcing credentials on demand from the Secrets interface. Secrets are
// never persisted in the relational store.
package connector

import (
	"os"
	"sync"

	"github.com/Djtony707/TITAN/internal/titanerr"
)

// Secrets is the envelope interface the core consumes: get/put by key. The
// encrypted implementation lives outside the core.
type Secrets interface {
	Get(key string) (string, error)
	Put(key, value string) error
	// Unlocked reports whether secrets are currently retrievable.
	Unlocked() bool
}

// EnvSecrets resolves keys directly from environment variables. Put is
// process-local only.
type EnvSecrets struct {
	mu        sync.RWMutex
	overrides map[string]string
}

// NewEnvSecrets builds the env-var resolver.
func NewEnvSecrets() *EnvSecrets {
	return &EnvSecrets{overrides: make(map[string]string)}
}

func (e *EnvSecrets) Get(key string) (string, error) {
	e.mu.RLock()
	if v, ok := e.overrides[key]; ok {
		e.mu.RUnlock()
		return v, nil
	}
	e.mu.RUnlock()
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", titanerr.New(titanerr.KindNotFound, "connector.Secrets", "no secret for key "+key)
}

func (e *EnvSecrets) Put(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overrides[key] = value
	return nil
}

func (e *EnvSecrets) Unlocked() bool { return true }

// LockableSecrets wraps another Secrets with a lock switch so `secrets
// lock` can make credentials unreachable until Unlock is called, without
// touching the envelope itself.
type LockableSecrets struct {
	inner  Secrets
	mu     sync.RWMutex
	locked bool
}

// NewLockableSecrets starts unlocked around inner.
func NewLockableSecrets(inner Secrets) *LockableSecrets {
	return &LockableSecrets{inner: inner}
}

func (l *LockableSecrets) Get(key string) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.locked {
		return "", titanerr.New(titanerr.KindPolicy, "connector.Secrets", "secrets are locked")
	}
	return l.inner.Get(key)
}

func (l *LockableSecrets) Put(key, value string) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.locked {
		return titanerr.New(titanerr.KindPolicy, "connector.Secrets", "secrets are locked")
	}
	return l.inner.Put(key, value)
}

func (l *LockableSecrets) Unlocked() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !l.locked
}

// Lock makes every Get fail until Unlock.
func (l *LockableSecrets) Lock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = true
}

// Unlock restores access.
func (l *LockableSecrets) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locked = false
}

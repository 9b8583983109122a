// Package cancel keeps one cancellation handle per in-flight generation or
// ad-hoc action.
package cancel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	ErrKeyEmpty    = errors.New("cancellation key is empty")
	ErrKeyInUse    = errors.New("cancellation key already registered")
	ErrHandleNil   = errors.New("cancellation handle is nil")
	ErrKeyNotFound = errors.New("cancellation key not registered")
)

type Kind string

const (
	KindConversation Kind = "conversation"
	KindAction       Kind = "action"
)

// Key identifies an entry. Conversation ids and action ids live in separate
// namespaces so an action can never cancel a generation by accident.
type Key struct {
	Kind Kind
	ID   string
}

func ConversationKey(id string) Key {
	return Key{Kind: KindConversation, ID: id}
}

func ActionKey(id string) Key {
	return Key{Kind: KindAction, ID: id}
}

func (k Key) String() string {
	return string(k.Kind) + ":" + k.ID
}

// Registry maps keys to cancellation handles. Every Register must be followed
// by exactly one Release on the same key; Track enforces that pairing.
type Registry struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

type entry struct {
	cancel context.CancelFunc
}

func NewRegistry() *Registry {
	return &Registry{
		entries: map[Key]*entry{},
	}
}

func (r *Registry) Register(key Key, cancel context.CancelFunc) error {
	_, err := r.register(key, cancel)
	return err
}

func (r *Registry) register(key Key, cancel context.CancelFunc) (*entry, error) {
	if key.ID == "" {
		return nil, ErrKeyEmpty
	}
	if cancel == nil {
		return nil, ErrHandleNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; ok {
		return nil, errors.Wrap(ErrKeyInUse, key.String())
	}
	e := &entry{cancel: cancel}
	r.entries[key] = e
	log.Trace().Str("key", key.String()).Int("entries", len(r.entries)).Msg("registered cancellation handle")
	return e, nil
}

// Signal aborts the entry's generation without removing it.
func (r *Registry) Signal(key Key) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	r.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrKeyNotFound, key.String())
	}
	e.cancel()
	return nil
}

func (r *Registry) Release(key Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[key]; !ok {
		return errors.Wrap(ErrKeyNotFound, key.String())
	}
	delete(r.entries, key)
	log.Trace().Str("key", key.String()).Int("entries", len(r.entries)).Msg("released cancellation handle")
	return nil
}

// SignalAndRelease aborts and removes the entry in one step, so that no other
// caller can signal it a second time.
func (r *Registry) SignalAndRelease(key Key) error {
	r.mu.Lock()
	e, ok := r.entries[key]
	if ok {
		delete(r.entries, key)
	}
	r.mu.Unlock()
	if !ok {
		return errors.Wrap(ErrKeyNotFound, key.String())
	}
	e.cancel()
	return nil
}

// releaseEntry removes key only while it still maps to e. A generation that was
// stopped and replaced by a newer one must not drop its successor's entry.
func (r *Registry) releaseEntry(key Key, e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.entries[key]; ok && cur == e {
		delete(r.entries, key)
	}
}

func (r *Registry) Has(key Key) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Track derives a cancelable context from parent and registers it under key.
// The returned release func removes the entry and frees the context; it is
// safe to call more than once and must be deferred by the caller.
func (r *Registry) Track(parent context.Context, key Key) (context.Context, func(), error) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	e, err := r.register(key, cancel)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	var once sync.Once
	release := func() {
		once.Do(func() {
			r.releaseEntry(key, e)
			cancel()
		})
	}
	return ctx, release, nil
}

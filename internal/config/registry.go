package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/hearken/pkg/provider/classifier"
	"github.com/MrWong99/hearken/pkg/provider/llm"
	"github.com/MrWong99/hearken/pkg/provider/notify"
	"github.com/MrWong99/hearken/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	classifier map[string]func(ProviderEntry) (classifier.Classifier, error)
	stt        map[string]func(ProviderEntry) (stt.Transcriber, error)
	llm        map[string]func(ProviderEntry) (llm.Provider, error)
	notifier   map[string]func(ProviderEntry) (notify.Notifier, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		classifier: make(map[string]func(ProviderEntry) (classifier.Classifier, error)),
		stt:        make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
		llm:        make(map[string]func(ProviderEntry) (llm.Provider, error)),
		notifier:   make(map[string]func(ProviderEntry) (notify.Notifier, error)),
	}
}

// RegisterClassifier registers a frame classifier factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (classifier.Classifier, error)) {
	register(r, r.classifier, name, factory)
}

// RegisterSTT registers a transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	register(r, r.stt, name, factory)
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	register(r, r.llm, name, factory)
}

// RegisterNotifier registers a push notifier factory under name.
func (r *Registry) RegisterNotifier(name string, factory func(ProviderEntry) (notify.Notifier, error)) {
	register(r, r.notifier, name, factory)
}

// CreateClassifier instantiates a classifier using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Classifier, error) {
	return create(r, r.classifier, "classifier", entry)
}

// CreateSTT instantiates a transcriber using the factory registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	return create(r, r.stt, "stt", entry)
}

// CreateLLM instantiates an LLM provider using the factory registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(r, r.llm, "llm", entry)
}

// CreateNotifier instantiates a notifier using the factory registered under entry.Name.
func (r *Registry) CreateNotifier(entry ProviderEntry) (notify.Notifier, error) {
	return create(r, r.notifier, "notifier", entry)
}

func register[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), name string, factory func(ProviderEntry) (T, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m[name] = factory
}

func create[T any](r *Registry, m map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	r.mu.RLock()
	factory, ok := m[entry.Name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}

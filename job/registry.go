package job

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syncwell/pulse"
)

// HandlerFunc is a type-erased job handler: raw JSON payload in, raw JSON
// result out. The typed Definition[T] is converted to a HandlerFunc at
// registration time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload []byte, report Progress) ([]byte, error)

// ValidateFunc checks a raw payload against the registered payload type.
type ValidateFunc func(payload []byte) error

// Registry maps job names to type-erased handlers and payload validators.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	handlers   map[string]HandlerFunc
	validators map[string]ValidateFunc
	defaults   map[string]Options
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers:   make(map[string]HandlerFunc),
		validators: make(map[string]ValidateFunc),
		defaults:   make(map[string]Options),
	}
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler; the payload validator performs the same strict
// decode so malformed payloads are rejected at enqueue time, not discovered
// at execution time.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	handler := func(ctx context.Context, payload []byte, report Progress) ([]byte, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job %q: %w", def.Name, err)
			}
		}
		result, err := def.Handler(ctx, t, report)
		if err != nil {
			return nil, err
		}
		if result == nil {
			return nil, nil
		}
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			return nil, fmt.Errorf("marshal result for job %q: %w", def.Name, mErr)
		}
		return raw, nil
	}

	validate := func(payload []byte) error {
		if len(payload) == 0 {
			return nil
		}
		dec := json.NewDecoder(bytes.NewReader(payload))
		dec.DisallowUnknownFields()
		var t T
		if err := dec.Decode(&t); err != nil {
			return fmt.Errorf("%w: job %q: %v", pulse.ErrInvalidPayload, def.Name, err)
		}
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handler
	r.validators[def.Name] = validate
	r.defaults[def.Name] = def.Opts
}

// Get returns the handler for the given job name.
// Returns false if no handler is registered.
func (r *Registry) Get(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Validate checks a raw payload against the registered type for name.
// Returns pulse.ErrUnknownJobName for unregistered names and
// pulse.ErrInvalidPayload (wrapped) for undecodable payloads.
func (r *Registry) Validate(name string, payload []byte) error {
	r.mu.RLock()
	v, ok := r.validators[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", pulse.ErrUnknownJobName, name)
	}
	return v(payload)
}

// Defaults returns the registered default options for name. The boolean
// reports whether the name is registered.
func (r *Registry) Defaults(name string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.defaults[name]
	return o, ok
}

// Names returns all registered job names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}

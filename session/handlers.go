package session

import (
	"fmt"
	"sync"
)

// Names of the error handlers pre-registered on every coordinator's chain,
// in their registration (priority) order.
const (
	HandlerInvalidCredentials = "invalid-credentials"
	HandlerVersionMismatch    = "version-mismatch"
	HandlerNetworkUnavailable = "network-unavailable"
	HandlerGeneric            = "generic"
)

// ErrorHandler pairs a predicate over an authentication failure with the
// remediation action to run when the predicate matches.  Handlers are pure
// policy: they hold no session state of their own.
type ErrorHandler struct {
	// Name identifies the handler within a chain.  Unique per chain.
	Name string

	// Matches reports whether this handler claims the failure.
	Matches func(err error, info *AuthInfo) bool

	// Handle performs the remediation action.  Handle must not call back
	// into the coordinator's Login or Logout synchronously; a remediation
	// that retries must schedule a new, independent call (go c.Login(...)).
	Handle func(err error, info *AuthInfo)
}

func (h *ErrorHandler) validate() error {
	const op = "session.(ErrorHandler).validate"
	switch {
	case h == nil:
		return fmt.Errorf("%s: handler is nil: %w", op, ErrNilParameter)
	case h.Name == "":
		return fmt.Errorf("%s: handler name is empty: %w", op, ErrInvalidParameter)
	case h.Matches == nil:
		return fmt.Errorf("%s: handler %q has no predicate: %w", op, h.Name, ErrInvalidParameter)
	case h.Handle == nil:
		return fmt.Errorf("%s: handler %q has no action: %w", op, h.Name, ErrInvalidParameter)
	}
	return nil
}

// ErrorHandlerChain is an ordered list of ErrorHandlers.  Evaluation is
// strictly sequential and stops at the first handler whose predicate
// matches; later handlers never see an error already claimed.
//
// A coordinator's chain comes pre-registered with the built-in handlers
// (HandlerInvalidCredentials, HandlerVersionMismatch,
// HandlerNetworkUnavailable, HandlerGeneric, in that priority order);
// callers may reorder, replace or remove them.
type ErrorHandlerChain struct {
	mu      sync.Mutex
	entries []*ErrorHandler
}

// NewErrorHandlerChain creates an empty chain.
func NewErrorHandlerChain() *ErrorHandlerChain {
	return &ErrorHandlerChain{}
}

// PushFront inserts h at the head of the chain.
func (c *ErrorHandlerChain) PushFront(h *ErrorHandler) error {
	const op = "session.(ErrorHandlerChain).PushFront"
	return c.insert(op, h, func(entries []*ErrorHandler) (int, error) { return 0, nil })
}

// PushBack appends h at the tail of the chain.
func (c *ErrorHandlerChain) PushBack(h *ErrorHandler) error {
	const op = "session.(ErrorHandlerChain).PushBack"
	return c.insert(op, h, func(entries []*ErrorHandler) (int, error) { return len(entries), nil })
}

// InsertBefore inserts h immediately before the handler named name.
func (c *ErrorHandlerChain) InsertBefore(name string, h *ErrorHandler) error {
	const op = "session.(ErrorHandlerChain).InsertBefore"
	return c.insert(op, h, func(entries []*ErrorHandler) (int, error) {
		for i, e := range entries {
			if e.Name == name {
				return i, nil
			}
		}
		return 0, fmt.Errorf("no handler named %q: %w", name, ErrHandlerNotFound)
	})
}

// InsertAfter inserts h immediately after the handler named name.
func (c *ErrorHandlerChain) InsertAfter(name string, h *ErrorHandler) error {
	const op = "session.(ErrorHandlerChain).InsertAfter"
	return c.insert(op, h, func(entries []*ErrorHandler) (int, error) {
		for i, e := range entries {
			if e.Name == name {
				return i + 1, nil
			}
		}
		return 0, fmt.Errorf("no handler named %q: %w", name, ErrHandlerNotFound)
	})
}

func (c *ErrorHandlerChain) insert(op string, h *ErrorHandler, at func([]*ErrorHandler) (int, error)) error {
	if err := h.validate(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.Name == h.Name {
			return fmt.Errorf("%s: a handler named %q is already in the chain: %w", op, h.Name, ErrInvalidParameter)
		}
	}
	i, err := at(c.entries)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	c.entries = append(c.entries, nil)
	copy(c.entries[i+1:], c.entries[i:])
	c.entries[i] = h
	return nil
}

// Remove removes the handler named name from the chain.
func (c *ErrorHandlerChain) Remove(name string) error {
	const op = "session.(ErrorHandlerChain).Remove"
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range c.entries {
		if e.Name == name {
			c.entries = append(c.entries[:i], c.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%s: no handler named %q: %w", op, name, ErrHandlerNotFound)
}

// Names returns the handler names in chain order.
func (c *ErrorHandlerChain) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.entries))
	for _, e := range c.entries {
		names = append(names, e.Name)
	}
	return names
}

// evaluate runs the chain against the failure: the first handler whose
// predicate matches performs its action and evaluation stops.  It reports
// whether any handler matched.  Predicates and actions run outside the
// chain's lock, against a snapshot of the chain taken at call time.
func (c *ErrorHandlerChain) evaluate(err error, info *AuthInfo) bool {
	c.mu.Lock()
	snapshot := make([]*ErrorHandler, len(c.entries))
	copy(snapshot, c.entries)
	c.mu.Unlock()

	for _, h := range snapshot {
		if h.Matches(err, info) {
			h.Handle(err, info)
			return true
		}
	}
	return false
}

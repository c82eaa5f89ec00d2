// Package capability holds the function-call registry the master brain
// dispatches into. Capabilities are plain closures registered once at
// startup; after Freeze the registry is read-only and safe for concurrent
// lookups without locking.
package capability

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Handler executes one capability. Handlers never return an error: any
// failure is folded into a leading "❌ ..." string so the result can be
// spliced into the model's reply as-is.
type Handler func(ctx context.Context, args map[string]interface{}) string

// Descriptor declares one capability for registration and for the prompt
// enumeration the master brain builds.
type Descriptor struct {
	Name        string
	Description string
	Handler     Handler
}

// Registry maps capability names to handlers, preserving registration
// order for the prompt enumeration.
type Registry struct {
	order  []string
	byName map[string]Descriptor
	frozen bool
	logger zerolog.Logger
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		byName: make(map[string]Descriptor),
		logger: logger.With().Str("component", "capability").Logger(),
	}
}

// Register adds a capability. Registration happens during startup wiring
// only; duplicate names and post-freeze registration are programming
// errors, reported as errors so main can fail loudly.
func (r *Registry) Register(d Descriptor) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", d.Name)
	}
	if d.Name == "" || d.Handler == nil {
		return fmt.Errorf("capability needs a name and a handler")
	}
	if _, exists := r.byName[d.Name]; exists {
		return fmt.Errorf("capability %q already registered", d.Name)
	}
	r.byName[d.Name] = d
	r.order = append(r.order, d.Name)
	return nil
}

// Freeze ends the registration phase.
func (r *Registry) Freeze() { r.frozen = true }

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns the capability names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Enumerate renders the "- name: description" list embedded into the
// master brain's system prompt.
func (r *Registry) Enumerate() string {
	lines := make([]string, 0, len(r.order))
	for _, name := range r.order {
		lines = append(lines, fmt.Sprintf("- %s: %s", name, r.byName[name].Description))
	}
	return strings.Join(lines, "\n")
}

// Invoke runs the named capability. found is false when the name is not
// registered; the caller owns the unknown-call wording because it has the
// original call text. A panicking handler is captured into an error
// string, never propagated.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]interface{}) (result string, found bool) {
	d, ok := r.byName[name]
	if !ok {
		return "", false
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Str("capability", name).Interface("panic", rec).Msg("capability handler panicked")
			result = fmt.Sprintf("❌ 函数执行失败: %v", rec)
			found = true
		}
	}()

	r.logger.Debug().Str("capability", name).Msg("invoking capability")
	return d.Handler(ctx, args), true
}

package fsm

import (
	"context"
	"errors"

	loopfsm "github.com/looplab/fsm"

	"github.com/neomorfeo/tenantplane/internal/domain"
)

// Compile-time check: Validator implements domain.TransitionValidator.
var _ domain.TransitionValidator = (*Validator)(nil)

// events converts domain.Transitions into looplab/fsm EventDesc format,
// folding edges that share a transition and destination into one EventDesc
// with several sources (offboard from Active and from Failed).
var events = buildEvents()

func buildEvents() []loopfsm.EventDesc {
	type key struct {
		transition string
		dst        string
	}
	grouped := make(map[key][]string)
	order := make([]key, 0)

	for _, e := range domain.Transitions {
		k := key{transition: string(e.Transition), dst: string(e.Dst)}
		if _, exists := grouped[k]; !exists {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], string(e.Src))
	}

	out := make([]loopfsm.EventDesc, 0, len(order))
	for _, k := range order {
		out = append(out, loopfsm.EventDesc{
			Name: k.transition,
			Src:  grouped[k],
			Dst:  k.dst,
		})
	}
	return out
}

// Validator implements domain.TransitionValidator using looplab/fsm.
// looplab/fsm instances hold their current state, so Apply builds a
// short-lived machine seeded with the tenant's status on every call.
type Validator struct{}

// New creates a new FSM-backed transition validator.
func New() *Validator {
	return &Validator{}
}

// Apply returns the destination of t from current, or a
// *domain.TransitionError if the lifecycle graph has no such edge.
func (v *Validator) Apply(ctx context.Context, current domain.Status, t domain.Transition) (domain.Status, error) {
	machine := loopfsm.NewFSM(string(current), events, nil)

	if err := machine.Event(ctx, string(t)); err != nil {
		var invalidEvent loopfsm.InvalidEventError
		var unknownEvent loopfsm.UnknownEventError
		var noTransition loopfsm.NoTransitionError
		if errors.As(err, &invalidEvent) || errors.As(err, &unknownEvent) || errors.As(err, &noTransition) {
			return "", &domain.TransitionError{
				Transition: t,
				Current:    current,
			}
		}
		return "", err
	}

	return domain.Status(machine.Current()), nil
}

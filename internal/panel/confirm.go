package panel

import "context"

const (
	startPrompt = "Are you sure you want to start the scheduler?"
	pausePrompt = "Are you sure you want to pause the scheduler?"
)

// TogglePrompt returns the confirmation question for moving the scheduler
// into the target running state.
func TogglePrompt(target bool) string {
	if target {
		return startPrompt
	}
	return pausePrompt
}

// Confirmer is the explicit confirmation step that must answer before a
// toggle proceeds. A false answer or an error cancels the toggle.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to a Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Confirm calls f.
func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Decided returns a Confirmer for an answer the user already gave, e.g. on a
// confirmation page.
func Decided(ok bool) Confirmer {
	return ConfirmFunc(func(context.Context, string) (bool, error) {
		return ok, nil
	})
}

type actorKey struct{}

// WithActor attaches the name of the user performing an action.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor attached by WithActor, or "".
func ActorFrom(ctx context.Context) string {
	actor, _ := ctx.Value(actorKey{}).(string)
	return actor
}

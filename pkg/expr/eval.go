package expr

// Evaluate is the public driver spec.md §4.1 assigns to the engine rather
// than to individual nodes: it calls n.Step(ctx, in), logs entry at V(1)
// and each emission at V(2) the way the teacher's pipeline.Engine.Evaluate
// logs each operator invocation, and ensures that once ctx.Aborted() becomes true no further
// Result is yielded for this call, regardless of what the node's own Step
// does.
//
// Concrete nodes implement only Step; they never need to check
// ctx.Aborted() themselves for results already in flight from their own
// children, because every combinator that fans out to children routes
// through Evaluate and Evaluate enforces the stop.
func Evaluate(n Node, ctx *Context, in Binding) Seq {
	return func(yield func(Result) bool) {
		if ctx.Aborted() {
			return
		}
		log := ctx.Log.WithValues("node", n.ID(), "type", n.String())
		log.V(1).Info("evaluating", "in", in)

		n.Step(ctx, in)(func(r Result) bool {
			if ctx.Aborted() {
				return false
			}
			log.V(2).Info("emit", "binding", r.Binding, "truth", r.Truth)
			return yield(r)
		})
	}
}

// EvaluateAll drains Evaluate(n, ctx, in) into a slice, for callers that
// want eager materialization instead of a lazy Seq. It stops early and returns ctx.Err() if the context aborts.
func EvaluateAll(n Node, ctx *Context, in Binding) ([]Result, error) {
	var out []Result
	Evaluate(n, ctx, in)(func(r Result) bool {
		out = append(out, r)
		return true
	})
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

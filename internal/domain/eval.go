package domain

import "strings"

// EvalOutcome is what a single evaluation produced. It is not persisted; the
// only lasting effect of an evaluation is on the evaluator's own bindings.
type EvalOutcome struct {
	// Value is the printed representation of the result. Nil when the
	// evaluation failed or produced no value.
	Value *string
	// Out is everything the evaluation wrote to standard output.
	Out string
	// Err is everything written to standard error. On failure it starts with
	// "Error: <message>".
	Err string
	// Failed is set when the evaluation raised.
	Failed bool
}

// ValueString returns the printed value, or "" when there is none.
func (o EvalOutcome) ValueString() string {
	if o.Value == nil {
		return ""
	}
	return *o.Value
}

// Text joins the non-blank out, err and value parts with newlines, in that
// order. It returns "" when all three are blank.
func (o EvalOutcome) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{o.Out, o.Err, o.ValueString()} {
		if strings.TrimSpace(p) == "" {
			continue
		}
		parts = append(parts, strings.TrimRight(p, "\r\n"))
	}
	return strings.Join(parts, "\n")
}

// StringValue is a convenience for building outcomes.
func StringValue(v string) *string {
	return &v
}

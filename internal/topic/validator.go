package topic

import "encoding/json"

// Validator checks whether a publish's positional params are acceptable
// for a topic before fan-out. Implementations are a handful of concrete
// shapes rather than one generic predicate type, grounded in
// original_source/betelbot/topic.py's ValueTopic/HistogramTopic split.
type Validator interface {
	Validate(params []json.RawMessage) bool
}

// AnyValidator accepts any arity and any values. Used for topics whose
// payload shape isn't constrained at the broker (location, waypoint,
// path, particles), mirroring
// original_source/betelbot/topic.py's SenseTopic/PathTopic/ParticleTopic,
// which all unconditionally return true from isValid.
type AnyValidator struct{}

func (AnyValidator) Validate(params []json.RawMessage) bool { return true }

// EnumValidator requires exactly arity params, each a JSON string drawn
// from a fixed allowed set. Grounded in topic.py's CmdTopic ('h','j','k',
// 'l','s') and the "power"/"mode" catalog entries.
type EnumValidator struct {
	Allowed map[string]bool
	Arity   int
}

// NewEnumValidator builds an EnumValidator from a list of allowed string
// tokens, requiring exactly arity of them per publish.
func NewEnumValidator(arity int, allowed ...string) EnumValidator {
	set := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		set[a] = true
	}
	return EnumValidator{Allowed: set, Arity: arity}
}

func (v EnumValidator) Validate(params []json.RawMessage) bool {
	if len(params) != v.Arity {
		return false
	}
	for _, p := range params {
		var s string
		if err := json.Unmarshal(p, &s); err != nil {
			return false
		}
		if !v.Allowed[s] {
			return false
		}
	}
	return true
}

// ArityValidator accepts any values but requires an exact param count,
// used for topics that are unconstrained in value but still shaped (e.g.
// a coordinate pair).
type ArityValidator struct {
	Arity int
}

func (v ArityValidator) Validate(params []json.RawMessage) bool {
	return len(params) == v.Arity
}

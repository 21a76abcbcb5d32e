package topic

// DefaultCatalog returns the broker's fixed startup topic catalog,
// grounded in original_source/betelbot/topic.py's CmdTopic/MoveTopic
// enum validators and its SenseTopic/PathTopic/ParticleTopic
// pass-through validators.
func DefaultCatalog() map[string]Validator {
	return map[string]Validator{
		// Single-token movement command, vi-style directions plus stop;
		// matches topic.py's CmdTopic allowed set ('h','j','k','l','s').
		"cmd": NewEnumValidator(1, "h", "j", "k", "l", "s"),

		// Emitted by the driver/simulator after a move completes; same
		// shape as cmd (topic.py's MoveTopic subclasses CmdTopic).
		"move": NewEnumValidator(1, "h", "j", "k", "l", "s"),

		// Binary power toggle.
		"power": NewEnumValidator(1, "on", "off"),

		// Operating mode toggle.
		"mode": NewEnumValidator(1, "manual", "autonomous"),

		// Unconstrained numeric/array topics: robot pose, a single
		// waypoint, a planned path, and particle-filter state.
		// All pass-through, grounded in topic.py's SenseTopic/PathTopic/
		// DirectionsTopic/ParticleTopic, which unconditionally validate.
		"location":  AnyValidator{},
		"waypoint":  AnyValidator{},
		"path":      AnyValidator{},
		"particles": AnyValidator{},

		// Raw sense readings from the driver/simulator.
		"sense": AnyValidator{},

		// Scalar histogram bucket values used by the log viewer /
		// visualizer peripheral (topic.py's HistogramTopic, which also
		// validates unconditionally).
		"histogram": AnyValidator{},
	}
}

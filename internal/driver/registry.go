package driver

import "fmt"

// Registry maps driver ids and kinds to instances. All registration is
// explicit at startup; there is no discovery and no reflection.
type Registry struct {
	drivers  map[string]Driver
	defaults map[string]string // kind -> driver id
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		drivers:  make(map[string]Driver),
		defaults: make(map[string]string),
	}
}

// Register adds a driver. Duplicate ids are an authoring error.
func (r *Registry) Register(d Driver) error {
	id := d.ID()
	if id == "" {
		return fmt.Errorf("driver has empty id")
	}
	if _, exists := r.drivers[id]; exists {
		return fmt.Errorf("duplicate driver id %q", id)
	}
	r.drivers[id] = d
	return nil
}

// SetDefault maps a kind to a registered driver id.
func (r *Registry) SetDefault(kind, driverID string) error {
	if _, ok := r.drivers[driverID]; !ok {
		return fmt.Errorf("set default for kind %q: unknown driver %q", kind, driverID)
	}
	r.defaults[kind] = driverID
	return nil
}

// Resolve returns the driver for an engine descriptor. An explicit driverID
// wins; otherwise the kind's default applies; otherwise resolution fails.
func (r *Registry) Resolve(driverID, kind string) (Driver, error) {
	if driverID != "" {
		d, ok := r.drivers[driverID]
		if !ok {
			return nil, fmt.Errorf("unknown driver %q", driverID)
		}
		return d, nil
	}
	if kind != "" {
		id, ok := r.defaults[kind]
		if !ok {
			return nil, fmt.Errorf("no default driver for kind %q", kind)
		}
		return r.drivers[id], nil
	}
	return nil, fmt.Errorf("engine descriptor has neither driverId nor kind")
}

// DefaultRegistry builds the standard closed driver set. The set is
// static, so a registration failure is a programming error.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	all := []Driver{
		NewNumeric(),
		NewSequential(),
		NewOpen(),
		NewPathScored(),
	}
	for _, d := range all {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	defaults := map[string]string{
		KindNumeric:  DriverIDNumeric,
		KindSequence: DriverIDSequential,
		KindPath:     DriverIDPathScored,
	}
	for kind, id := range defaults {
		if err := r.SetDefault(kind, id); err != nil {
			panic(err)
		}
	}
	return r
}

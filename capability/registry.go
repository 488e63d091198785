package capability

import "strings"

const (
	VendorSchneider = "Schneider Electric"
	VendorABB       = "ABB"
	VendorDelta     = "Delta Electronics"
	VendorLegrand   = "Legrand"
)

// vendors maps normalized vendor names reported in BootNotification to capability constructors
var vendors = map[string]func(Commander) Capability{
	"schneider electric": func(c Commander) Capability { return &schneider{commander: c} },
	"schneider":          func(c Commander) Capability { return &schneider{commander: c} },
	"abb":                func(c Commander) Capability { return &abb{commander: c} },
	"delta electronics":  func(c Commander) Capability { return &delta{commander: c} },
	"delta":              func(c Commander) Capability { return &delta{commander: c} },
	"legrand":            func(c Commander) Capability { return &legrand{commander: c} },
}

// Registry resolves vendor capabilities; capabilities are built once and shared, lookups are read only
type Registry struct {
	known map[string]Capability
}

func NewRegistry(commander Commander) *Registry {
	known := make(map[string]Capability, len(vendors))
	for name, build := range vendors {
		known[name] = build(commander)
	}
	return &Registry{known: known}
}

// Resolve never fails: vendors outside the table get a capability reporting ErrUnsupported
func (r *Registry) Resolve(vendor string) Capability {
	if c, ok := r.known[normalize(vendor)]; ok {
		return c
	}
	return &unsupported{vendor: vendor}
}

func normalize(vendor string) string {
	return strings.ToLower(strings.Join(strings.Fields(vendor), " "))
}

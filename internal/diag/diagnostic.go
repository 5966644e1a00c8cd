package diag

import (
	"sort"
	"strings"
)

// Well-known categories.
const (
	CategoryEntrypoints      = "entrypoints"
	CategoryUnsupported      = "unsupported"
	CategoryFeatureTelemetry = "ModuleFeatureTelemetry_category_tbd"
)

// Well-known diagnostic names.
const (
	NameRouteConflict              = "ROUTE_CONFLICT"
	NameMiddlewareCardinality      = "MIDDLEWARE_CARDINALITY"
	NameInvalidRuntime             = "INVALID_RUNTIME"
	NameUnsupportedDynamicMetadata = "UNSUPPORTED_DYNAMIC_METADATA"
	NameFeatureUsage               = "NEXT_BUILD_FEATURE_USAGE"
)

// Diagnostic is a structured record emitted while computing a query.
// Payload is treated as immutable once the diagnostic is reported.
type Diagnostic struct {
	Category string
	Name     string
	Payload  map[string]string
}

// Plain is the flattened, serializable form of a Diagnostic that crosses
// the subscription boundary.
type Plain struct {
	Category string            `json:"category" msgpack:"category"`
	Name     string            `json:"name" msgpack:"name"`
	Payload  map[string]string `json:"payload" msgpack:"payload"`
}

func New(category, name string) Diagnostic {
	return Diagnostic{Category: category, Name: name}
}

// With returns a copy of d with key set to value in its payload.
func (d Diagnostic) With(key, value string) Diagnostic {
	payload := make(map[string]string, len(d.Payload)+1)
	for k, v := range d.Payload {
		payload[k] = v
	}
	payload[key] = value
	d.Payload = payload
	return d
}

// Key returns a canonical identity used for ordering and de-duplication.
func (d Diagnostic) Key() string {
	var sb strings.Builder
	sb.WriteString(d.Category)
	sb.WriteByte(0)
	sb.WriteString(d.Name)
	keys := make([]string, 0, len(d.Payload))
	for k := range d.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteByte(0)
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(d.Payload[k])
	}
	return sb.String()
}

// Plain flattens d. The payload is copied and never nil.
func (d Diagnostic) Plain() Plain {
	payload := make(map[string]string, len(d.Payload))
	for k, v := range d.Payload {
		payload[k] = v
	}
	return Plain{Category: d.Category, Name: d.Name, Payload: payload}
}

// Flatten converts a slice of diagnostics into their plain form.
func Flatten(items []Diagnostic) []Plain {
	out := make([]Plain, 0, len(items))
	for _, d := range items {
		out = append(out, d.Plain())
	}
	return out
}

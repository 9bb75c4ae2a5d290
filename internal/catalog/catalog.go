// Package catalog holds the ordered list of backend endpoints a translation
// is dispatched across. The catalog is built once at startup and never
// mutated afterwards.
package catalog

import (
	"slices"
	"strings"
	"time"

	"github.com/valpere/regiontran/internal"
)

// EndpointDescriptor describes one callable backend model variant.
// A zero Timeout disables the deadline; only the last entry may do that.
type EndpointDescriptor struct {
	ID                   string        `json:"id"`
	Kind                 string        `json:"kind"`
	Model                string        `json:"model,omitempty"`
	Timeout              time.Duration `json:"timeout"`
	SupportsStreaming    bool          `json:"supports_streaming"`
	SupportsImagePayload bool          `json:"supports_image_payload"`
}

func (d EndpointDescriptor) HasTimeout() bool {
	return d.Timeout > 0
}

// Accepts reports whether the endpoint can handle a payload of the given kind.
func (d EndpointDescriptor) Accepts(kind internal.PayloadKind) bool {
	return kind != internal.PayloadImage || d.SupportsImagePayload
}

// EndpointConfig is the on-disk form of a descriptor. TimeoutMs is a pointer
// so that an absent value (null) can be told apart from an explicit number.
type EndpointConfig struct {
	ID        string `mapstructure:"id"`
	Kind      string `mapstructure:"kind"`
	Model     string `mapstructure:"model"`
	TimeoutMs *int   `mapstructure:"timeout_ms"`
	Streaming bool   `mapstructure:"streaming"`
	Images    bool   `mapstructure:"images"`
}

func (c EndpointConfig) Descriptor() EndpointDescriptor {
	d := EndpointDescriptor{
		ID:                   strings.TrimSpace(c.ID),
		Kind:                 strings.ToLower(strings.TrimSpace(c.Kind)),
		Model:                c.Model,
		SupportsStreaming:    c.Streaming,
		SupportsImagePayload: c.Images,
	}
	if c.TimeoutMs != nil {
		d.Timeout = time.Duration(*c.TimeoutMs) * time.Millisecond
	}
	return d
}

// Catalog is an immutable, priority-ordered list of endpoints: fast and cheap
// first, most reliable last.
type Catalog struct {
	entries []EndpointDescriptor
}

// New validates entries and returns a catalog owning a private copy of them.
func New(entries ...EndpointDescriptor) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, internal.NewConfigurationError("endpoint catalog is empty")
	}

	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		if e.ID == "" {
			return nil, internal.NewConfigurationError("catalog entry %d has no id", i)
		}
		if seen[e.ID] {
			return nil, internal.NewConfigurationError("duplicate endpoint id %q", e.ID)
		}
		seen[e.ID] = true

		if e.Kind == "" {
			return nil, internal.NewConfigurationError("endpoint %q has no kind", e.ID)
		}
		if e.Timeout < 0 {
			return nil, internal.NewConfigurationError("endpoint %q has negative timeout", e.ID)
		}
		// A missing deadline before the last entry would stall the whole chain.
		if !e.HasTimeout() && i != len(entries)-1 {
			return nil, internal.NewConfigurationError("endpoint %q has no timeout but is not the last entry", e.ID)
		}
	}

	cp := make([]EndpointDescriptor, len(entries))
	copy(cp, entries)
	return &Catalog{entries: cp}, nil
}

// FromConfig converts configuration entries and validates them.
func FromConfig(cfgs []EndpointConfig) (*Catalog, error) {
	entries := make([]EndpointDescriptor, 0, len(cfgs))
	for _, c := range cfgs {
		entries = append(entries, c.Descriptor())
	}
	return New(entries...)
}

// RequireKinds rejects a catalog naming an endpoint kind outside known.
func (c *Catalog) RequireKinds(known []string) error {
	for _, e := range c.Entries() {
		if !slices.Contains(known, e.Kind) {
			return internal.NewConfigurationError("endpoint %q has unknown kind %q (supported: %s)", e.ID, e.Kind, strings.Join(known, ", "))
		}
	}
	return nil
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Entries returns a copy of the descriptors in priority order.
func (c *Catalog) Entries() []EndpointDescriptor {
	if c == nil {
		return nil
	}
	cp := make([]EndpointDescriptor, len(c.entries))
	copy(cp, c.entries)
	return cp
}

func (c *Catalog) Lookup(id string) (EndpointDescriptor, bool) {
	if c == nil {
		return EndpointDescriptor{}, false
	}
	for _, e := range c.entries {
		if e.ID == id {
			return e, true
		}
	}
	return EndpointDescriptor{}, false
}

func (c *Catalog) IsLast(id string) bool {
	return c.Len() > 0 && c.entries[len(c.entries)-1].ID == id
}

// AcceptsAny reports whether at least one endpoint can take the payload kind.
func (c *Catalog) AcceptsAny(kind internal.PayloadKind) bool {
	if c == nil {
		return false
	}
	for _, e := range c.entries {
		if e.Accepts(kind) {
			return true
		}
	}
	return false
}

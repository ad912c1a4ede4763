package provider

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Provider uploads a local file to a file host and returns a public link.
type Provider interface {
	Name() string
	Upload(ctx context.Context, path, filename string) (string, error)
}

// Credentials carries every provider secret. Each descriptor reads only the
// fields it needs.
type Credentials struct {
	HTTPClient *http.Client

	PixeldrainAPIKey string

	GDriveCredentialsFile string
	GDriveFolderID        string

	PutioToken    string
	PutioFolderID int64
}

// Descriptor is the static registration of one provider.
type Descriptor struct {
	Name                string
	CredentialsRequired bool
	// Configured reports whether creds hold what New needs. It may be nil when
	// CredentialsRequired is false.
	Configured func(creds Credentials) bool
	New        func(ctx context.Context, creds Credentials) (Provider, error)
}

// Registry maps provider names to descriptors.
type Registry struct {
	descriptors map[string]Descriptor
}

func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{descriptors: make(map[string]Descriptor, len(descriptors))}

	for _, d := range descriptors {
		r.Register(d)
	}

	return r
}

// Register adds d, replacing any descriptor with the same name.
func (r *Registry) Register(d Descriptor) {
	r.descriptors[strings.ToLower(d.Name)] = d
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Build instantiates the named providers in order. It fails if a name is
// unknown, is listed twice, or lacks required credentials.
func (r *Registry) Build(ctx context.Context, names []string, creds Credentials) ([]Provider, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no upload provider configured")
	}

	seen := make(map[string]struct{}, len(names))
	providers := make([]Provider, 0, len(names))

	for _, name := range names {
		key := strings.ToLower(strings.TrimSpace(name))

		d, ok := r.descriptors[key]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q (known: %s)", name, strings.Join(r.Names(), ", "))
		}

		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("provider %q listed more than once", name)
		}

		seen[key] = struct{}{}

		if d.CredentialsRequired && (d.Configured == nil || !d.Configured(creds)) {
			return nil, fmt.Errorf("provider %q requires credentials that are not configured", key)
		}

		p, err := d.New(ctx, creds)
		if err != nil {
			return nil, fmt.Errorf("failed to build provider %q: %w", key, err)
		}

		providers = append(providers, p)
	}

	return providers, nil
}

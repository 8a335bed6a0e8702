package registry

import (
	"fmt"
	"sort"
	"strings"
)

// Variant is one buildable configuration target. Variants are created while loading the
// registry and never change afterwards.
type Variant struct {
	name        string
	dir         string
	buildScript string
	versionTag  string
	loaderTag   string
	config      map[string]string
}

// VariantSpec holds the values for NewVariant.
type VariantSpec struct {
	Name        string
	Dir         string
	BuildScript string
	VersionTag  string
	LoaderTag   string
	Config      map[string]string
}

// NewVariant creates a variant directly, bypassing the loaders. Missing tags are
// derived from the name the same way Load does.
func NewVariant(spec VariantSpec) *Variant {
	v := &Variant{
		name:        spec.Name,
		dir:         spec.Dir,
		buildScript: spec.BuildScript,
		versionTag:  spec.VersionTag,
		loaderTag:   spec.LoaderTag,
		config:      make(map[string]string, len(spec.Config)),
	}

	for k, val := range spec.Config {
		v.config[k] = val
	}

	if v.loaderTag == "" {
		v.loaderTag = deriveLoaderTag(spec.Name)
	}
	if v.versionTag == "" {
		v.versionTag = deriveVersionTag(spec.Name, v.loaderTag)
	}

	return v
}

// Name returns the unique variant name (usually the version folder name).
func (v *Variant) Name() string { return v.name }

// Dir returns the variant's directory. It may be empty for variants declared
// in a registry document without a matching folder.
func (v *Variant) Dir() string { return v.dir }

// BuildScript returns the build script reference for this variant.
func (v *Variant) BuildScript() string { return v.buildScript }

// VersionTag is the platform version used in canonical artifact names.
func (v *Variant) VersionTag() string { return v.versionTag }

// LoaderTag is the mod loader name used in canonical artifact names.
func (v *Variant) LoaderTag() string { return v.loaderTag }

// Get returns the configuration value for key.
func (v *Variant) Get(key string) (string, bool) {
	value, ok := v.config[key]
	return value, ok
}

// Require returns the configuration value for key or a ConfigurationError.
func (v *Variant) Require(key string) (string, error) {
	value, ok := v.config[key]
	if !ok || value == "" {
		return "", MissingKeyError(v.name, key)
	}

	return value, nil
}

// Config returns a copy of the variant's configuration values.
func (v *Variant) Config() map[string]string {
	result := make(map[string]string, len(v.config))
	for k, val := range v.config {
		result[k] = val
	}

	return result
}

// Keys returns the sorted configuration keys.
func (v *Variant) Keys() []string {
	keys := make([]string, 0, len(v.config))
	for k := range v.config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

func (v *Variant) String() string {
	return fmt.Sprintf("<Variant %s: %s %s>", v.name, v.loaderTag, v.versionTag)
}

// Registry is the ordered, authoritative list of variants.
type Registry struct {
	variants []*Variant
	byName   map[string]*Variant
	// Default is the designated default variant name, if any.
	Default string
}

// NewRegistry checks the passed variants for duplicate names and wraps them.
func NewRegistry(variants []*Variant, defaultName string) (*Registry, error) {
	if len(variants) == 0 {
		return nil, &ConfigurationError{Msg: "no variants found"}
	}

	byName := make(map[string]*Variant, len(variants))
	for _, v := range variants {
		if _, present := byName[v.name]; present {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("variant %s is declared more than once", v.name)}
		}
		byName[v.name] = v
	}

	return &Registry{
		variants: variants,
		byName:   byName,
		Default:  defaultName,
	}, nil
}

// Variants returns the variants in discovery order.
func (r *Registry) Variants() []*Variant {
	result := make([]*Variant, len(r.variants))
	copy(result, r.variants)
	return result
}

// Names returns the variant names in discovery order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.variants))
	for idx, v := range r.variants {
		names[idx] = v.name
	}

	return names
}

// Lookup returns the variant with the given name.
func (r *Registry) Lookup(name string) (*Variant, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// Len returns the number of registered variants.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.variants)
}

// deriveLoaderTag extracts the loader from names like "1.21.1-neoforge".
func deriveLoaderTag(name string) string {
	pos := strings.LastIndex(name, "-")
	if pos < 0 || pos == len(name)-1 {
		return ""
	}

	suffix := name[pos+1:]
	if strings.IndexFunc(suffix, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
		// purely numeric suffixes are part of the version
		return ""
	}

	return suffix
}

// deriveVersionTag strips a loader suffix from the variant name.
func deriveVersionTag(name, loader string) string {
	if loader != "" && strings.HasSuffix(name, "-"+loader) {
		return strings.TrimSuffix(name, "-"+loader)
	}

	return name
}

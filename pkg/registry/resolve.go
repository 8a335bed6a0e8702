package registry

import (
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
)

// Resolve picks the active variant. An explicit name must exist in the registry; without
// one the registry's default is used and, failing that, the first variant in discovery order.
func (r *Registry) Resolve(requested string) (*Variant, error) {
	if r.Len() == 0 {
		return nil, &ConfigurationError{Msg: "no variants found"}
	}

	if requested != "" {
		return r.lookupOrFail(requested)
	}

	if r.Default != "" {
		return r.lookupOrFail(r.Default)
	}

	return r.variants[0], nil
}

func (r *Registry) lookupOrFail(name string) (*Variant, error) {
	v, ok := r.Lookup(name)
	if !ok {
		return nil, &UnknownVariantError{Name: name, Supported: r.Names()}
	}

	return v, nil
}

// Filter restricts a set of variants.
type Filter struct {
	// Names selects variants by name. Empty means all.
	Names []string
	// Constraint is a semver constraint matched against each variant's version tag
	// (i.e. ">= 1.21").
	Constraint string
}

// Select returns the registered variants matching f, keeping discovery order.
func (r *Registry) Select(f Filter) ([]*Variant, error) {
	var constraint *semver.Constraints
	if f.Constraint != "" {
		var err error
		constraint, err = semver.NewConstraint(f.Constraint)
		if err != nil {
			return nil, &ConfigurationError{Msg: "invalid version constraint " + f.Constraint + ": " + err.Error()}
		}
	}

	wanted := make(map[string]bool, len(f.Names))
	for _, name := range f.Names {
		if _, ok := r.byName[name]; !ok {
			return nil, &UnknownVariantError{Name: name, Supported: r.Names()}
		}
		wanted[name] = true
	}

	result := make([]*Variant, 0, len(r.variants))
	for _, v := range r.variants {
		if len(wanted) > 0 && !wanted[v.name] {
			continue
		}

		if constraint != nil {
			version, err := semver.NewVersion(v.versionTag)
			if err != nil {
				return nil, &ConfigurationError{
					Variant: v.name,
					Msg:     "version tag " + v.versionTag + " is not a valid version: " + err.Error(),
				}
			}

			if !constraint.Check(version) {
				continue
			}
		}

		result = append(result, v)
	}

	if len(result) == 0 {
		return nil, &ConfigurationError{Msg: "no variants match the selection"}
	}

	return result, nil
}

// SortByVersion orders variants by their version tag using semver rules. Tags that
// aren't valid versions sort after valid ones, by name.
func SortByVersion(variants []*Variant) error {
	versions := make(map[*Variant]*semver.Version, len(variants))
	for _, v := range variants {
		version, err := semver.NewVersion(v.versionTag)
		if err == nil {
			versions[v] = version
		}
	}

	if len(variants) > 0 && len(versions) == 0 {
		return eris.New("none of the variants carries a valid version tag")
	}

	sort.SliceStable(variants, func(i, j int) bool {
		a, b := versions[variants[i]], versions[variants[j]]
		switch {
		case a != nil && b != nil:
			if a.Equal(b) {
				return variants[i].name < variants[j].name
			}
			return a.LessThan(b)
		case a != nil:
			return true
		case b != nil:
			return false
		default:
			return variants[i].name < variants[j].name
		}
	})

	return nil
}

package ids

import "fmt"

// Resolver looks up short daemon names against a merged configuration
// view. It is satisfied by internal/config.Config.
type Resolver interface {
	// NamesInNamespace returns every daemon name configured for ns.
	NamesInNamespace(ns string) []string
	// FindByName returns every DaemonId anywhere in the merged config
	// whose Name equals name.
	FindByName(name string) []DaemonId
}

// Resolve implements the short-name resolution order from spec: (a)
// current-directory namespace, (b) unique match anywhere in merged
// config, (c) global/<name>, (d) not-found. A short name that matches
// more than one qualified id anywhere is an explicit ambiguity error.
func Resolve(short string, cwdNamespace string, r Resolver) (DaemonId, error) {
	if id, err := Parse(short); err == nil {
		return id, nil
	}
	if err := validateField("name", short); err != nil {
		return DaemonId{}, err
	}

	for _, name := range r.NamesInNamespace(cwdNamespace) {
		if name == short {
			return DaemonId{Namespace: cwdNamespace, Name: short}, nil
		}
	}

	matches := r.FindByName(short)
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		// fall through to global
	default:
		return DaemonId{}, &AmbiguousError{Name: short, Matches: matches}
	}

	globalID := DaemonId{Namespace: Global, Name: short}
	for _, name := range r.NamesInNamespace(Global) {
		if name == short {
			return globalID, nil
		}
	}

	return DaemonId{}, fmt.Errorf("daemon %q: not found", short)
}

// AmbiguousError is returned when a short name matches more than one
// qualified daemon id.
type AmbiguousError struct {
	Name    string
	Matches []DaemonId
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("daemon name %q is ambiguous: matches %v", e.Name, e.Matches)
}

// Package ids parses, validates, and encodes daemon identifiers.
//
// A DaemonId is a hierarchical "namespace/name" pair. On disk and in the
// wire protocol it is encoded as "namespace--name" (the two-dash
// separator is reserved and rejected in either field), mirroring the
// project's existing "--" label-separator convention used elsewhere for
// composite identifiers.
package ids

import (
	"fmt"
	"strings"
)

// Global is the namespace used for user/system-level daemons that are not
// scoped to any particular project directory.
const Global = "global"

// DaemonId is a hierarchical identifier: Namespace scopes Name.
type DaemonId struct {
	Namespace string
	Name      string
}

// String renders the id in its canonical "namespace/name" form.
func (id DaemonId) String() string {
	return id.Namespace + "/" + id.Name
}

// Encode renders the id in its filesystem/log-path form, "namespace--name".
func (id DaemonId) Encode() string {
	return id.Namespace + "--" + id.Name
}

// IsZero reports whether id is the zero value.
func (id DaemonId) IsZero() bool {
	return id.Namespace == "" && id.Name == ""
}

// Parse parses a "namespace/name" string into a DaemonId, validating both
// fields per spec: non-empty ASCII, no whitespace, no "/", no "..", no
// "--" (reserved for the Encode separator).
func Parse(s string) (DaemonId, error) {
	idx := strings.Index(s, "/")
	if idx < 0 {
		return DaemonId{}, fmt.Errorf("daemon id %q: missing namespace (expected namespace/name)", s)
	}
	ns, name := s[:idx], s[idx+1:]
	if strings.Contains(name, "/") {
		return DaemonId{}, fmt.Errorf("daemon id %q: name must not contain '/'", s)
	}
	id := DaemonId{Namespace: ns, Name: name}
	if err := id.Validate(); err != nil {
		return DaemonId{}, err
	}
	return id, nil
}

// Decode parses a "namespace--name" encoded form back into a DaemonId.
// It is the inverse of Encode, splitting on the FIRST "--" occurrence —
// valid field values cannot themselves contain "--", so this round-trips
// exactly for any id that passed Validate.
func Decode(encoded string) (DaemonId, error) {
	idx := strings.Index(encoded, "--")
	if idx < 0 {
		return DaemonId{}, fmt.Errorf("encoded daemon id %q: missing '--' separator", encoded)
	}
	id := DaemonId{Namespace: encoded[:idx], Name: encoded[idx+2:]}
	if err := id.Validate(); err != nil {
		return DaemonId{}, err
	}
	return id, nil
}

// Validate checks both fields against spec's daemon-name character rules:
// non-empty ASCII, no whitespace, no "/", no "--", no "..".
func (id DaemonId) Validate() error {
	if err := validateField("namespace", id.Namespace); err != nil {
		return err
	}
	if err := validateField("name", id.Name); err != nil {
		return err
	}
	return nil
}

func validateField(field, v string) error {
	if v == "" {
		return fmt.Errorf("daemon %s must not be empty", field)
	}
	for _, r := range v {
		if r > 127 {
			return fmt.Errorf("daemon %s %q must be ASCII", field, v)
		}
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return fmt.Errorf("daemon %s %q must not contain whitespace", field, v)
		}
	}
	if strings.Contains(v, "/") {
		return fmt.Errorf("daemon %s %q must not contain '/'", field, v)
	}
	if strings.Contains(v, "..") {
		return fmt.Errorf("daemon %s %q must not contain '..'", field, v)
	}
	if strings.Contains(v, "--") {
		return fmt.Errorf("daemon %s %q must not contain '--' (reserved for encoding)", field, v)
	}
	return nil
}

// Package scope defines the strongly-typed cache scope key.
//
// A scope identifies the (organization, chatbot configuration) pair that owns
// one isolated vector cache, plus the content version of the knowledge base it
// was populated from. Keys are plain comparable values so they can be used
// directly as map keys; equality is field-wise, never string parsing.
package scope

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidKey indicates a scope key component failed validation.
var ErrInvalidKey = errors.New("invalid scope key")

// partPattern constrains each key component: lowercase alphanumeric start,
// then lowercase alphanumerics, underscores, dots, or hyphens, max 64 chars.
var partPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,63}$`)

// collectionUnsafe matches characters that are not allowed in repository
// collection names, which accept only [a-z0-9_].
var collectionUnsafe = regexp.MustCompile(`[^a-z0-9_]`)

// Key identifies one cache scope. The zero value is invalid.
type Key struct {
	// Org is the organization identifier.
	Org string
	// Config is the chatbot configuration identifier within the organization.
	Config string
	// Version is the knowledge-base content version the cache was built from.
	Version string
}

// New builds a validated Key.
func New(org, config, version string) (Key, error) {
	k := Key{Org: org, Config: config, Version: version}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate checks each component against the allowed name pattern.
func (k Key) Validate() error {
	for _, part := range []struct {
		name, value string
	}{
		{"org", k.Org},
		{"config", k.Config},
		{"version", k.Version},
	} {
		if part.value == "" {
			return fmt.Errorf("%w: %s is empty", ErrInvalidKey, part.name)
		}
		if !partPattern.MatchString(part.value) {
			return fmt.Errorf("%w: %s %q must match %s", ErrInvalidKey, part.name, part.value, partPattern.String())
		}
	}
	return nil
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool {
	return k == Key{}
}

// String renders the key as "org/config/version" for logs and metric labels.
func (k Key) String() string {
	return k.Org + "/" + k.Config + "/" + k.Version
}

// Parse is the inverse of String.
func Parse(s string) (Key, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("%w: %q is not org/config/version", ErrInvalidKey, s)
	}
	return New(parts[0], parts[1], parts[2])
}

// CollectionName derives the repository collection name for this scope.
// Characters outside [a-z0-9_] are folded to underscores so the result is
// valid for backends with restricted collection naming.
func (k Key) CollectionName() string {
	join := collectionUnsafe.ReplaceAllString(k.Org, "_") + "_" +
		collectionUnsafe.ReplaceAllString(k.Config, "_") + "_" +
		collectionUnsafe.ReplaceAllString(k.Version, "_")
	return "kb_" + join
}

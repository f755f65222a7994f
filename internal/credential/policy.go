package credential

import (
	"fmt"
	"math/rand"
	"sync"
)

// SelectFunc picks one credential from the store for a connection attempt.
// identity is only meaningful to the deterministic policy; other policies
// ignore it.
type SelectFunc func(s *Store, identity string) (string, error)

var (
	policiesMu sync.RWMutex
	policies   = map[string]SelectFunc{}
)

// RegisterPolicy adds a named selection policy to the registry. Intended to
// be called from init() by each policy's source file, mirroring how the
// built-in policies below register themselves.
func RegisterPolicy(name string, fn SelectFunc) {
	policiesMu.Lock()
	defer policiesMu.Unlock()
	policies[name] = fn
}

// GetPolicy looks up a registered policy by name.
func GetPolicy(name string) (SelectFunc, error) {
	policiesMu.RLock()
	defer policiesMu.RUnlock()
	fn, ok := policies[name]
	if !ok {
		return nil, fmt.Errorf("credential: unknown policy %q", name)
	}
	return fn, nil
}

// ListPolicies returns the names of all registered policies.
func ListPolicies() []string {
	policiesMu.RLock()
	defer policiesMu.RUnlock()
	names := make([]string, 0, len(policies))
	for name := range policies {
		names = append(names, name)
	}
	return names
}

func init() {
	RegisterPolicy("first", selectFirst)
	RegisterPolicy("random", selectRandom)
	RegisterPolicy("deterministic", selectDeterministic)
}

func selectFirst(s *Store, _ string) (string, error) {
	return s.First()
}

// maxRandomRetries bounds the number of re-draws selectRandom attempts to
// skip an empty credential before giving up. An empty pool fails Len()==0
// immediately regardless.
const maxRandomRetries = 5

func selectRandom(s *Store, _ string) (string, error) {
	if s.Len() == 0 {
		return "", ErrNoCredentialsLoaded
	}
	for attempt := 0; attempt < maxRandomRetries; attempt++ {
		idx := rand.Intn(s.Len())
		cred := s.pool[idx]
		if cred != "" {
			return cred, nil
		}
	}
	return "", ErrNoCredentialsLoaded
}

func selectDeterministic(s *Store, identity string) (string, error) {
	if s.Len() == 0 {
		return "", ErrNoCredentialsLoaded
	}
	idx := int(weakPolynomialHash(identity) % uint64(s.Len()))
	return s.pool[idx], nil
}

// Select runs the named policy against the store.
func (s *Store) Select(policyName, identity string) (string, error) {
	fn, err := GetPolicy(policyName)
	if err != nil {
		return "", err
	}
	return fn(s, identity)
}

// Package credential holds the pre-shared credential pool used for the
// DTLS-PSK handshake to the dispatcher, and the selection policies that
// pick one credential per connection attempt.
package credential

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// MaxCredentialBytes bounds a single credential's length; Load fails with
// ErrBufferTooSmall on any longer line.
const MaxCredentialBytes = 256

var (
	// ErrNoCredentialsLoaded is returned by any selection operation when
	// the pool is empty.
	ErrNoCredentialsLoaded = errors.New("credential: no credentials loaded")

	// ErrBufferTooSmall is returned when a loaded line exceeds
	// MaxCredentialBytes.
	ErrBufferTooSmall = errors.New("credential: buffer too small")
)

// Store is a read-only pool of pre-shared credentials loaded once at
// startup. No mutation is exposed after Load returns; the pool is
// therefore freely shared across goroutines without locking.
type Store struct {
	pool []string
}

// Load reads one credential per line from path. Blank lines are skipped;
// trailing whitespace is trimmed from every line before it is measured and
// stored.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("credential: open %q: %w", path, err)
	}
	defer f.Close()

	var pool []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r\n")
		if line == "" {
			continue
		}
		if len(line) > MaxCredentialBytes {
			return nil, fmt.Errorf("%w: line of %d bytes exceeds %d", ErrBufferTooSmall, len(line), MaxCredentialBytes)
		}
		pool = append(pool, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("credential: read %q: %w", path, err)
	}

	return &Store{pool: pool}, nil
}

// Len returns the number of credentials in the pool.
func (s *Store) Len() int {
	return len(s.pool)
}

// First returns the lexically-independent first credential loaded: always
// index 0, deterministic across calls.
func (s *Store) First() (string, error) {
	if len(s.pool) == 0 {
		return "", ErrNoCredentialsLoaded
	}
	return s.pool[0], nil
}

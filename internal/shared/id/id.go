// Package id generates identifiers for browser host objects.
//
// Profiles and contents get prefixed ULIDs (prof_*, wc_*) so they sort by
// creation time and are recognizable in logs. Navigations get random UUIDs
// because they are handed to clients that only expect an opaque token.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// ProfileID identifies a browsing profile
type ProfileID string

// ContentsID identifies a web contents instance
type ContentsID string

// NavigationID identifies a single top-level navigation
type NavigationID string

// ============================================================================
// ID Prefixes
// ============================================================================

const (
	ProfilePrefix  = "prof"
	ContentsPrefix = "wc"
	RequestPrefix  = "req"
)

// ============================================================================
// ULID Generator
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Tests use it for deterministic output.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed constructors
// ============================================================================

// NewProfileID generates a profile ID
func NewProfileID() ProfileID {
	return ProfileID(Default().GenerateWithPrefix(ProfilePrefix))
}

// NewContentsID generates a contents ID
func NewContentsID() ContentsID {
	return ContentsID(Default().GenerateWithPrefix(ContentsPrefix))
}

// NewRequestID generates a control API request ID
func NewRequestID() string {
	return Default().GenerateWithPrefix(RequestPrefix)
}

// NewNavigationID generates a navigation ID
func NewNavigationID() NavigationID {
	return NavigationID(uuid.NewString())
}

// ============================================================================
// Parsing
// ============================================================================

// IsValid reports whether s is a well-formed ULID
func IsValid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Parse parses a bare ULID string
func Parse(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}

// SplitPrefixed separates "prefix_ULID" into its parts and validates the ULID.
func SplitPrefixed(s string) (string, ulid.ULID, error) {
	prefix, raw, ok := strings.Cut(s, "_")
	if !ok || prefix == "" {
		return "", ulid.ULID{}, fmt.Errorf("id %q has no prefix", s)
	}
	u, err := ulid.ParseStrict(raw)
	if err != nil {
		return "", ulid.ULID{}, fmt.Errorf("id %q: %w", s, err)
	}
	return prefix, u, nil
}

// Timestamp extracts the creation time of a bare or prefixed ULID
func Timestamp(s string) (time.Time, error) {
	if _, u, err := SplitPrefixed(s); err == nil {
		return ulid.Time(u.Time()), nil
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}

// IsNavigationID reports whether s is a navigation UUID
func IsNavigationID(s string) bool {
	return uuid.Validate(s) == nil
}

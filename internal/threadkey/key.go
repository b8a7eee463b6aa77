// Package threadkey provides the value type that identifies one watched
// remote thread. A Key is the triple (source, board, thread): the source is
// the collection a client browses (an imageboard site), the board is the
// sub-collection, and the thread is the thread number within the board.
//
// Key is comparable and used directly as a map key throughout the watch
// scheduler and the state store. This is a leaf package.
package threadkey

import (
	"encoding"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// separator joins the three components in the textual form.
const separator = "/"

// partCount is the number of components in the textual form.
const partCount = 3

// ErrInvalid is returned by Parse for malformed keys.
var ErrInvalid = errors.New("threadkey: invalid thread key")

// Key identifies one remote thread. The zero value is the absent key.
type Key struct {
	Source string
	Board  string
	Thread string
}

// New builds a normalized Key. Components are NFC-normalized and trimmed so
// that keys typed by a user and keys read back from the database compare
// equal. Source names are case-insensitive and stored lowercase.
func New(source, board, thread string) Key {
	return Key{
		Source: strings.ToLower(normalize(source)),
		Board:  normalize(board),
		Thread: normalize(thread),
	}
}

// Parse reads the "source/board/thread" form produced by String.
func Parse(s string) (Key, error) {
	parts := strings.Split(strings.Trim(s, separator), separator)
	if len(parts) != partCount {
		return Key{}, fmt.Errorf("%w: %q (want source/board/thread)", ErrInvalid, s)
	}

	k := New(parts[0], parts[1], parts[2])
	if err := k.Validate(); err != nil {
		return Key{}, fmt.Errorf("%w: %q", err, s)
	}

	return k, nil
}

// MustParse is Parse for keys known to be valid at compile time (tests,
// constants). It panics on malformed input.
func MustParse(s string) Key {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return k
}

// Validate reports whether every component is present and free of the
// separator.
func (k Key) Validate() error {
	for _, part := range []string{k.Source, k.Board, k.Thread} {
		if part == "" {
			return fmt.Errorf("%w: empty component", ErrInvalid)
		}

		if strings.Contains(part, separator) {
			return fmt.Errorf("%w: component %q contains %q", ErrInvalid, part, separator)
		}
	}

	return nil
}

// String returns the "source/board/thread" form.
func (k Key) String() string {
	return k.Source + separator + k.Board + separator + k.Thread
}

// IsZero reports whether the key is the zero value.
func (k Key) IsZero() bool {
	return k == Key{}
}

// MarshalText implements encoding.TextMarshaler.
func (k Key) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*k = parsed

	return nil
}

// Compile-time interface checks.
var (
	_ encoding.TextMarshaler   = Key{}
	_ encoding.TextUnmarshaler = (*Key)(nil)
)

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

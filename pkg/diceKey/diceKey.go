// Package diceKey models the physical master key: a 5x5 grid of dice whose
// upward faces show a letter, a digit and an orientation.
package diceKey

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"
)

const (
	// Size is the number of dice in a key.
	Size = 25
	// gridWidth is the number of dice per row.
	gridWidth = 5
	// HumanReadableLength is the length of the human-readable form.
	HumanReadableLength = Size * 3

	// Letters are the 25 letters printed on the dice (Q is skipped).
	Letters = "ABCDEFGHIJKLMNOPRSTUVWXYZ"
	// Digits are the digits printed on the dice.
	Digits = "123456"
	// Orientations lists the clockwise rotations of a face from upright.
	Orientations = "trbl"
	// OrientationUnknown marks a face whose orientation is ignored.
	OrientationUnknown = '?'
)

// Face is the upward face of one die.
type Face struct { // A
	Letter      byte
	Digit       byte
	Orientation byte
}

// String returns the three character form of the face, e.g. "A1t".
func (f Face) String() string { // A
	return string([]byte{f.Letter, f.Digit, f.Orientation})
}

// rotateClockwise turns the face a quarter turn clockwise.
func (f Face) rotateClockwise() Face { // A
	i := strings.IndexByte(Orientations, f.Orientation)
	if i < 0 {
		return f
	}
	f.Orientation = Orientations[(i+1)%len(Orientations)]
	return f
}

// Key is a full physical key in row-major order.
type Key [Size]Face

// ParseHumanReadable parses the 75 character form produced by HumanReadable.
func ParseHumanReadable(s string) (Key, error) { // A
	var k Key
	s = strings.TrimSpace(s)
	if len(s) != HumanReadableLength {
		return k, fmt.Errorf(
			"human-readable key must be %d characters, got %d",
			HumanReadableLength, len(s),
		)
	}

	for i := 0; i < Size; i++ {
		f := Face{
			Letter:      upper(s[i*3]),
			Digit:       s[i*3+1],
			Orientation: lower(s[i*3+2]),
		}
		if strings.IndexByte(Letters, f.Letter) < 0 {
			return k, fmt.Errorf("face %d: invalid letter %q", i, f.Letter)
		}
		if strings.IndexByte(Digits, f.Digit) < 0 {
			return k, fmt.Errorf("face %d: invalid digit %q", i, f.Digit)
		}
		if f.Orientation != OrientationUnknown &&
			strings.IndexByte(Orientations, f.Orientation) < 0 {
			return k, fmt.Errorf("face %d: invalid orientation %q", i, f.Orientation)
		}
		k[i] = f
	}
	return k, nil
}

// Random returns a key with each letter used once, random digits and
// random orientations, drawn from r (crypto/rand when nil).
func Random(r io.Reader) (Key, error) { // A
	if r == nil {
		r = rand.Reader
	}
	var k Key

	letters := []byte(Letters)
	for i := len(letters) - 1; i > 0; i-- {
		j, err := randIntn(r, i+1)
		if err != nil {
			return k, err
		}
		letters[i], letters[j] = letters[j], letters[i]
	}

	for i := range k {
		d, err := randIntn(r, len(Digits))
		if err != nil {
			return k, err
		}
		o, err := randIntn(r, len(Orientations))
		if err != nil {
			return k, err
		}
		k[i] = Face{Letter: letters[i], Digit: Digits[d], Orientation: Orientations[o]}
	}
	return k, nil
}

// HumanReadable returns the 75 character serialization of the key.
func (k Key) HumanReadable() string { // A
	var b strings.Builder
	b.Grow(HumanReadableLength)
	for _, f := range k {
		b.WriteByte(f.Letter)
		b.WriteByte(f.Digit)
		b.WriteByte(f.Orientation)
	}
	return b.String()
}

// RotateClockwise turns the whole key a quarter turn clockwise. Each die
// moves to its new grid position and its face turns with it.
func (k Key) RotateClockwise() Key { // A
	var out Key
	for row := 0; row < gridWidth; row++ {
		for col := 0; col < gridWidth; col++ {
			src := (gridWidth-1-col)*gridWidth + row
			out[row*gridWidth+col] = k[src].rotateClockwise()
		}
	}
	return out
}

// RotationIndependent returns, among the four rotations of the key, the one
// whose human-readable form sorts first.
func (k Key) RotationIndependent() Key { // A
	best := k
	bestForm := k.HumanReadable()
	candidate := k
	for i := 1; i < 4; i++ {
		candidate = candidate.RotateClockwise()
		if form := candidate.HumanReadable(); form < bestForm {
			best, bestForm = candidate, form
		}
	}
	return best
}

// WithoutOrientations replaces every face orientation with '?'.
func (k Key) WithoutOrientations() Key { // A
	out := k
	for i := range out {
		out[i].Orientation = OrientationUnknown
	}
	return out
}

// Seed returns the seed string used for derivation: the rotation
// independent human-readable form, with orientations removed first when
// excludeOrientation is set.
func (k Key) Seed(excludeOrientation bool) string { // A
	if excludeOrientation {
		k = k.WithoutOrientations()
	}
	return k.RotationIndependent().HumanReadable()
}

// IsZero reports whether the key was never populated.
func (k Key) IsZero() bool { // A
	return k == Key{}
}

var errShortRandom = errors.New("random source exhausted")

func randIntn(r io.Reader, n int) (int, error) { // A
	v, err := rand.Int(r, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errShortRandom, err)
	}
	return int(v.Int64()), nil
}

func upper(c byte) byte { // A
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func lower(c byte) byte { // A
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

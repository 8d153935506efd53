// Package seeded derives cryptographic objects from a seed string and a
// recipe. The same (seed, recipe) pair always yields the same object.
package seeded

import (
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/scrypt"

	"github.com/i5heu/seedgate/pkg/exceptions"
	"github.com/i5heu/seedgate/pkg/recipe"
)

// Hash function names accepted in a recipe's hashFunction field.
const (
	HashSHA256   = "SHA256"
	HashBLAKE2b  = "BLAKE2b"
	HashArgon2id = "Argon2id"
	HashScrypt   = "Scrypt"
)

const (
	// DefaultSecretLength is the secret length when lengthInBytes is absent.
	DefaultSecretLength = 32
	// MaxSecretLength bounds lengthInBytes.
	MaxSecretLength = 1 << 16
	// MaxArgon2MemoryBytes bounds hashFunctionMemoryLimitInBytes for Argon2id.
	MaxArgon2MemoryBytes = 1 << 30
	// MaxScryptMemoryBytes bounds hashFunctionMemoryLimitInBytes for Scrypt.
	MaxScryptMemoryBytes = 1 << 30
	// MaxHashPasses bounds hashFunctionMemoryPasses.
	MaxHashPasses = 16

	defaultArgon2MemoryBytes = 64 << 20
	defaultArgon2Passes      = 2
	defaultScryptMemoryBytes = 32 << 20
	scryptR                  = 8
	keyLength                = 32
)

// domain strings keep object types apart even under identical recipes.
func domain(objectType recipe.ObjectType) string { // A
	return "seedgate/v1/" + objectType.String()
}

// Derive computes length bytes from the seed and recipe JSON for the given
// object type, using the recipe's hash function.
func Derive(
	seed string,
	recipeJson string,
	objectType recipe.ObjectType,
	length int,
) ([]byte, error) { // A
	if length <= 0 || length > MaxSecretLength {
		return nil, exceptions.MalformedRecipe(nil, "derived length %d out of range", length)
	}
	r, err := recipe.Parse(recipeJson)
	if err != nil {
		return nil, err
	}

	info := []byte(domain(objectType) + "\x00" + recipeJson)
	salt := sha256.Sum256(info)

	switch r.HashFunction() {
	case "", HashSHA256:
		out := make([]byte, length)
		if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(seed), salt[:], info), out); err != nil {
			return nil, fmt.Errorf("hkdf: %w", err)
		}
		return out, nil

	case HashBLAKE2b:
		key := sha512.Sum512([]byte(seed))
		xof, err := blake2b.NewXOF(uint32(length), key[:]) //#nosec G115 -- bounded by MaxSecretLength
		if err != nil {
			return nil, fmt.Errorf("blake2b: %w", err)
		}
		if _, err := xof.Write(info); err != nil {
			return nil, fmt.Errorf("blake2b: %w", err)
		}
		out := make([]byte, length)
		if _, err := io.ReadFull(xof, out); err != nil {
			return nil, fmt.Errorf("blake2b: %w", err)
		}
		return out, nil

	case HashArgon2id:
		memBytes := r.HashFunctionMemoryLimitInBytes(defaultArgon2MemoryBytes)
		if memBytes < 8*1024 || memBytes > MaxArgon2MemoryBytes {
			return nil, exceptions.MalformedRecipe(nil,
				"hashFunctionMemoryLimitInBytes must be between 8KiB and %d", MaxArgon2MemoryBytes)
		}
		memKiB := memBytes / 1024
		passes := r.HashFunctionMemoryPasses(defaultArgon2Passes)
		if passes == 0 || passes > MaxHashPasses {
			return nil, exceptions.MalformedRecipe(nil,
				"hashFunctionMemoryPasses must be between 1 and %d", MaxHashPasses)
		}
		return argon2.IDKey(
			[]byte(seed), salt[:16], passes, uint32(memKiB), 1, uint32(length), //#nosec G115
		), nil

	case HashScrypt:
		memBytes := r.HashFunctionMemoryLimitInBytes(defaultScryptMemoryBytes)
		if memBytes > MaxScryptMemoryBytes {
			return nil, exceptions.MalformedRecipe(nil,
				"hashFunctionMemoryLimitInBytes must not exceed %d", MaxScryptMemoryBytes)
		}
		n := scryptN(memBytes)
		out, err := scrypt.Key([]byte(seed), salt[:16], n, scryptR, 1, length)
		if err != nil {
			return nil, exceptions.MalformedRecipe(err, "scrypt parameters rejected: %v", err)
		}
		return out, nil

	default:
		return nil, exceptions.MalformedRecipe(nil, "unknown hashFunction %q", r.HashFunction())
	}
}

// scryptN picks the largest power of two N with 128*r*N within the limit.
func scryptN(memoryBytes uint64) int { // A
	perN := uint64(128 * scryptR)
	n := memoryBytes / perN
	if n < 2 {
		return 2
	}
	return 1 << (bits.Len64(n) - 1)
}

// DeriveSecretBytes derives a Secret's bytes, honoring lengthInBytes.
func DeriveSecretBytes(seed, recipeJson string) ([]byte, error) { // A
	r, err := recipe.Parse(recipeJson)
	if err != nil {
		return nil, err
	}
	return Derive(seed, recipeJson, recipe.TypeSecret, r.LengthInBytes(DefaultSecretLength))
}

// Zero overwrites b with zeros.
func Zero(b []byte) { // A
	for i := range b {
		b[i] = 0
	}
}

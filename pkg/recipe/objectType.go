package recipe

// ObjectType is the value of a recipe's "type" tag. It restricts which
// command family may use the recipe.
type ObjectType string

const ( // A
	TypeSecret       ObjectType = "Secret"
	TypeSymmetricKey ObjectType = "SymmetricKey"
	TypeUnsealingKey ObjectType = "UnsealingKey"
	TypeSigningKey   ObjectType = "SigningKey"
)

// Public halves. They are never valid recipe types; they only name the
// derived object in responses and exceptions.
const ( // A
	TypeSealingKey               ObjectType = "SealingKey"
	TypeSignatureVerificationKey ObjectType = "SignatureVerificationKey"
)

// String implements fmt.Stringer.
func (t ObjectType) String() string { // A
	return string(t)
}

// IsRecipeType reports whether t may appear as a recipe's type tag.
func (t ObjectType) IsRecipeType() bool { // A
	switch t {
	case TypeSecret, TypeSymmetricKey, TypeUnsealingKey, TypeSigningKey:
		return true
	default:
		return false
	}
}

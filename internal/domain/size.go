package domain

import "strings"

// Size is a canonical garment size token.
type Size string

const (
	SizeS        Size = "S"
	SizeM        Size = "M"
	SizeL        Size = "L"
	SizeXL       Size = "XL"
	SizeXXL      Size = "XXL"
	SizeFreeSize Size = "FreeSize"
)

var canonicalSizes = map[Size]bool{
	SizeS:        true,
	SizeM:        true,
	SizeL:        true,
	SizeXL:       true,
	SizeXXL:      true,
	SizeFreeSize: true,
}

// NormalizeSize maps raw size input to its canonical token. An absent or
// unusable value falls back to FreeSize, any spelling of "free size"
// collapses to the canonical FreeSize token, and everything else is
// upper-cased before storage.
func NormalizeSize(raw string) Size {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return SizeFreeSize
	}

	collapsed := strings.ToLower(strings.Join(strings.Fields(trimmed), ""))
	if collapsed == "freesize" {
		return SizeFreeSize
	}

	return Size(strings.ToUpper(trimmed))
}

// Valid reports whether s belongs to the canonical enumerated size set.
func (s Size) Valid() bool {
	return canonicalSizes[s]
}

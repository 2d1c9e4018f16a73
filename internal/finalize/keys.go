package finalize

import (
	"fmt"
	"strconv"
)

// CharacterKey is the deterministic storage key for a page's finalized
// character image. Stable across regenerations.
func CharacterKey(bookID string, order float64) string {
	return fmt.Sprintf("books/%s/pages/%s/character.png", bookID, formatOrder(order))
}

// OriginalKey is the deterministic storage key for the pre-processing
// copy of a page's winning candidate.
func OriginalKey(bookID string, order float64) string {
	return fmt.Sprintf("books/%s/pages/%s/character-original.png", bookID, formatOrder(order))
}

// ArtifactKey is the storage key for one assembled artifact document.
func ArtifactKey(bookID, artifactID string) string {
	return fmt.Sprintf("books/%s/artifacts/%s.pdf", bookID, artifactID)
}

func formatOrder(order float64) string {
	return strconv.FormatFloat(order, 'f', -1, 64)
}

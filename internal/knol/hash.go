// Package knol derives the content identity of a note. A note keeps its
// card, and so its review history, for as long as its hash is unchanged.
package knol

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
)

// normalizePart lowercases a field, unifies line endings and drops the
// whitespace around it and at the end of each line.
func normalizePart(part string) string {
	p := strings.ReplaceAll(strings.ToLower(part), "\r\n", "\n")
	lines := strings.Split(p, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// Normalize joins the note's cleaned fields with newlines so that
// neighbouring fields can never run together.
func Normalize(note domain.Note) string {
	return strings.Join([]string{
		normalizePart(note.Question),
		normalizePart(note.Answer),
		normalizePart(note.Context),
	}, "\n")
}

// Hash returns the hex SHA-256 of the normalized note.
func Hash(note domain.Note) string {
	sum := sha256.Sum256([]byte(Normalize(note)))
	return hex.EncodeToString(sum[:])
}

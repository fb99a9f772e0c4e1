// Package parser extracts Q:/A:/C: notes from markdown files.
package parser

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
)

type field int

const (
	none field = iota
	question
	answer
	context
)

var prefixes = []struct {
	prefix string
	field  field
}{
	{"Q:", question},
	{"A:", answer},
	{"C:", context},
}

// separator ends the current note without starting a new one.
const separator = "---"

// noteBuilder accumulates the lines of the note being read.
type noteBuilder struct {
	notes   []domain.Note
	current domain.Note
	field   field
	lines   []string
}

// flush stores the buffered lines in the field being read. Trailing blank
// lines belong to the gap before the next note, not to the field.
func (b *noteBuilder) flush() {
	for len(b.lines) > 0 && strings.TrimSpace(b.lines[len(b.lines)-1]) == "" {
		b.lines = b.lines[:len(b.lines)-1]
	}
	content := strings.Join(b.lines, "\n")
	switch b.field {
	case question:
		b.current.Question = content
	case answer:
		b.current.Answer = content
	case context:
		b.current.Context = content
	}
	b.lines = nil
}

// finish closes the current note. Notes without a question are dropped.
func (b *noteBuilder) finish() {
	b.flush()
	if b.current.Question != "" {
		b.notes = append(b.notes, b.current)
	}
	b.current = domain.Note{}
	b.field = none
}

func (b *noteBuilder) line(line string) {
	if line == separator {
		b.finish()
		return
	}
	for _, p := range prefixes {
		if !strings.HasPrefix(line, p.prefix) {
			continue
		}
		if p.field == question && b.field != none {
			b.finish()
		} else {
			b.flush()
		}
		b.field = p.field
		b.lines = append(b.lines, strings.TrimPrefix(line[len(p.prefix):], " "))
		return
	}
	if b.field != none {
		b.lines = append(b.lines, line)
	}
}

// Parse reads from an io.Reader and extracts all notes. A note starts with
// a Q: line and may continue with A: and C: lines; any field may span
// several lines.
func Parse(r io.Reader) ([]domain.Note, error) {
	var b noteBuilder
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		b.line(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	b.finish()
	return b.notes, nil
}

// ParseFile reads a file from the given path and extracts all notes.
func ParseFile(path string) ([]domain.Note, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	notes, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return notes, nil
}

// ParseDir extracts the notes of every markdown file below root. Files that
// fail to parse are reported in the joined error while the notes of the
// others are still returned.
func ParseDir(root string) ([]domain.Note, error) {
	var (
		notes []domain.Note
		errs  []error
	)
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		fileNotes, err := ParseFile(path)
		if err != nil {
			errs = append(errs, err)
		}
		notes = append(notes, fileNotes...)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking %s: %w", root, walkErr)
	}
	return notes, errors.Join(errs...)
}

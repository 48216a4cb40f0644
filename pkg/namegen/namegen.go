// Package namegen is the unique-filename generator collaborator: an
// injectable name source backed by a hidden decimal-ASCII counter
// file, so destination filenames stay unique across process restarts.
package namegen

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const counterFileName = ".counter.conf"

// Generator produces names of the form prefix+counter+suffix,
// incrementing a persistent counter on every call.
type Generator struct {
	mu        sync.Mutex
	path      string
	prefix    string
	suffix    string
	counterOn string
}

// New creates (or opens) the hidden counter file under dir, writing
// an initial "0" if the file does not yet exist.
func New(dir, prefix, suffix string) (*Generator, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("namegen: mkdir %s: %w", dir, err)
	}
	counterPath := filepath.Join(dir, counterFileName)

	g := &Generator{path: counterPath, prefix: prefix, suffix: suffix}

	content, err := os.ReadFile(counterPath)
	switch {
	case os.IsNotExist(err):
		g.counterOn = "0"
		if werr := os.WriteFile(counterPath, []byte("0"), 0600); werr != nil {
			return nil, fmt.Errorf("namegen: init counter: %w", werr)
		}
	case err != nil:
		return nil, fmt.Errorf("namegen: read counter: %w", err)
	case len(content) == 0:
		g.counterOn = "0"
	default:
		g.counterOn = string(content)
	}
	return g, nil
}

// GetUniqueName returns prefix+counter+suffix and then increments the
// persisted decimal counter by one, flushing it back to disk before
// returning.
func (g *Generator) GetUniqueName() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	result := g.prefix + g.counterOn + g.suffix

	next := incrementDecimalASCII(g.counterOn)
	if err := os.WriteFile(g.path, []byte(next), 0600); err != nil {
		return "", fmt.Errorf("namegen: write counter: %w", err)
	}
	g.counterOn = next

	return result, nil
}

// incrementDecimalASCII adds one to a decimal string, scanning from
// the rightmost digit and carrying left, prepending a leading '1' if
// the carry runs off the front — the same algorithm as incrementing
// an odometer by hand.
func incrementDecimalASCII(s string) string {
	b := []byte(s)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < '9' {
			b[i]++
			return string(b)
		}
		b[i] = '0'
	}
	return "1" + string(b)
}

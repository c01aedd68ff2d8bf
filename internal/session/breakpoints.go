package session

import (
	"strings"
	"sync"

	"github.com/emirpasic/gods/sets/hashset"
)

// breakpointSet maps a lowercased basename to the set of line numbers
// breakable in that file, generalizing the teacher's List2set helper
// (utils/ds_util.go) from a one-shot slice-to-set conversion into a
// mutex-guarded, per-file running set.
type breakpointSet struct {
	mu    sync.Mutex
	files map[string]*hashset.Set
}

func newBreakpointSet() *breakpointSet {
	return &breakpointSet{files: make(map[string]*hashset.Set)}
}

func normalizeFile(file string) string {
	file = strings.ReplaceAll(file, "\\", "/")
	if i := strings.LastIndex(file, "/"); i >= 0 {
		file = file[i+1:]
	}
	return strings.ToLower(file)
}

// Set is idempotent: setting the same (file, line) twice leaves the set
// unchanged, satisfying the breakpoint-idempotence property from spec.md 8.
func (b *breakpointSet) Set(file string, line uint32) {
	file = normalizeFile(file)
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.files[file]
	if !ok {
		s = hashset.New()
		b.files[file] = s
	}
	s.Add(line)
}

// Clear removes every breakpoint registered for file.
func (b *breakpointSet) Clear(file string) {
	file = normalizeFile(file)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.files, file)
}

// Has reports whether line is a breakpoint in file.
func (b *breakpointSet) Has(file string, line uint32) bool {
	file = normalizeFile(file)
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.files[file]
	if !ok {
		return false
	}
	return s.Contains(line)
}

// knownFiles tracks the set of script basenames a client has referenced,
// used by the host-hook adapter (C10) for best-effort file-membership
// matching.
type knownFiles struct {
	mu   sync.Mutex
	set  *hashset.Set
}

func newKnownFiles() *knownFiles {
	return &knownFiles{set: hashset.New()}
}

func (k *knownFiles) Add(file string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.set.Add(normalizeFile(file))
}

func (k *knownFiles) Has(file string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.set.Contains(normalizeFile(file))
}

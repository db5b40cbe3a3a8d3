package coverage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// LineID uniquely identifies a line of code.
type LineID struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// String returns a string representation of LineID for use as map keys.
func (l LineID) String() string {
	return l.File + ":" + strconv.Itoa(l.Line)
}

// parseLineID is the inverse of LineID.String.
func parseLineID(key string) (LineID, bool) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return LineID{}, false
	}
	n, err := strconv.Atoi(key[i+1:])
	if err != nil {
		return LineID{}, false
	}
	return LineID{File: key[:i], Line: n}, true
}

// Mapping records, for every covered source line, the test target that
// covered it first. It persists to JSON so that it can accumulate across runs.
type Mapping struct {
	mu sync.RWMutex

	// LineToTarget maps each covered line to the ID of the first target that covered it
	LineToTarget map[string]string `json:"line_to_target"`

	// path is the file path for persistence
	path string
}

// NewMapping creates a new Mapping.
// If path is provided and the file exists, it will be loaded.
func NewMapping(path string) (*Mapping, error) {
	m := &Mapping{
		LineToTarget: make(map[string]string),
		path:         path,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := m.Load(path); err != nil {
				return nil, fmt.Errorf("failed to load existing mapping: %w", err)
			}
		}
	}

	return m, nil
}

// RecordLine records that line was covered by target.
// Returns true if this is a new line (not previously covered).
func (m *Mapping) RecordLine(line LineID, target string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.recordLocked(line.String(), target)
}

func (m *Mapping) recordLocked(key, target string) bool {
	if _, exists := m.LineToTarget[key]; exists {
		return false
	}
	m.LineToTarget[key] = target
	return true
}

// RecordFile records every line of f with a non-zero count as covered by
// target. Returns the count of newly covered lines.
func (m *Mapping) RecordFile(f *FileCoverage, target string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	newCount := 0
	for _, l := range f.Lines {
		if l.Count == 0 {
			continue
		}
		if m.recordLocked(LineID{File: f.Path, Line: l.Line}.String(), target) {
			newCount++
		}
	}
	return newCount
}

// TargetForLine returns the ID of the first target that covered line.
func (m *Mapping) TargetForLine(line LineID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	target, exists := m.LineToTarget[line.String()]
	return target, exists
}

// IsCovered returns true if the given line has been covered.
func (m *Mapping) IsCovered(line LineID) bool {
	_, ok := m.TargetForLine(line)
	return ok
}

// CoveredLinesForFile returns the covered lines of file in ascending order.
func (m *Mapping) CoveredLinesForFile(file string) []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lines []int
	for key := range m.LineToTarget {
		if id, ok := parseLineID(key); ok && id.File == file {
			lines = append(lines, id.Line)
		}
	}
	sort.Ints(lines)
	return lines
}

// TotalCoveredLines returns the total number of covered lines.
func (m *Mapping) TotalCoveredLines() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.LineToTarget)
}

// Save persists the mapping to path, or to the path it was created with
// when path is empty.
func (m *Mapping) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if path == "" {
		path = m.path
	}
	if path == "" {
		return fmt.Errorf("no path specified for saving")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal mapping: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write mapping file: %w", err)
	}

	return nil
}

// Load loads the mapping from disk.
func (m *Mapping) Load(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read mapping file: %w", err)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return fmt.Errorf("failed to unmarshal mapping: %w", err)
	}
	if m.LineToTarget == nil {
		m.LineToTarget = make(map[string]string)
	}

	m.path = path
	return nil
}

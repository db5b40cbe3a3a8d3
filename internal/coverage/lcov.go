package coverage

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// YieldInterval is the number of lines scanned between cooperative yields.
const YieldInterval = 1024

// ErrNotText is returned when an artifact cannot be decoded as UTF-8.
var ErrNotText = errors.New("coverage data is not valid UTF-8 text")

// LCOV directives the parser understands. Everything else is skipped.
const (
	directiveSourceFile  = "SF"
	directiveLineData    = "DA"
	directiveBranchData  = "BRDA"
	directiveEndOfRecord = "end_of_record"

	notExecuted = "-"
)

// ParseLcovBytes decodes raw as UTF-8 (dropping a leading BOM) and parses it.
func ParseLcovBytes(ctx context.Context, baseDir string, raw []byte) (Report, error) {
	if !utf8.Valid(raw) {
		return nil, ErrNotText
	}
	text, err := unicode.UTF8BOM.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode coverage data: %w", err)
	}
	return ParseLcov(ctx, baseDir, string(text))
}

// ParseLcov parses LCOV tracefile text into one FileCoverage per closed
// SF/end_of_record section, in the order the sections appear. Relative SF
// paths are resolved against baseDir.
//
// Malformed directives are dropped. The only error is ctx's, checked at
// every yield point.
func ParseLcov(ctx context.Context, baseDir, text string) (Report, error) {
	return ParseLcovWithInterval(ctx, baseDir, text, YieldInterval)
}

// ParseLcovWithInterval is ParseLcov with an explicit yield interval.
// The result does not depend on interval.
func ParseLcovWithInterval(ctx context.Context, baseDir, text string, interval int) (Report, error) {
	if interval <= 0 {
		interval = YieldInterval
	}

	var (
		report  = Report{}
		current *recordBuilder
		lineNo  int
	)

	for len(text) > 0 {
		var line string
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line, text = text[:i], text[i+1:]
		} else {
			line, text = text, ""
		}

		lineNo++
		if lineNo%interval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			runtime.Gosched()
		}

		line = strings.TrimSpace(line)
		if line == directiveEndOfRecord {
			if current != nil {
				report = append(report, current.build())
				current = nil
			}
			continue
		}

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}

		switch name {
		case directiveSourceFile:
			// An unterminated previous section is discarded.
			current = newRecordBuilder(ResolvePath(baseDir, value))
		case directiveLineData:
			if current != nil {
				current.addLine(value)
			}
		case directiveBranchData:
			if current != nil {
				current.addBranch(value)
			}
		}
	}

	return report, nil
}

type recordBuilder struct {
	path     string
	lines    map[int]int64
	branches []BranchHit
}

func newRecordBuilder(path string) *recordBuilder {
	return &recordBuilder{
		path:  path,
		lines: make(map[int]int64),
	}
}

// addLine handles DA:<line>,<count>[,<checksum>].
func (b *recordBuilder) addLine(value string) {
	fields := strings.Split(value, ",")
	if len(fields) < 2 {
		return
	}
	line, err := strconv.Atoi(fields[0])
	if err != nil || line < 1 {
		return
	}
	count, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil || count < 0 {
		return
	}
	b.lines[line] = count
}

// addBranch handles BRDA:<line>,<block>,<branch>,<taken>.
func (b *recordBuilder) addBranch(value string) {
	fields := strings.Split(value, ",")
	if len(fields) != 4 {
		return
	}
	var nums [3]int
	for i := range nums {
		n, err := strconv.Atoi(fields[i])
		if err != nil || n < 0 {
			return
		}
		nums[i] = n
	}
	if nums[0] < 1 {
		return
	}

	hit := BranchHit{Line: nums[0], Block: nums[1], Branch: nums[2]}
	if fields[3] != notExecuted {
		taken, err := strconv.ParseInt(fields[3], 10, 64)
		if err != nil || taken < 0 {
			return
		}
		hit.Taken = taken
		hit.Executed = true
	}
	b.branches = append(b.branches, hit)
}

func (b *recordBuilder) build() *FileCoverage {
	fc := &FileCoverage{
		Path:     b.path,
		Lines:    make([]LineHit, 0, len(b.lines)),
		Branches: b.branches,
	}
	for line, count := range b.lines {
		fc.Lines = append(fc.Lines, LineHit{Line: line, Count: count})
	}
	sort.Slice(fc.Lines, func(i, j int) bool { return fc.Lines[i].Line < fc.Lines[j].Line })
	return fc
}

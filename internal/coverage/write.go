package coverage

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// WriteLcov writes r back out as an LCOV tracefile with resolved paths.
func (r Report) WriteLcov(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, f := range r {
		fmt.Fprintf(bw, "SF:%s\n", f.Path)
		for _, b := range f.Branches {
			taken := notExecuted
			if b.Executed {
				taken = strconv.FormatInt(b.Taken, 10)
			}
			fmt.Fprintf(bw, "BRDA:%d,%d,%d,%s\n", b.Line, b.Block, b.Branch, taken)
		}
		if len(f.Branches) > 0 {
			fmt.Fprintf(bw, "BRF:%d\nBRH:%d\n", f.BranchesFound(), f.BranchesHit())
		}
		for _, l := range f.Lines {
			fmt.Fprintf(bw, "DA:%d,%d\n", l.Line, l.Count)
		}
		fmt.Fprintf(bw, "LF:%d\nLH:%d\n", f.LinesFound(), f.LinesHit())
		fmt.Fprintln(bw, directiveEndOfRecord)
	}
	return bw.Flush()
}

package pdf

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePageRange parses "1-5" or "1,3,5" style selections. Empty selects
// every page and returns nil. Pages are 1-based.
func ParsePageRange(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var pages []int
	for _, tok := range strings.Split(s, ",") {
		got, err := parseRangeToken(strings.TrimSpace(tok))
		if err != nil {
			return nil, err
		}
		pages = append(pages, got...)
	}
	return pages, nil
}

func parseRangeToken(tok string) ([]int, error) {
	lo, hi, isRange := strings.Cut(tok, "-")
	if !isRange {
		p, err := pageNumber(tok)
		if err != nil {
			return nil, err
		}
		return []int{p}, nil
	}
	if strings.Contains(hi, "-") {
		return nil, fmt.Errorf("invalid range %q", tok)
	}
	start, err := pageNumber(lo)
	if err != nil {
		return nil, err
	}
	end, err := pageNumber(hi)
	if err != nil {
		return nil, err
	}
	if start > end {
		return nil, fmt.Errorf("range %q runs backwards", tok)
	}
	out := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		out = append(out, p)
	}
	return out, nil
}

func pageNumber(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid page number %q", strings.TrimSpace(s))
	}
	return n, nil
}

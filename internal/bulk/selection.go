// ABOUTME: Turns operator input into an ordered list of assistant ids
// ABOUTME: Supports "first N live" and comma-separated 1-based index selection

package bulk

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/2389/assistant-manager/internal/assistant"
)

// SelectionError reports an index outside the live enumeration.
type SelectionError struct {
	Index int
	Live  int
}

func (e *SelectionError) Error() string {
	if e.Live == 0 {
		return fmt.Sprintf("index %d is out of range: no assistants are live", e.Index)
	}
	return fmt.Sprintf("index %d is out of range (1-%d)", e.Index, e.Live)
}

// CountError reports a requested count the live set cannot satisfy.
type CountError struct {
	Count int
	Live  int
}

func (e *CountError) Error() string {
	return fmt.Sprintf("count %d is out of range (1-%d live)", e.Count, e.Live)
}

// First returns the ids of the first count live assistants.
func First(live []assistant.Live, count int) ([]int64, error) {
	if count < 1 || count > len(live) {
		return nil, &CountError{Count: count, Live: len(live)}
	}
	ids := make([]int64, count)
	for i := 0; i < count; i++ {
		ids[i] = live[i].ID
	}
	return ids, nil
}

// ParseIndices parses "1, 3,4" into []int{1, 3, 4}.
func ParseIndices(text string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(text, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", part)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no indices given")
	}
	return out, nil
}

// Select resolves 1-based indices against offered, the ids in the order they
// were listed to the operator. Any out-of-range index fails the whole
// selection. Repeated indices are kept once, in first-seen order.
func Select(offered []int64, indices []int) ([]int64, error) {
	seen := make(map[int]bool, len(indices))
	ids := make([]int64, 0, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(offered) {
			return nil, &SelectionError{Index: idx, Live: len(offered)}
		}
		if seen[idx] {
			continue
		}
		seen[idx] = true
		ids = append(ids, offered[idx-1])
	}
	return ids, nil
}

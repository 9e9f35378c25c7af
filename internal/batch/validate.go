package batch

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// ValidateBatch dry-runs the checks CreateBatch performs before opening a
// transaction. Dimension, length and duplicate findings are warnings only and
// never make the batch invalid. The result depends only on req.
func (s *Service) ValidateBatch(req CreateRequest) *Validation {
	v := &Validation{Total: len(req.Items)}
	if msg, err := s.checkSize(len(req.Items), "memories"); err != nil {
		v.Errors = append(v.Errors, ItemError{Index: -1, Message: msg, Err: err})
		return v
	}

	type key struct{ project, content string }
	groups := map[key][]int{}
	var order []key

	for i, item := range req.Items {
		if e := s.validateItem(i, item); e != nil {
			v.InvalidCount++
			v.Errors = append(v.Errors, *e)
		} else {
			v.ValidCount++
		}

		if n := len(item.Embedding); n > 0 && n != s.policy.ExpectedDimensions {
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"Memory at index %d: Embedding dimension %d may not be compatible with standard models (expected %d)",
				i, n, s.policy.ExpectedDimensions))
		}
		if n := utf8.RuneCountInString(item.Content); n > s.policy.ContentWarnChars {
			v.Warnings = append(v.Warnings, fmt.Sprintf(
				"Memory at index %d: Content length %d is approaching the limit", i, n))
		}

		k := key{item.Project, item.Content}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	for _, k := range order {
		idx := groups[k]
		if len(idx) < 2 {
			continue
		}
		parts := make([]string, len(idx))
		for j, i := range idx {
			parts[j] = strconv.Itoa(i)
		}
		v.Warnings = append(v.Warnings, "Duplicate content found at indices: "+strings.Join(parts, ", "))
	}

	v.Valid = v.InvalidCount == 0
	return v
}

// Package access gates inbound chat traffic against a static allow-list.
package access

// Filter is an immutable set of authorized chat identifiers.
type Filter struct {
	allowed map[int64]struct{}
}

// NewFilter builds a filter from the configured chat ids. Duplicates collapse.
func NewFilter(chatIDs []int64) *Filter {
	allowed := make(map[int64]struct{}, len(chatIDs))
	for _, id := range chatIDs {
		allowed[id] = struct{}{}
	}

	return &Filter{allowed: allowed}
}

// IsAuthorized reports whether events from chatID may be acted upon.
func (f *Filter) IsAuthorized(chatID int64) bool {
	if f == nil {
		return false
	}

	_, ok := f.allowed[chatID]
	return ok
}

// Len returns the number of distinct authorized chat ids.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}

	return len(f.allowed)
}

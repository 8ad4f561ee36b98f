package repositories

import "coach-chat/internal/apperr"

// Page sizes for history reads. Compact serves constrained clients, the
// default serves everything else.
const (
	CompactPageSize = 15
	DefaultPageSize = 30
)

// PageSize resolves the page size for a history read.
func PageSize(compact bool) int {
	if compact {
		return CompactPageSize
	}
	return DefaultPageSize
}

// Offset returns the row offset of a zero-based page.
func Offset(pageSize, pageIndex int) (int, error) {
	if pageSize <= 0 {
		return 0, apperr.Validationf("repositories.offset", "page size must be positive, got %d", pageSize)
	}
	if pageIndex < 0 {
		return 0, apperr.Validationf("repositories.offset", "page index must not be negative, got %d", pageIndex)
	}
	return pageSize * pageIndex, nil
}

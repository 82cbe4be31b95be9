package pagination

import (
	"fmt"
	"strconv"
)

// Params represents pagination query parameters
type Params struct {
	Page   int
	Limit  int
	Offset int
}

// Constants
const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
	MinLimit     = 1
)

// Parse parses page/limit query strings with bounds enforcement
func Parse(pageStr, limitStr string) (*Params, error) {
	page := DefaultPage
	limit := DefaultLimit

	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			return nil, fmt.Errorf("invalid page parameter: %w", err)
		}
		if p >= 1 {
			page = p
		}
	}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < MinLimit:
			limit = MinLimit
		case l > MaxLimit:
			limit = MaxLimit
		default:
			limit = l
		}
	}

	return &Params{
		Page:   page,
		Limit:  limit,
		Offset: (page - 1) * limit,
	}, nil
}

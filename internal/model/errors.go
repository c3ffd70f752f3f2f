package model

import "github.com/rotisserie/eris"

var (
	// ErrConfiguration marks an invalid parameter combination. It is
	// returned before any geometry work starts; callers test for it with
	// eris.Is.
	ErrConfiguration = eris.New("invalid configuration")

	// ErrInvalidCell is returned when every H3 index in an input fails
	// validation, leaving nothing to output. Individually invalid cells in
	// otherwise valid input are dropped, not fatal.
	ErrInvalidCell = eris.New("no valid h3 cells")
)

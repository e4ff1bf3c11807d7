package database

import "errors"

var (
	// ErrOwnerMismatch is returned when an upsert hits a row owned by a different user.
	ErrOwnerMismatch = errors.New("natural key belongs to another user")

	// ErrKeysSplit is returned when the natural keys of one payload point at two different rows.
	ErrKeysSplit = errors.New("natural keys match different stored subscriptions")
)

package catalog

import "errors"

// ErrNotFound and ErrAlreadyExists map directly onto the "not_found" and
// "already_exists" wire error kinds the executor exposes; the catalog
// returns them unwrapped and the executor compares against them with ==.
var (
	ErrNotFound      = errors.New("not_found")
	ErrAlreadyExists = errors.New("already_exists")
)

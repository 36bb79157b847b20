package keys

import "errors"

var (
	ErrDuplicateName   = errors.New("credential name already exists")
	ErrDuplicateSecret = errors.New("credential secret already exists")
	ErrUnknownName     = errors.New("credential name does not exist")
	ErrUnknownPolicy   = errors.New("unknown selection policy")
	ErrEmptyRegistry   = errors.New("no credentials registered")
)

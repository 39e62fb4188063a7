package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrVaultNotFound = errors.New("vault not found")
	ErrImportFormat  = errors.New("unrecognized import format")
)

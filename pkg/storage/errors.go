package storage

import "errors"

var (
	ErrDBQuery = errors.New("database query error")
	ErrDBScan  = errors.New("database scan error")
	ErrEncode  = errors.New("failed to encode record")
	ErrDecode  = errors.New("failed to decode record")
)

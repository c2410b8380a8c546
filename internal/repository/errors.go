package repository

import "errors"

var (
	ErrNotFound = errors.New("not found")
	//ユニーク制約違反など、同時書き込みに負けた
	ErrConflict = errors.New("conflict")
)

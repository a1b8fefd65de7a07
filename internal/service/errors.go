package service

import "errors"

var (
	ErrEmptyPassword = errors.New("empty password")
)

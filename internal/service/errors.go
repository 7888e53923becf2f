package service

import (
	"errors"
	"fmt"
)

var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrForbidden        = errors.New("task belongs to another user")
)

// InsufficientCreditsError 余额不足，不产生任何副作用
type InsufficientCreditsError struct {
	Current  int64
	Required int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: have %d, need %d", e.Current, e.Required)
}

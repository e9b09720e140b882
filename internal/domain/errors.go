package domain

import (
	"errors"
	"fmt"
)

// Error categories. Transport maps these to status codes with errors.Is.
var (
	// ErrNotFound covers missing rooms, quizzes, questions and players.
	ErrNotFound = errors.New("not found")
	// ErrValidation covers malformed input and misconfigured quizzes.
	ErrValidation = errors.New("validation failed")
	// ErrConflict covers state conflicts such as joining a running room or answering twice.
	ErrConflict = errors.New("conflict")
	// ErrForbidden is returned when a non-owner reaches an owner-only view or action.
	ErrForbidden = errors.New("forbidden")
	// ErrUnauthenticated is returned when an admin operation has no valid identity.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrTransient marks backend failures that are safe to retry.
	ErrTransient = errors.New("service temporarily unavailable")
)

var (
	ErrRoomNotFound     = fmt.Errorf("room %w", ErrNotFound)
	ErrQuizNotFound     = fmt.Errorf("quiz %w", ErrNotFound)
	ErrQuestionNotFound = fmt.Errorf("question %w", ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)
	ErrPlayerNotFound   = fmt.Errorf("player %w", ErrNotFound)
	ErrAdminNotFound    = fmt.Errorf("admin %w", ErrNotFound)

	ErrEmptyName          = fmt.Errorf("%w: display name is required", ErrValidation)
	ErrNameTooLong        = fmt.Errorf("%w: display name is too long", ErrValidation)
	ErrInvalidChoice      = fmt.Errorf("%w: choice must be one of A, B, C or D", ErrValidation)
	ErrInvalidCode        = fmt.Errorf("%w: room code must be 6 letters or digits", ErrValidation)
	ErrQuizNotConfigured  = fmt.Errorf("%w: quiz needs a configuration and at least one question", ErrValidation)
	ErrQuizInactive       = fmt.Errorf("%w: quiz is not active", ErrValidation)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", ErrUnauthenticated)

	ErrRoomAlreadyActive  = fmt.Errorf("%w: room already started", ErrConflict)
	ErrRoomFull           = fmt.Errorf("%w: room is full", ErrConflict)
	ErrRoomNotInProgress  = fmt.Errorf("%w: room is not in progress", ErrConflict)
	ErrRoomFinished       = fmt.Errorf("%w: room already finished", ErrConflict)
	ErrQuestionNotCurrent = fmt.Errorf("%w: question is not the current one", ErrConflict)
	ErrDuplicateAnswer    = fmt.Errorf("%w: answer already recorded", ErrConflict)
	ErrAnswerTooLate      = fmt.Errorf("%w: time for this question is over", ErrConflict)
	ErrStaleRoom          = fmt.Errorf("%w: room changed concurrently", ErrConflict)
	ErrRoomCodeTaken      = fmt.Errorf("%w: room code in use", ErrConflict)
	ErrQuizInPlay         = fmt.Errorf("%w: quiz has a room in progress", ErrConflict)
	ErrEmailTaken         = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrCategoryExists     = fmt.Errorf("%w: category already exists", ErrConflict)

	ErrNotQuizOwner = fmt.Errorf("%w: only the quiz owner can do this", ErrForbidden)
)

// Transient wraps an infrastructure failure so callers can retry it.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
}

// Validation builds a validation error with a corrective message.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

package analyses

import (
	"errors"
	"strings"
)

var (
	ErrNotFound          = errors.New("analysis not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("analysis changed concurrently")
	ErrResultsExist      = errors.New("analysis results already saved")
	ErrNotOwner          = errors.New("analysis belongs to another user")
	ErrBaselineTaken     = errors.New("business already has a baseline analysis")
)

// MaxErrorMessageLen bounds error_message on the row.
const MaxErrorMessageLen = 1000

// TruncateErrorMessage flattens and bounds a message for persistence.
func TruncateErrorMessage(msg string) string {
	msg = strings.ReplaceAll(msg, "\n", " ")
	msg = strings.ReplaceAll(msg, "\r", " ")
	msg = strings.TrimSpace(msg)
	if len(msg) > MaxErrorMessageLen {
		msg = strings.ToValidUTF8(msg[:MaxErrorMessageLen], "")
	}
	return msg
}

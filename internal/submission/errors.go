package submission

import "errors"

var (
	// ErrInvalidSessionID is returned for identifiers that are not in
	// canonical 8-4-4-4-12 GUID form. No request is made.
	ErrInvalidSessionID = errors.New("invalid session id")
	// ErrInvalidArchive is returned for files that are not .zip or .rar.
	ErrInvalidArchive = errors.New("archive must be a .zip or .rar file")
	// ErrArchiveTooLarge is returned when the archive exceeds the upload ceiling.
	ErrArchiveTooLarge = errors.New("archive exceeds the upload size limit")
)

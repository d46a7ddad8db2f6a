package pmtiles

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat groups errors about unreadable archives.
	ErrFormat = errors.New("pmtiles format")
	// ErrInvalidFormat is returned for a bad magic, version or directory.
	ErrInvalidFormat = fmt.Errorf("%w: invalid archive", ErrFormat)

	// ErrArchiveState groups misuse of the Builder.
	ErrArchiveState = errors.New("pmtiles archive state")
	// ErrEmptyArchive is returned when building without tiles.
	ErrEmptyArchive = fmt.Errorf("%w: no tiles to write", ErrArchiveState)
	// ErrMissingMetadata is returned when building before SetMetadata.
	ErrMissingMetadata = fmt.Errorf("%w: metadata not set", ErrArchiveState)
)

package tracklog

import "errors"

type ErrorKind int

const (
	OpenFailed ErrorKind = iota + 1
	WriteFailed
	DirectoryCreateFailed
)

func (k ErrorKind) String() string {
	switch k {
	case OpenFailed:
		return "open_failed"
	case WriteFailed:
		return "write_failed"
	case DirectoryCreateFailed:
		return "directory_create_failed"
	default:
		return "unknown"
	}
}

// StorageError reports a failed file system operation on the track log.
type StorageError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	msg := "tracklog: " + e.Kind.String()
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	t, ok := target.(*StorageError)
	return ok && t.Kind == e.Kind
}

var (
	ErrOpenFailed            = &StorageError{Kind: OpenFailed}
	ErrWriteFailed           = &StorageError{Kind: WriteFailed}
	ErrDirectoryCreateFailed = &StorageError{Kind: DirectoryCreateFailed}

	ErrClosed            = errors.New("tracklog: logger closed")
	ErrInsufficientSpace = errors.New("tracklog: insufficient free space")
)

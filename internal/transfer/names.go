package transfer

import (
	"errors"
	"strings"
)

const maxFilenameLength = 255

// ErrUnsafeName indicates a received file name that could escape the
// destination directory or is otherwise unusable as a plain file name.
var ErrUnsafeName = errors.New("unsafe file name")

// validateFilename accepts only a bare base name.
func validateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrUnsafeName
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrUnsafeName
	}
	if len(name) > maxFilenameLength {
		return ErrUnsafeName
	}
	return nil
}

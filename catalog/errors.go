package catalog

import (
	"fmt"
)

type NotFoundError string

func (msg NotFoundError) Error() string {
	return errReport("%s: Column not found", string(msg))
}

type ColumnAlreadyExists string

func (msg ColumnAlreadyExists) Error() string {
	return errReport("%s: Column is already in directory", string(msg))
}

type InvalidColumnName string

func (msg InvalidColumnName) Error() string {
	return errReport("%q: Column names must be non-empty file names without separators", string(msg))
}

type UnableToCreateFile string

func (msg UnableToCreateFile) Error() string {
	return errReport("%s: Unable to create column files", string(msg))
}

func errReport(base string, msg string) string {
	return fmt.Sprintf("catalog: "+base, msg)
}

// ErrColumnFileNotFound is used when only one of the two files of a column is found.
type ErrColumnFileNotFound struct {
	filePath string
	msg      string
}

func (e ErrColumnFileNotFound) Error() string {
	return "Could not find the pair of column file:" + e.filePath + ", msg=" + e.msg
}

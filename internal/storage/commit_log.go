package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

// Note: commit log access is single-writer during normal operation, with
// readers only during startup recovery. These helpers do not coordinate
// concurrent writers and readers.

// Write appends bytes to the given open file handle. Caller owns file lifecycle.
func Write(file *os.File, data []byte) error {
	writer := bufio.NewWriter(file)
	if _, err := writer.Write(data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Read reads up to length bytes starting at offset. A short result means the
// file ended first.
func Read(file *os.File, offset int64, length int) ([]byte, error) {
	buf := make([]byte, length)
	n, err := io.ReadFull(io.NewSectionReader(file, offset, int64(length)), buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("read at %d: %w", offset, err)
	}
	return buf[:n], nil
}

// Truncate cuts the file at path down to size bytes. It is used to drop a torn
// tail before new records are appended behind it.
func Truncate(path string, size int64) error {
	if err := os.Truncate(path, size); err != nil {
		return fmt.Errorf("truncate %s to %d: %w", path, size, err)
	}
	return nil
}

package statesync

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
)

// DataURLer is implemented by binary payload wrappers that can present
// themselves as a data URL.
type DataURLer interface {
	DataURL() (string, error)
}

// FileWrapper wraps either a path to a local file or a reader, so file
// contents can be placed in state or mail and reach the frontend as a
// data URL.
type FileWrapper struct {
	Path     string
	Reader   io.Reader
	MimeType string
}

// NewFileWrapper wraps file, which must be a non-empty path string or an
// io.Reader.
//
//	img, err := statesync.NewFileWrapper("static/logo.png", "image/png")
//	state.Set("logo", img)
func NewFileWrapper(file any, mimeType string) (*FileWrapper, error) {
	switch f := file.(type) {
	case string:
		if f == "" {
			return nil, fmt.Errorf("%w: must specify a file", ErrValidation)
		}
		return &FileWrapper{Path: f, MimeType: mimeType}, nil
	case io.Reader:
		if f == nil {
			return nil, fmt.Errorf("%w: must specify a file", ErrValidation)
		}
		return &FileWrapper{Reader: f, MimeType: mimeType}, nil
	case nil:
		return nil, fmt.Errorf("%w: must specify a file", ErrValidation)
	default:
		return nil, fmt.Errorf("%w: file must provide a Read method or be a path to a local file, got %T", ErrValidation, file)
	}
}

// DataURL reads the whole file and encodes it. A reader is consumed.
func (w *FileWrapper) DataURL() (string, error) {
	var data []byte
	var err error
	switch {
	case w.Reader != nil:
		data, err = io.ReadAll(w.Reader)
	case w.Path != "":
		data, err = os.ReadFile(w.Path)
	default:
		return "", fmt.Errorf("%w: invalid file", ErrValidation)
	}
	if err != nil {
		return "", err
	}
	return encodeDataURL(w.MimeType, data), nil
}

// BytesWrapper wraps raw bytes with an optional mime type.
type BytesWrapper struct {
	Data     []byte
	MimeType string
}

// NewBytesWrapper wraps data. An empty mime type is allowed.
func NewBytesWrapper(data []byte, mimeType string) *BytesWrapper {
	return &BytesWrapper{Data: data, MimeType: mimeType}
}

// DataURL encodes the wrapped bytes.
func (w *BytesWrapper) DataURL() (string, error) {
	return encodeDataURL(w.MimeType, w.Data), nil
}

func encodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Package types provides common type definitions used throughout the lsphost
// core. This package contains shared types to avoid circular dependencies
// between packages.
package types

import (
	"net/url"
	"path/filepath"
	"strings"
)

// DocumentURI identifies a document or resource the host operates on.
// It is usually a file URI ("file:///path/to/foo.c") but any scheme is
// carried through unmodified.
type DocumentURI string

// DocumentURIFromPath converts an absolute filesystem path into a file URI.
func DocumentURIFromPath(path string) DocumentURI {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return DocumentURI(u.String())
}

// FileSystemPath returns the filesystem path for a file URI. For non-file
// schemes the raw URI string is returned so callers can still use it as an
// opaque argument value.
func (u DocumentURI) FileSystemPath() string {
	parsed, err := url.Parse(string(u))
	if err != nil || parsed.Scheme != "file" {
		return string(u)
	}
	return filepath.FromSlash(parsed.Path)
}

// IsFileScheme reports whether the URI addresses a local file.
func (u DocumentURI) IsFileScheme() bool {
	return strings.HasPrefix(string(u), "file:")
}

// Basename returns the final path element of the URI.
func (u DocumentURI) Basename() string {
	return filepath.Base(u.FileSystemPath())
}

// Extension returns the file extension of the URI including the leading dot,
// or the empty string if there is none.
func (u DocumentURI) Extension() string {
	return filepath.Ext(u.FileSystemPath())
}

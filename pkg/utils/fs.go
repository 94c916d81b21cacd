package utils

import "github.com/spf13/afero"

// Dependency injection for Afero
type Fs afero.Fs

// NewOsFs returns the host filesystem.
func NewOsFs() Fs {
	return afero.NewOsFs()
}

// NewMemFs returns an empty in-memory filesystem.
func NewMemFs() Fs {
	return afero.NewMemMapFs()
}

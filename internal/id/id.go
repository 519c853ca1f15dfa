// Package id generates and validates the identifiers used across the library.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewKID returns a fresh song identifier (random UUID v4).
// KIDs are stable across regenerations: once written into a descriptor
// file they are never reassigned.
func NewKID() string {
	return uuid.NewString()
}

// NewSID returns a fresh series identifier (random UUID v4).
func NewSID() string {
	return uuid.NewString()
}

// Valid reports whether s is a well-formed UUID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// NewRunID creates a short run identifier used to correlate the log lines
// and diagnostics of one rebuild. NanoIDs are URL-friendly and compact
// (21 characters vs UUID's 36).
func NewRunID() (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return "run-" + id, nil
}

// MustRunID is like NewRunID but panics if ID generation fails.
// Use only where failure should crash the program (e.g. initialization).
func MustRunID() string {
	id, err := NewRunID()
	if err != nil {
		panic(fmt.Sprintf("failed to generate run ID: %v", err))
	}
	return id
}

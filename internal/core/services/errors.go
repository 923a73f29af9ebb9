package services

import "errors"

var (
	// ErrUnknownMethod is returned for an aggregation method outside the
	// supported set.
	ErrUnknownMethod = errors.New("unknown aggregation method")

	// ErrVersionNotFound is returned when a version id is absent from the
	// registry.
	ErrVersionNotFound = errors.New("model version not found")

	// ErrPartialParticipation is returned when the active client set of a
	// secure round differs from the configured participant set. Pairwise
	// masks only cancel under full participation.
	ErrPartialParticipation = errors.New("secure aggregation requires full participation")
)

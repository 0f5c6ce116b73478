package main

import (
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidServeMode = errors.New("invalid serve mode")

// ServeMode selects which route families a process serves.
type ServeMode string

const (
	ServeModeMonolith ServeMode = "monolith"
	ServeModeWeb      ServeMode = "web"
	ServeModeAPI      ServeMode = "api"
)

func ParseServeMode(rawInput string) (ServeMode, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))
	if normalized == "" {
		return ServeModeMonolith, nil
	}

	mode := ServeMode(normalized)
	switch mode {
	case ServeModeMonolith, ServeModeWeb, ServeModeAPI:
		return mode, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidServeMode, rawInput)
	}
}

// ServesWeb reports whether the mode serves widget assets, the iframe page, and sign-in.
func (mode ServeMode) ServesWeb() bool {
	return mode == ServeModeMonolith || mode == ServeModeWeb
}

// ServesAPI reports whether the mode serves the JSON endpoints.
func (mode ServeMode) ServesAPI() bool {
	return mode == ServeModeMonolith || mode == ServeModeAPI
}

//go:build !linux

package main

import (
	"errors"

	"pincab.dev/config"
	"pincab.dev/outputs"
)

func nativePlatform(cfg *config.Config, now outputs.Clock) (*platform, error) {
	return nil, errors.New("platform: no native hardware on this OS; use -sim or -serial")
}

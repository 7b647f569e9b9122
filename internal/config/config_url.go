// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// validateHTTPURL checks that a value parses as an absolute http or https
// URL with a host. Used for the sensor-cloud base and login URLs, where a
// scheme typo would otherwise surface as an opaque dial error at the first
// sync tick.
func validateHTTPURL(rawURL, fieldName string) error {
	if rawURL == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme, got %q", fieldName, parsed.Scheme)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%s must include a host", fieldName)
	}

	return nil
}

// validateNATSURL checks that a destination URL parses as an absolute
// nats or tls URL with a host. Comma-separated multi-server URLs are
// validated element by element.
func validateNATSURL(rawURL, fieldName string) error {
	if rawURL == "" {
		return fmt.Errorf("%s is required", fieldName)
	}

	for _, part := range strings.Split(rawURL, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		parsed, err := url.Parse(part)
		if err != nil {
			return fmt.Errorf("%s is not a valid URL: %w", fieldName, err)
		}

		if parsed.Scheme != "nats" && parsed.Scheme != "tls" {
			return fmt.Errorf("%s must use nats or tls scheme, got %q", fieldName, parsed.Scheme)
		}

		if parsed.Host == "" {
			return fmt.Errorf("%s must include a host", fieldName)
		}
	}

	return nil
}

// Census - Occupancy Telemetry Sync and Fan-Out Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/census

package source

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tomtom215/census/internal/logging"
)

// MatchFunc decides whether a device cluster's owning organization satisfies
// an identity filter. Injected so the matching policy can change without
// touching fetch logic.
type MatchFunc func(ownerOrg, filter string) bool

// DefaultMatch is a case-insensitive substring match. Deliberately
// permissive: upstream organization identifiers are free text and
// inconsistently cased. An empty filter matches every owner.
func DefaultMatch(ownerOrg, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToUpper(ownerOrg), strings.ToUpper(filter))
}

// Discovery enumerates the device cluster and derives the set of fetchable
// locations for an identity.
type Discovery struct {
	client    *Client
	recType   string
	clusterID string
	match     MatchFunc
}

// NewDiscovery creates a location discovery backed by the given client.
// A nil match function selects DefaultMatch.
func NewDiscovery(client *Client, cfg *Config, match MatchFunc) *Discovery {
	if match == nil {
		match = DefaultMatch
	}
	return &Discovery{
		client:    client,
		recType:   cfg.DeviceRecType,
		clusterID: cfg.DeviceClusterID,
		match:     match,
	}
}

// Resolve enumerates devices and returns the distinct first-level location
// names (buildings) whose cluster owner matches the identity filter, sorted
// by name. A cluster owned by a non-matching organization yields an empty
// set, not an error: enumerating it anyway would leak cross-tenant data.
//
// Returns ErrDiscoveryUnavailable when the endpoint is unreachable or the
// response has an unexpected shape; the caller decides between its cached
// location set and aborting the run.
func (d *Discovery) Resolve(ctx context.Context, identityFilter string) ([]Location, error) {
	reqURL := fmt.Sprintf("%s/device/%s/%s?details=true", d.client.baseURL, d.recType, d.clusterID)

	var env clusterEnvelope
	if err := d.client.getJSON(ctx, "discovery", reqURL, &env); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
	}

	if len(env.Objs) == 0 {
		logging.Warn().Str("cluster_id", d.clusterID).Msg("Device cluster returned no objects")
		return nil, nil
	}

	cluster := env.Objs[0]
	ownerOrg := cluster.Owner.Org
	if !d.match(ownerOrg, identityFilter) {
		logging.Warn().
			Str("owner_org", ownerOrg).
			Str("identity_filter", identityFilter).
			Msg("Device cluster owner does not match identity filter")
		return nil, nil
	}

	seen := make(map[string]struct{})
	var locations []Location
	for _, dev := range cluster.Data.Devices {
		if len(dev.Meta.Location) == 0 {
			continue
		}
		// First element of the hierarchical path is the building name,
		// which doubles as the loc1 fetch key.
		building := dev.Meta.Location[0]
		if building == "" {
			continue
		}
		if _, dup := seen[building]; dup {
			continue
		}
		seen[building] = struct{}{}
		locations = append(locations, Location{IdentityTag: ownerOrg, DisplayName: building})
		logging.Debug().Str("device", dev.ID).Strs("path", dev.Meta.Location).Msg("Device location discovered")
	}

	sort.Slice(locations, func(i, j int) bool {
		return locations[i].DisplayName < locations[j].DisplayName
	})

	logging.Info().
		Int("locations", len(locations)).
		Str("owner_org", ownerOrg).
		Str("identity_filter", identityFilter).
		Msg("Locations discovered")
	return locations, nil
}

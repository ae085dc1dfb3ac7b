// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license.

/*
Package config manages configuration for the coordination core.

# Overview

Configuration is merged from three sources, in priority order: built-in
defaults, an optional YAML file, then environment variables prefixed
RHEMA_ (e.g. RHEMA_BREAKER_FAILURE_THRESHOLD). Each layer overrides the
one before it field by field.

# Core types

  - Config: top-level aggregate covering Transport, Codec, Balancer,
    Breaker, Consensus, Heartbeat, Patterns, Metrics, Auth, Audit, Log,
    and Telemetry.
  - Loader: builder-style loader: NewLoader().WithConfigPath(...).
    WithEnvPrefix(...).WithValidator(...).Load()

# Usage

	cfg, err := config.NewLoader().
		WithConfigPath("coordinatord.yaml").
		WithEnvPrefix("RHEMA").
		Load()
*/
package config

/*
Package config loads and validates the replicator's YAML configuration.

All tunables except NumThreads carry defaults matching the protocol's
conservative timing model (3s connect/read budgets, 100 concurrent cluster
requests, 3s sweep, 30s retention). NumThreads is deployment-specific and
must always be set.
*/
package config

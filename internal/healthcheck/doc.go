// Package healthcheck probes backends out of band and flips their health
// flag. The flag is only consulted by the health-aware selection policy.
package healthcheck

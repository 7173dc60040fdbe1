// Package conformance provides a shared test suite that every catalog.Store
// backend must pass. Usage: call RunAll(t, factory) where factory creates a
// fresh, empty store for each sub-test.
package conformance

import (
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// StoreFactory creates a fresh catalog.Store for each sub-test. Factories
// backed by a real database are expected to truncate the control tables
// before returning.
type StoreFactory func() catalog.Store

// RunAll runs every conformance category against the given store factory.
func RunAll(t *testing.T, newStore StoreFactory) {
	t.Helper()

	t.Run("Schema", func(t *testing.T) { RunSchemaTests(t, newStore) })
	t.Run("Lock", func(t *testing.T) { RunLockTests(t, newStore) })
	t.Run("VersionGate", func(t *testing.T) { RunVersionGateTests(t, newStore) })
	t.Run("History", func(t *testing.T) { RunHistoryTests(t, newStore) })
}

package conformance

import (
	"os"
	"strconv"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
)

// noCloseStore wraps a catalog.Store and makes Close() a no-op, so
// individual sub-tests don't tear down the shared connection the
// conformance-tagged tests reuse across every sub-test.
type noCloseStore struct {
	catalog.Store
}

func (s *noCloseStore) Close() error { return nil }

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

package memstore

import (
	"testing"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/tests/catalog/conformance"
)

func TestMemstore_Conformance(t *testing.T) {
	conformance.RunAll(t, func() catalog.Store { return New() })
}

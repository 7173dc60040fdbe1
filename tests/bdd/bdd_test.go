//go:build bdd

// Package bdd provides BDD tests using godog (Cucumber for Go) against an
// in-process server backed by internal/catalog/memstore. Run with:
//
//	go test -tags bdd -v ./tests/bdd/...
//
// There is no Docker/external-backend mode here: unlike the teacher's
// multi-storage-backend registry, this engine has exactly one
// database-backed Store implementation (internal/catalog/mysql.Store)
// besides the in-memory one used here, and it requires a live MySQL
// control database to exercise meaningfully — that belongs to
// tests/catalog/conformance (build tag "conformance"), not to an in-process
// BDD run. The scenarios here cover the catalog/lock-manager behavior of
// spec §8 that is fully exercisable without a tenant database connection.
package bdd

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"

	"github.com/axonops/tenant-schema-engine/internal/api"
	"github.com/axonops/tenant-schema-engine/internal/api/handlers"
	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/catalog/memstore"
	"github.com/axonops/tenant-schema-engine/internal/config"
	"github.com/axonops/tenant-schema-engine/tests/bdd/steps"
)

// newTestServer creates a fresh in-process engine backed by memstore. The
// migration/orchestrator/drift/scheduler collaborators are left nil: the
// scenarios registered here only exercise the catalog and lock-manager
// HTTP surface, which handlers.Handler serves directly off the store.
func newTestServer() (*httptest.Server, catalog.Store) {
	store := memstore.New()

	cfg := &config.Config{
		Server: config.ServerConfig{Host: "localhost", Port: 0},
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	h := handlers.New(store, nil, nil, nil, nil, func() error { return nil })
	server := api.NewServer(cfg, h, logger)

	return httptest.NewServer(server), store
}

func TestFeatures(t *testing.T) {
	tags := os.Getenv("BDD_TAGS")

	opts := godog.Options{
		Format:   "pretty",
		Output:   colors.Colored(os.Stdout),
		Paths:    []string{"features"},
		Tags:     tags,
		TestingT: t,
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			ts, store := newTestServer()
			tc := steps.NewTestContext(ts.URL)
			tc.Store = store
			ctx.After(func(gctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
				ts.Close()
				store.Close()
				return gctx, nil
			})

			steps.RegisterCatalogSteps(ctx, tc)
			steps.RegisterLockSteps(ctx, tc)
			steps.RegisterInfraSteps(ctx, tc)
		},
		Options: &opts,
	}

	if suite.Run() != 0 {
		t.Fatal("BDD tests failed")
	}
}

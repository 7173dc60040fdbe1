package tenant

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const testDirectoryYAML = `
tenants:
  - id: shop-1
    status: normal
    main:
      host: db1.internal
      port: 3306
      user: app
      password: secret
      database: shop1_main
    log:
      host: db1.internal
      port: 3306
      user: app
      password: secret
      database: shop1_log
  - id: shop-2
    status: suspended
    main:
      host: db2.internal
      port: 3306
      user: app
      password: secret
      database: shop2_main
`

func TestStaticDirectory_ListNormalTenants(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenants.yaml")
	if err := os.WriteFile(path, []byte(testDirectoryYAML), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	sd := NewStaticDirectory(path)
	got, err := sd.ListNormalTenants(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected only the normal tenant to be listed, got %d", len(got))
	}
	if got[0].ID != "shop-1" {
		t.Errorf("ID = %q, want shop-1", got[0].ID)
	}
	if got[0].Main.Database != "shop1_main" {
		t.Errorf("Main.Database = %q, want shop1_main", got[0].Main.Database)
	}
	if got[0].Log == nil || got[0].Log.Database != "shop1_log" {
		t.Errorf("Log = %+v, want shop1_log tuple", got[0].Log)
	}
}

func TestStaticDirectory_ReloadsOnEveryCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tenants.yaml")
	os.WriteFile(path, []byte("tenants: []\n"), 0o600)

	sd := NewStaticDirectory(path)
	got, err := sd.ListNormalTenants(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty directory, got %d", len(got))
	}

	os.WriteFile(path, []byte(testDirectoryYAML), 0o600)
	got, err = sd.ListNormalTenants(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected directory re-read to pick up new tenant, got %d", len(got))
	}
}

func TestStaticDirectory_MissingFile(t *testing.T) {
	sd := NewStaticDirectory("/nonexistent/path/tenants.yaml")
	if _, err := sd.ListNormalTenants(context.Background()); err == nil {
		t.Fatal("expected error for missing directory file")
	}
}

package tenant

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// directoryFile is the on-disk shape of a static tenant directory file —
// the caller-supplied TenantDescriptor source spec §1 treats as an
// external collaborator. The engine never persists this itself; an
// operator maintains it alongside the server's own config file.
type directoryFile struct {
	Tenants []directoryEntry `yaml:"tenants"`
}

type directoryEntry struct {
	ID     string           `yaml:"id"`
	Status string           `yaml:"status"`
	Main   directoryParams  `yaml:"main"`
	Log    *directoryParams `yaml:"log,omitempty"`
	Order  *directoryParams `yaml:"order,omitempty"`
	Static *directoryParams `yaml:"static,omitempty"`
}

type directoryParams struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

func (p directoryParams) toConnParams() ConnParams {
	return ConnParams{Host: p.Host, Port: p.Port, User: p.User, Password: p.Password, Database: p.Database}
}

// StaticDirectory is a file-backed TenantLister (orchestrator.TenantLister):
// it reloads the directory file on every call so an operator can add or
// disable a tenant without restarting the process.
type StaticDirectory struct {
	path string
}

// NewStaticDirectory returns a StaticDirectory reading tenant descriptors
// from the YAML file at path.
func NewStaticDirectory(path string) *StaticDirectory {
	return &StaticDirectory{path: path}
}

// ListNormalTenants implements orchestrator.TenantLister.
func (d *StaticDirectory) ListNormalTenants(ctx context.Context) ([]Descriptor, error) {
	raw, err := os.ReadFile(d.path)
	if err != nil {
		return nil, fmt.Errorf("tenant directory: read %s: %w", d.path, err)
	}

	var file directoryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("tenant directory: parse %s: %w", d.path, err)
	}

	out := make([]Descriptor, 0, len(file.Tenants))
	for _, e := range file.Tenants {
		if Status(e.Status) != StatusNormal {
			continue
		}
		desc := Descriptor{ID: e.ID, Status: Status(e.Status), Main: e.Main.toConnParams()}
		if e.Log != nil {
			p := e.Log.toConnParams()
			desc.Log = &p
		}
		if e.Order != nil {
			p := e.Order.toConnParams()
			desc.Order = &p
		}
		if e.Static != nil {
			p := e.Static.toConnParams()
			desc.Static = &p
		}
		out = append(out, desc)
	}
	return out, nil
}

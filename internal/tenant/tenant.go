// Package tenant implements the Connection Registry (C1): lazy per-tenant,
// per-database-role MySQL connection pools, grounded on the teacher's
// internal/storage/mysql Config/DSN pattern generalized across many target
// databases instead of one.
package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/axonops/tenant-schema-engine/internal/catalog"
	"github.com/axonops/tenant-schema-engine/internal/metrics"
)

// Status is the enterprise lifecycle state; only "normal" tenants are
// migrated (spec §3 Enterprise/TenantDescriptor).
type Status string

const StatusNormal Status = "normal"

// ConnParams is one (host, port, user, password, database) tuple.
type ConnParams struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

func (p ConnParams) dsn(tls string) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&tls=%s", p.User, p.Password, p.Host, p.Port, p.Database, tls)
}

// Descriptor is the opaque-except-for-these-fields TenantDescriptor the
// engine receives from its caller (spec §3). A missing role tuple falls
// back to the main tuple with a derived database-name suffix.
type Descriptor struct {
	ID     string
	Status Status
	Main   ConnParams
	Log    *ConnParams
	Order  *ConnParams
	Static *ConnParams
}

// IsNormal reports whether this tenant should be migrated.
func (d Descriptor) IsNormal() bool { return d.Status == StatusNormal }

// resolve returns the effective ConnParams for a database role, falling
// back to main with a derived suffix when the role-specific tuple is
// absent.
func (d Descriptor) resolve(role catalog.DatabaseType) ConnParams {
	switch role {
	case catalog.DatabaseLog:
		if d.Log != nil {
			return *d.Log
		}
	case catalog.DatabaseOrder:
		if d.Order != nil {
			return *d.Order
		}
	case catalog.DatabaseStatic:
		if d.Static != nil {
			return *d.Static
		}
	}
	if role == catalog.DatabaseMain {
		return d.Main
	}
	p := d.Main
	p.Database = p.Database + "_" + string(role)
	return p
}

// PoolConfig tunes connection pool sizing (spec §4.1: "typical: max 5, min
// 0, acquire timeout 30s, idle 10s").
type PoolConfig struct {
	MaxOpenConns    int
	AcquireTimeout  time.Duration
	ConnMaxIdleTime time.Duration
	TLS             string
}

// DefaultPoolConfig matches spec §4.1's stated defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    5,
		AcquireTimeout:  30 * time.Second,
		ConnMaxIdleTime: 10 * time.Second,
		TLS:             "false",
	}
}

type cacheKey struct {
	tenantID string
	role     catalog.DatabaseType
}

// Registry is the Connection Registry (C1): a lazy per-(tenant, role) pool
// cache with liveness checks and admin operations.
type Registry struct {
	mu      sync.Mutex
	pools   map[cacheKey]*sql.DB
	cfg     PoolConfig
	metrics *metrics.Metrics
}

// NewRegistry constructs an empty Registry.
func NewRegistry(cfg PoolConfig) *Registry {
	return &Registry{pools: make(map[cacheKey]*sql.DB), cfg: cfg}
}

// SetMetrics attaches the Prometheus recorders updated as pools open and
// close. Unset, the registry runs without a metrics dependency.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// GetConnection returns the cached pool for (tenant, role), opening it (and
// the tenant database, if missing) on first use. A cached pool that fails a
// liveness check is dropped and reopened.
func (r *Registry) GetConnection(ctx context.Context, t Descriptor, role catalog.DatabaseType) (*sql.DB, error) {
	key := cacheKey{tenantID: t.ID, role: role}

	r.mu.Lock()
	db, ok := r.pools[key]
	r.mu.Unlock()

	if ok {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return db, nil
		}
		r.mu.Lock()
		delete(r.pools, key)
		r.mu.Unlock()
		db.Close()
	}

	params := t.resolve(role)

	if err := r.ensureDatabase(ctx, params); err != nil {
		return nil, fmt.Errorf("ensure tenant database %q: %w", params.Database, err)
	}

	acquireCtx, cancel := context.WithTimeout(ctx, r.cfg.AcquireTimeout)
	defer cancel()

	newDB, err := sql.Open("mysql", params.dsn(r.cfg.TLS))
	if err != nil {
		return nil, fmt.Errorf("open tenant pool: %w", err)
	}
	newDB.SetMaxOpenConns(r.cfg.MaxOpenConns)
	newDB.SetConnMaxIdleTime(r.cfg.ConnMaxIdleTime)

	if err := newDB.PingContext(acquireCtx); err != nil {
		newDB.Close()
		return nil, fmt.Errorf("authenticate tenant pool: %w", err)
	}

	r.mu.Lock()
	if existing, ok := r.pools[key]; ok {
		r.mu.Unlock()
		newDB.Close()
		return existing, nil
	}
	r.pools[key] = newDB
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.UpdateTenantConnectionCount(t.ID, string(role), 1)
	}

	return newDB, nil
}

// ensureDatabase opens an admin connection without selecting a database and
// issues a CREATE DATABASE IF NOT EXISTS, per spec §4.1 step 1.
func (r *Registry) ensureDatabase(ctx context.Context, params ConnParams) error {
	adminDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/?parseTime=true&tls=%s", params.User, params.Password, params.Host, params.Port, r.cfg.TLS)
	admin, err := sql.Open("mysql", adminDSN)
	if err != nil {
		return fmt.Errorf("open admin connection: %w", err)
	}
	defer admin.Close()

	if params.Database == "" {
		return errors.New("tenant database name is empty")
	}

	stmt := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", escapeIdent(params.Database))
	if _, err := admin.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create tenant database: %w", err)
	}
	return nil
}

// escapeIdent doubles backticks in an identifier destined for a quoted
// `...` slot; database/index/table names here come from trusted
// configuration and catalog rows, never end-user request bodies directly.
func escapeIdent(ident string) string {
	out := make([]byte, 0, len(ident))
	for i := 0; i < len(ident); i++ {
		if ident[i] == '`' {
			out = append(out, '`', '`')
			continue
		}
		out = append(out, ident[i])
	}
	return string(out)
}

// CloseAll closes every cached pool.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, db := range r.pools {
		db.Close()
		delete(r.pools, k)
		if r.metrics != nil {
			r.metrics.UpdateTenantConnectionCount(k.tenantID, string(k.role), 0)
		}
	}
}

// CloseForTenant closes every pool cached for one tenant.
func (r *Registry) CloseForTenant(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, db := range r.pools {
		if k.tenantID == tenantID {
			db.Close()
			delete(r.pools, k)
			if r.metrics != nil {
				r.metrics.UpdateTenantConnectionCount(k.tenantID, string(k.role), 0)
			}
		}
	}
}

// Stats lists the active cache keys as "tenantID/role" strings.
func (r *Registry) Stats() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.pools))
	for k := range r.pools {
		out = append(out, k.tenantID+"/"+string(k.role))
	}
	return out
}

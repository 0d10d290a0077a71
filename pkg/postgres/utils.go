package postgres

import (
	"context"

	"gorm.io/gorm"
)

// DB returns the current gorm handle bound to ctx. Callers must not keep it
// across a reconnect.
func (p *Postgres) DB(ctx context.Context) *gorm.DB {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.client.WithContext(ctx)
}

// Exec runs raw SQL.
func (p *Postgres) Exec(ctx context.Context, sql string, values ...interface{}) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return TranslateError(p.client.WithContext(ctx).Exec(sql, values...).Error)
}

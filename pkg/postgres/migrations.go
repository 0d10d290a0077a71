package postgres

import (
	"context"
	"fmt"
)

// Migrate auto-migrates models and then runs each statement in order.
// Statements must be idempotent.
func (p *Postgres) Migrate(ctx context.Context, models []interface{}, statements ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	db := p.client.WithContext(ctx)
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration statement %q: %w", stmt, err)
		}
	}
	return nil
}

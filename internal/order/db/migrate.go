package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Migrate bootstraps the orders schema.
func Migrate(ctx context.Context, bunDB *bun.DB) error {
	for _, model := range []any{(*Order)(nil), (*TicketSnapshot)(nil)} {
		_, err := bunDB.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

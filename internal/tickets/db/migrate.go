package db

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Migrate bootstraps the tickets schema.
func Migrate(ctx context.Context, bunDB *bun.DB) error {
	_, err := bunDB.NewCreateTable().
		Model((*Ticket)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create tickets table: %w", err)
	}
	return nil
}

//go:build integration

package testutil

import (
	"context"
	"strings"
	"time"
)

// engineTables lists every table the migrations create, children first.
var engineTables = []string{
	"payment_events",
	"payments",
	"learner_progress",
	"trail_steps",
	"trails",
	"event_outbox",
}

// CleanAll empties the engine tables in one statement and resets the outbox sequence,
// so outbox ids restart at 1 for every test.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmt := "TRUNCATE TABLE " + strings.Join(engineTables, ", ") + " RESTART IDENTITY CASCADE"
	if _, err := env.Pool.Exec(ctx, stmt); err != nil {
		env.t.Fatalf("clean test database: %v", err)
	}
}

//go:build integration

package testutil

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go/modules/mysql"
)

func SetupMySQL(t testing.TB) string {
	t.Helper()
	ctx := context.Background()

	container, err := mysql.Run(ctx, "mysql:8.4",
		mysql.WithDatabase("tabby_test"),
		mysql.WithUsername("tabby"),
		mysql.WithPassword("tabby"),
	)
	if err != nil {
		t.Fatalf("start mysql: %v", err)
	}

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate mysql: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "parseTime=true", "loc=UTC")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}

	return dsn
}

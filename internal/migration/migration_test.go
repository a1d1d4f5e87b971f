package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	assert.Equal(t, ups, downs)
}

func TestRunAutoMigratesSQLite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:migration_test?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn, "sqlite-pure"))
	for _, table := range []string{"meter_readings", "invoices", "monthly_bills"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}
	assert.True(t, conn.Migrator().HasColumn("meter_readings", "recorded_at"))
	assert.True(t, conn.Migrator().HasColumn("meter_readings", "current_amps"))
	assert.True(t, conn.Migrator().HasColumn("invoices", "line_items"))
	assert.True(t, conn.Migrator().HasColumn("monthly_bills", "net_amount"))

	// Idempotent.
	require.NoError(t, Run(conn, "sqlite-pure"))
}

func TestRunRequiresConnection(t *testing.T) {
	assert.Error(t, Run(nil, "postgres"))
}

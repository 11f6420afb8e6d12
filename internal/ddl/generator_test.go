package ddl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/dialect"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

func strp(s string) *string { return &s }

func ordersInput() Input {
	return Input{
		Schema: &models.TableSchema{
			SourceDatabase: "shop",
			SourceTable:    "orders",
			Columns: []models.ColumnSchema{
				{Name: "amount", SourceType: "decimal(10,2)", Nullable: true},
				{Name: "id", SourceType: "int", Nullable: false, Comment: strp("order id")},
				{Name: "note", SourceType: "varchar(64)", Nullable: true},
			},
			PrimaryKeys: []string{"id"},
		},
		Source: &models.ConnectionConfig{
			ID: 1, Engine: dialect.MySQL, Host: "mysql.local", Port: 3306, Username: "cdc", Password: "s3cr'et",
		},
		Warehouse: &models.ConnectionConfig{
			ID: 3, Engine: dialect.StarRocks, Host: "sr.local", Port: 9030, Username: "root", Password: "pw",
		},
		TargetDatabase: "dw",
		TargetTable:    "orders",
	}
}

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}

// stepByName returns the first step called name.
func stepByName(t *testing.T, steps []Step, name string) Step {
	t.Helper()
	for _, s := range steps {
		if s.Name == name {
			return s
		}
	}
	require.Failf(t, "step not found", "no step %s in %v", name, stepNames(steps))
	return Step{}
}

func TestGenerateDefaultOptions(t *testing.T) {
	steps, err := NewGenerator(DefaultConfig()).Generate(ordersInput())
	require.NoError(t, err)

	assert.Equal(t, []string{
		StepCreateIntermediateSchema,
		StepCreateSourceSecret,
		StepCreateIntermediateSrc,
		StepCreateIntermediateTable,
		StepCreateWarehouseDatabase,
		StepCreateWarehouseTable,
		StepCreateSinkSecret,
		StepCreateSink,
	}, stepNames(steps))

	for _, s := range steps {
		assert.NotContains(t, s.Statement, "DROP")
		assert.NotContains(t, s.Statement, "TRUNCATE")
		assert.False(t, strings.HasSuffix(s.Statement, ";"))
	}

	targets := make([]dialect.Dialect, len(steps))
	for i, s := range steps {
		targets[i] = s.Target
	}
	rw, sr := dialect.RisingWave, dialect.StarRocks
	assert.Equal(t, []dialect.Dialect{rw, rw, rw, rw, sr, sr, rw, rw}, targets)
}

func TestGenerateStatements(t *testing.T) {
	steps, err := NewGenerator(DefaultConfig()).Generate(ordersInput())
	require.NoError(t, err)

	assert.Equal(t, `CREATE SCHEMA IF NOT EXISTS "ods_dw"`, stepByName(t, steps, StepCreateIntermediateSchema).Statement)
	assert.Equal(t, `CREATE SECRET IF NOT EXISTS "ods_dw"."pwd_src_orders" WITH (backend = 'meta') AS 's3cr''et'`,
		stepByName(t, steps, StepCreateSourceSecret).Statement)
	assert.Equal(t, `CREATE SECRET IF NOT EXISTS "ods_dw"."pwd_snk_orders" WITH (backend = 'meta') AS 'pw'`,
		stepByName(t, steps, StepCreateSinkSecret).Statement)
	assert.Equal(t, "CREATE DATABASE IF NOT EXISTS `dw`", stepByName(t, steps, StepCreateWarehouseDatabase).Statement)

	source := stepByName(t, steps, StepCreateIntermediateSrc).Statement
	assert.True(t, strings.HasPrefix(source, `CREATE SOURCE IF NOT EXISTS "ods_dw"."src_orders" WITH (`))
	assert.Contains(t, source, "connector = 'mysql-cdc'")
	assert.Contains(t, source, `password = SECRET "ods_dw"."pwd_src_orders"`)
	assert.NotContains(t, source, "s3cr")
	assert.Contains(t, source, "database.name = 'shop'")
	assert.Contains(t, source, "server.id = '")

	table := stepByName(t, steps, StepCreateIntermediateTable).Statement
	assert.True(t, strings.HasPrefix(table, `CREATE TABLE IF NOT EXISTS "ods_dw"."tbl_orders" (`))
	assert.Contains(t, table, `"amount" DECIMAL(10,2)`)
	assert.Contains(t, table, `PRIMARY KEY ("id")`)
	assert.True(t, strings.HasSuffix(table, `FROM "ods_dw"."src_orders" TABLE 'shop.orders'`))

	wh := stepByName(t, steps, StepCreateWarehouseTable).Statement
	assert.True(t, strings.HasPrefix(wh, "CREATE TABLE IF NOT EXISTS `dw`.`orders` (\n  `id` INT NOT NULL COMMENT 'order id',\n"))
	assert.Contains(t, wh, "`amount` DECIMAL(10,2) NULL")
	assert.Contains(t, wh, "`note` VARCHAR(64) NULL")
	assert.Contains(t, wh, "PRIMARY KEY(`id`)")
	assert.Contains(t, wh, "DISTRIBUTED BY HASH(`id`) BUCKETS 10")
	assert.Contains(t, wh, `"replication_num" = "1"`)

	sink := stepByName(t, steps, StepCreateSink).Statement
	assert.True(t, strings.HasPrefix(sink, `CREATE SINK IF NOT EXISTS "ods_dw"."snk_orders" FROM "ods_dw"."tbl_orders" WITH (`))
	assert.Contains(t, sink, "starrocks.httpport = '8030'")
	assert.Contains(t, sink, "starrocks.mysqlport = '9030'")
	assert.Contains(t, sink, `starrocks.password = SECRET "ods_dw"."pwd_snk_orders"`)
	assert.Contains(t, sink, "type = 'upsert'")
	assert.Contains(t, sink, "primary_key = 'id'")
}

func TestGenerateCastsZonedTimestampsInSink(t *testing.T) {
	in := ordersInput()
	in.Schema.Columns = append(in.Schema.Columns,
		models.ColumnSchema{Name: "created_at", SourceType: "timestamp", Nullable: true},
		models.ColumnSchema{Name: "shipped_at", SourceType: "datetime", Nullable: true},
	)

	steps, err := NewGenerator(DefaultConfig()).Generate(in)
	require.NoError(t, err)

	table := stepByName(t, steps, StepCreateIntermediateTable).Statement
	assert.Contains(t, table, `"created_at" TIMESTAMPTZ`)
	assert.Contains(t, table, `"shipped_at" TIMESTAMP`)

	sink := stepByName(t, steps, StepCreateSink).Statement
	assert.True(t, strings.HasPrefix(sink, `CREATE SINK IF NOT EXISTS "ods_dw"."snk_orders" AS SELECT `+
		`"amount", "id", "note", "created_at"::TIMESTAMP AS "created_at", "shipped_at" FROM "ods_dw"."tbl_orders" WITH (`))
}

func TestGenerateOptionOrdering(t *testing.T) {
	recreateSource := []string{
		StepCreateIntermediateSchema,
		StepDropIntermediateTable, StepDropIntermediateSource, StepDropSourceSecret, StepDropSinkSecret,
	}
	create := []string{StepCreateSourceSecret, StepCreateIntermediateSrc, StepCreateIntermediateTable, StepCreateWarehouseDatabase}
	finish := []string{StepCreateWarehouseTable, StepCreateSinkSecret, StepCreateSink}
	join := func(parts ...[]string) []string {
		var out []string
		for _, p := range parts {
			out = append(out, p...)
		}
		return out
	}

	tests := []struct {
		name string
		opts models.SyncOptions
		want []string
	}{
		{
			name: "recreate source",
			opts: models.SyncOptions{RecreateIntermediateSource: true},
			want: join(recreateSource, create, finish),
		},
		{
			name: "recreate warehouse",
			opts: models.SyncOptions{RecreateWarehouseTable: true},
			want: join([]string{StepCreateIntermediateSchema}, create, []string{StepDropWarehouseTable}, finish),
		},
		{
			name: "truncate",
			opts: models.SyncOptions{TruncateWarehouseTable: true},
			want: join([]string{StepCreateIntermediateSchema}, create, []string{StepTruncateWarehouseTable}, finish),
		},
		{
			name: "recreate wins over truncate",
			opts: models.SyncOptions{RecreateIntermediateSource: true, RecreateWarehouseTable: true, TruncateWarehouseTable: true},
			want: join(recreateSource, create, []string{StepDropWarehouseTable}, finish),
		},
	}

	gen := NewGenerator(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := ordersInput()
			in.Options = tt.opts
			steps, err := gen.Generate(in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, stepNames(steps))
		})
	}
}

func TestGenerateDropAndTruncateStatements(t *testing.T) {
	in := ordersInput()
	in.Options = models.SyncOptions{RecreateIntermediateSource: true, TruncateWarehouseTable: true}
	steps, err := NewGenerator(DefaultConfig()).Generate(in)
	require.NoError(t, err)

	assert.Equal(t, `DROP TABLE IF EXISTS "ods_dw"."tbl_orders" CASCADE`, steps[1].Statement)
	assert.Equal(t, `DROP SOURCE IF EXISTS "ods_dw"."src_orders" CASCADE`, steps[2].Statement)
	assert.Equal(t, `DROP SECRET IF EXISTS "ods_dw"."pwd_src_orders"`, steps[3].Statement)
	assert.Equal(t, `DROP SECRET IF EXISTS "ods_dw"."pwd_snk_orders"`, steps[4].Statement)

	truncate := stepByName(t, steps, StepTruncateWarehouseTable)
	assert.Equal(t, "TRUNCATE TABLE `dw`.`orders`", truncate.Statement)
	require.NotNil(t, truncate.Guard)
	assert.Equal(t, Guard{Database: "dw", Table: "orders"}, *truncate.Guard)

	names := stepNames(steps)
	assert.Less(t, indexOf(names, StepTruncateWarehouseTable), indexOf(names, StepCreateSink))
	assert.Less(t, indexOf(names, StepCreateWarehouseDatabase), indexOf(names, StepTruncateWarehouseTable))
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}

func TestGenerateKeepsTargetsApart(t *testing.T) {
	gen := NewGenerator(DefaultConfig())

	a := ordersInput()
	a.TargetDatabase, a.TargetTable = "sales_dw", "orders"
	b := ordersInput()
	b.TargetDatabase, b.TargetTable = "sales", "dw_orders"

	stepsA, err := gen.Generate(a)
	require.NoError(t, err)
	stepsB, err := gen.Generate(b)
	require.NoError(t, err)

	for _, name := range []string{StepCreateIntermediateSrc, StepCreateIntermediateTable, StepCreateSink, StepCreateSourceSecret, StepCreateSinkSecret} {
		assert.NotEqual(t, stepByName(t, stepsA, name).Statement, stepByName(t, stepsB, name).Statement, name)
	}
	assert.NotEqual(t, NamesFor("sales_dw", "orders"), NamesFor("sales", "dw_orders"))
}

func TestNamesForKindsNeverCollide(t *testing.T) {
	// a table called src_orders must not reuse the source of table orders
	plain := NamesFor("dw", "orders")
	tricky := NamesFor("dw", "src_orders")

	seen := map[string]string{}
	for _, n := range []ObjectNames{plain, tricky} {
		for kind, name := range map[string]string{"source": n.Source, "table": n.Table, "sink": n.Sink} {
			if prev, dup := seen[name]; dup {
				t.Fatalf("%s name %q already used by %s", kind, name, prev)
			}
			seen[name] = kind
		}
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	gen := NewGenerator(DefaultConfig())
	a, err := gen.Generate(ordersInput())
	require.NoError(t, err)
	b, err := gen.Generate(ordersInput())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerateWithoutPrimaryKey(t *testing.T) {
	in := ordersInput()
	in.Schema.PrimaryKeys = nil

	steps, err := NewGenerator(Config{Buckets: 4, ReplicationNum: 3}).Generate(in)
	require.NoError(t, err)

	assert.NotContains(t, stepByName(t, steps, StepCreateIntermediateTable).Statement, "PRIMARY KEY")

	wh := stepByName(t, steps, StepCreateWarehouseTable).Statement
	assert.Contains(t, wh, "DUPLICATE KEY(`amount`)")
	assert.Contains(t, wh, "DISTRIBUTED BY HASH(`amount`) BUCKETS 4")
	assert.Contains(t, wh, `"replication_num" = "3"`)
	assert.Contains(t, wh, "`amount` DECIMAL(10,2) NULL")
	assert.Contains(t, wh, "`id` INT NOT NULL")

	sink := stepByName(t, steps, StepCreateSink).Statement
	assert.Contains(t, sink, "type = 'append-only'")
	assert.Contains(t, sink, "force_append_only = 'true'")
	assert.NotContains(t, sink, "primary_key")
}

func TestGenerateRejectsInjection(t *testing.T) {
	gen := NewGenerator(DefaultConfig())

	in := ordersInput()
	in.TargetTable = "orders; DROP DATABASE dw"
	_, err := gen.Generate(in)
	assert.Equal(t, apperr.CodeInvalidIdentifier, apperr.CodeOf(err))

	in = ordersInput()
	in.Schema.Columns[0].Name = "amount;--"
	_, err = gen.Generate(in)
	assert.Equal(t, apperr.CodeInvalidIdentifier, apperr.CodeOf(err))
}

func TestGenerateUnsupportedType(t *testing.T) {
	in := ordersInput()
	in.Schema.Columns = append(in.Schema.Columns, models.ColumnSchema{Name: "shape", SourceType: "geometry"})

	_, err := NewGenerator(DefaultConfig()).Generate(in)
	var unsupported *apperr.UnsupportedTypeError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "geometry", unsupported.TypeName)
}

func TestGenerateRejectsWrongEngines(t *testing.T) {
	in := ordersInput()
	in.Warehouse.Engine = dialect.RisingWave
	_, err := NewGenerator(DefaultConfig()).Generate(in)
	assert.Equal(t, apperr.CodeInvalidConfig, apperr.CodeOf(err))
}

func TestReplicationClientID(t *testing.T) {
	a := ReplicationClientID(1, "dw", "orders")
	assert.Equal(t, a, ReplicationClientID(1, "dw", "orders"))
	assert.NotEqual(t, a, ReplicationClientID(2, "dw", "orders"))
	assert.NotEqual(t, a, ReplicationClientID(1, "dw", "customers"))
	assert.NotEqual(t, a, ReplicationClientID(1, "staging", "orders"))
	assert.NotEqual(t, ReplicationClientID(1, "sales_dw", "orders"), ReplicationClientID(1, "sales", "dw_orders"))
	assert.GreaterOrEqual(t, a, uint32(replicationIDFloor))
}

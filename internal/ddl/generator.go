// Package ddl turns a source table schema into the ordered list of
// statements that stand up a MySQL -> RisingWave -> StarRocks pipeline.
// Generation is pure: no statement is executed here.
package ddl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/dialect"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/typemap"
)

// Guard makes a step conditional on a warehouse table existing.
type Guard struct {
	Database string
	Table    string
}

// Step is one statement bound to the engine that must run it.
type Step struct {
	Name      string
	Target    dialect.Dialect
	Statement string
	Guard     *Guard
}

// Config holds warehouse layout defaults.
type Config struct {
	Buckets         int
	ReplicationNum  int
	DefaultHTTPPort int
}

// DefaultConfig matches a single-node StarRocks deployment.
func DefaultConfig() Config {
	return Config{Buckets: 10, ReplicationNum: 1, DefaultHTTPPort: 8030}
}

// Input is everything a plan is built from.
type Input struct {
	Schema         *models.TableSchema
	Source         *models.ConnectionConfig
	Warehouse      *models.ConnectionConfig
	TargetDatabase string
	TargetTable    string
	Options        models.SyncOptions
}

// Generator builds pipeline plans.
type Generator struct {
	cfg Config
}

func NewGenerator(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Buckets <= 0 {
		cfg.Buckets = def.Buckets
	}
	if cfg.ReplicationNum <= 0 {
		cfg.ReplicationNum = def.ReplicationNum
	}
	if cfg.DefaultHTTPPort <= 0 {
		cfg.DefaultHTTPPort = def.DefaultHTTPPort
	}
	return &Generator{cfg: cfg}
}

type column struct {
	name         string
	intermediate typemap.IntermediateType
	warehouse    typemap.WarehouseType
	nullable     bool
	comment      *string
}

// rwNames holds the quoted, schema-qualified RisingWave identifiers of one
// pipeline.
type rwNames struct {
	schema       string
	source       string
	table        string
	sink         string
	sourceSecret string
	sinkSecret   string
}

func quoteNames(n ObjectNames) (rwNames, error) {
	rw := dialect.RisingWave
	var out rwNames
	var err error
	if out.schema, err = rw.QuoteIdent(n.Schema); err != nil {
		return out, err
	}
	for _, f := range []struct {
		dst  *string
		name string
	}{
		{&out.source, n.Source},
		{&out.table, n.Table},
		{&out.sink, n.Sink},
		{&out.sourceSecret, n.SourceSecret},
		{&out.sinkSecret, n.SinkSecret},
	} {
		if *f.dst, err = rw.QuoteQualified(n.Schema, f.name); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Generate returns the ordered steps for in.
func (g *Generator) Generate(in Input) ([]Step, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	cols, err := mapColumns(in.Schema)
	if err != nil {
		return nil, err
	}

	opts := in.Options.Normalize()
	names, err := quoteNames(NamesFor(in.TargetDatabase, in.TargetTable))
	if err != nil {
		return nil, err
	}
	rw := dialect.RisingWave
	sr := dialect.StarRocks

	srDatabase, err := sr.QuoteIdent(in.TargetDatabase)
	if err != nil {
		return nil, err
	}
	srTable, err := sr.QuoteQualified(in.TargetDatabase, in.TargetTable)
	if err != nil {
		return nil, err
	}

	steps := []Step{{
		Name:      StepCreateIntermediateSchema,
		Target:    rw,
		Statement: "CREATE SCHEMA IF NOT EXISTS " + names.schema,
	}}
	if opts.RecreateIntermediateSource {
		steps = append(steps,
			Step{Name: StepDropIntermediateTable, Target: rw, Statement: "DROP TABLE IF EXISTS " + names.table + " CASCADE"},
			Step{Name: StepDropIntermediateSource, Target: rw, Statement: "DROP SOURCE IF EXISTS " + names.source + " CASCADE"},
			Step{Name: StepDropSourceSecret, Target: rw, Statement: "DROP SECRET IF EXISTS " + names.sourceSecret},
			Step{Name: StepDropSinkSecret, Target: rw, Statement: "DROP SECRET IF EXISTS " + names.sinkSecret},
		)
	}

	steps = append(steps,
		Step{Name: StepCreateSourceSecret, Target: rw, Statement: createSecret(names.sourceSecret, in.Source.Password)},
		Step{Name: StepCreateIntermediateSrc, Target: rw, Statement: g.createSource(names, in)},
	)

	tableStmt, err := g.createIntermediateTable(names, cols, in)
	if err != nil {
		return nil, err
	}
	steps = append(steps,
		Step{Name: StepCreateIntermediateTable, Target: rw, Statement: tableStmt},
		Step{Name: StepCreateWarehouseDatabase, Target: sr, Statement: "CREATE DATABASE IF NOT EXISTS " + srDatabase},
	)

	switch {
	case opts.RecreateWarehouseTable:
		steps = append(steps, Step{Name: StepDropWarehouseTable, Target: sr, Statement: "DROP TABLE IF EXISTS " + srTable})
	case opts.TruncateWarehouseTable:
		steps = append(steps, Step{
			Name:      StepTruncateWarehouseTable,
			Target:    sr,
			Statement: "TRUNCATE TABLE " + srTable,
			Guard:     &Guard{Database: in.TargetDatabase, Table: in.TargetTable},
		})
	}

	whStmt, err := g.createWarehouseTable(srTable, cols, in.Schema)
	if err != nil {
		return nil, err
	}
	sinkStmt, err := g.createSink(names, cols, in)
	if err != nil {
		return nil, err
	}
	steps = append(steps,
		Step{Name: StepCreateWarehouseTable, Target: sr, Statement: whStmt},
		Step{Name: StepCreateSinkSecret, Target: rw, Statement: createSecret(names.sinkSecret, in.Warehouse.Password)},
		Step{Name: StepCreateSink, Target: rw, Statement: sinkStmt},
	)
	return steps, nil
}

// createSecret stores a password in the RisingWave meta store so that it
// never appears in source or sink definitions.
func createSecret(name, password string) string {
	return "CREATE SECRET IF NOT EXISTS " + name + " WITH (backend = 'meta') AS " +
		dialect.RisingWave.QuoteLiteral(password)
}

func validateInput(in Input) error {
	switch {
	case in.Schema == nil:
		return apperr.InvalidInput("table schema is required")
	case in.Source == nil || in.Source.Engine != dialect.MySQL:
		return apperr.InvalidConfig("source connection must be a mysql connection")
	case in.Warehouse == nil || in.Warehouse.Engine != dialect.StarRocks:
		return apperr.InvalidConfig("warehouse connection must be a starrocks connection")
	}
	if err := in.Schema.Validate(); err != nil {
		return &apperr.ValidationError{Message: "invalid table schema", Err: err}
	}
	for _, ident := range []string{in.Schema.SourceDatabase, in.Schema.SourceTable} {
		if err := dialect.MySQL.CheckIdent(ident); err != nil {
			return err
		}
	}
	return nil
}

func mapColumns(schema *models.TableSchema) ([]column, error) {
	cols := make([]column, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		it, err := typemap.MapSourceToIntermediate(c.SourceType, c.Precision, c.Scale, c.MaxLength)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		wt, err := typemap.MapIntermediateToWarehouse(it)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		cols = append(cols, column{
			name:         c.Name,
			intermediate: it,
			warehouse:    wt,
			nullable:     c.Nullable,
			comment:      c.Comment,
		})
	}
	return cols, nil
}

func withClause(b *strings.Builder, params [][2]string) {
	b.WriteString(" WITH (\n")
	for i, p := range params {
		fmt.Fprintf(b, "  %s = %s", p[0], p[1])
		if i < len(params)-1 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	b.WriteString(")")
}

func (g *Generator) createSource(names rwNames, in Input) string {
	lit := dialect.RisingWave.QuoteLiteral
	src := in.Source
	serverID := ReplicationClientID(src.ID, in.TargetDatabase, in.TargetTable)

	var b strings.Builder
	b.WriteString("CREATE SOURCE IF NOT EXISTS " + names.source)
	withClause(&b, [][2]string{
		{"connector", lit("mysql-cdc")},
		{"hostname", lit(src.Host)},
		{"port", lit(strconv.Itoa(src.Port))},
		{"username", lit(src.Username)},
		{"password", "SECRET " + names.sourceSecret},
		{"database.name", lit(in.Schema.SourceDatabase)},
		{"server.id", lit(strconv.FormatUint(uint64(serverID), 10))},
	})
	return b.String()
}

func (g *Generator) createIntermediateTable(names rwNames, cols []column, in Input) (string, error) {
	rw := dialect.RisingWave
	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		q, err := rw.QuoteIdent(c.name)
		if err != nil {
			return "", err
		}
		defs = append(defs, "  "+q+" "+c.intermediate.String())
	}
	if len(in.Schema.PrimaryKeys) > 0 {
		pk, err := quoteList(rw, in.Schema.PrimaryKeys)
		if err != nil {
			return "", err
		}
		defs = append(defs, "  PRIMARY KEY ("+pk+")")
	}

	upstream := rw.QuoteLiteral(in.Schema.SourceDatabase + "." + in.Schema.SourceTable)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n) FROM %s TABLE %s",
		names.table, strings.Join(defs, ",\n"), names.source, upstream), nil
}

// createWarehouseTable orders key columns first, as StarRocks requires for
// both primary-key and duplicate-key tables.
func (g *Generator) createWarehouseTable(name string, cols []column, schema *models.TableSchema) (string, error) {
	sr := dialect.StarRocks
	keyModel := "PRIMARY KEY"
	keys := schema.PrimaryKeys
	if len(keys) == 0 {
		keyModel = "DUPLICATE KEY"
		keys = []string{cols[0].name}
	}
	isKey := make(map[string]bool, len(keys))
	for _, k := range keys {
		isKey[k] = true
	}

	byName := make(map[string]column, len(cols))
	for _, c := range cols {
		byName[c.name] = c
	}
	ordered := make([]column, 0, len(cols))
	for _, k := range keys {
		ordered = append(ordered, byName[k])
	}
	for _, c := range cols {
		if !isKey[c.name] {
			ordered = append(ordered, c)
		}
	}

	defs := make([]string, 0, len(ordered))
	for _, c := range ordered {
		q, err := sr.QuoteIdent(c.name)
		if err != nil {
			return "", err
		}
		null := " NULL"
		if (isKey[c.name] && len(schema.PrimaryKeys) > 0) || !c.nullable {
			null = " NOT NULL"
		}
		def := "  " + q + " " + c.warehouse.String() + null
		if c.comment != nil && *c.comment != "" {
			def += " COMMENT " + sr.QuoteLiteral(*c.comment)
		}
		defs = append(defs, def)
	}

	keyList, err := quoteList(sr, keys)
	if err != nil {
		return "", err
	}
	hashCol, err := sr.QuoteIdent(keys[0])
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n%s\n) ENGINE=OLAP\n", name, strings.Join(defs, ",\n"))
	fmt.Fprintf(&b, "%s(%s)\n", keyModel, keyList)
	fmt.Fprintf(&b, "DISTRIBUTED BY HASH(%s) BUCKETS %d\n", hashCol, g.cfg.Buckets)
	fmt.Fprintf(&b, "PROPERTIES (\n  \"replication_num\" = \"%d\"\n)", g.cfg.ReplicationNum)
	return b.String(), nil
}

// createSink exports the intermediate table. Zoned timestamps are cast to
// TIMESTAMP since StarRocks DATETIME carries no zone.
func (g *Generator) createSink(names rwNames, cols []column, in Input) (string, error) {
	rw := dialect.RisingWave
	lit := rw.QuoteLiteral
	wh := in.Warehouse
	httpPort := wh.HTTPPort
	if httpPort <= 0 {
		httpPort = g.cfg.DefaultHTTPPort
	}

	params := [][2]string{
		{"connector", lit("starrocks")},
		{"starrocks.host", lit(wh.Host)},
		{"starrocks.mysqlport", lit(strconv.Itoa(wh.Port))},
		{"starrocks.httpport", lit(strconv.Itoa(httpPort))},
		{"starrocks.user", lit(wh.Username)},
		{"starrocks.password", "SECRET " + names.sinkSecret},
		{"starrocks.database", lit(in.TargetDatabase)},
		{"starrocks.table", lit(in.TargetTable)},
	}
	if pks := in.Schema.PrimaryKeys; len(pks) > 0 {
		params = append(params,
			[2]string{"type", lit("upsert")},
			[2]string{"primary_key", lit(strings.Join(pks, ","))},
		)
	} else {
		params = append(params,
			[2]string{"type", lit("append-only")},
			[2]string{"force_append_only", lit("true")},
		)
	}

	var b strings.Builder
	b.WriteString("CREATE SINK IF NOT EXISTS " + names.sink)

	needsCast := false
	selects := make([]string, 0, len(cols))
	for _, c := range cols {
		q, err := rw.QuoteIdent(c.name)
		if err != nil {
			return "", err
		}
		if c.intermediate.Name == "TIMESTAMPTZ" {
			needsCast = true
			q = q + "::TIMESTAMP AS " + q
		}
		selects = append(selects, q)
	}
	if needsCast {
		b.WriteString(" AS SELECT " + strings.Join(selects, ", ") + " FROM " + names.table)
	} else {
		b.WriteString(" FROM " + names.table)
	}
	withClause(&b, params)
	return b.String(), nil
}

func quoteList(d dialect.Dialect, names []string) (string, error) {
	out := make([]string, len(names))
	for i, n := range names {
		q, err := d.QuoteIdent(n)
		if err != nil {
			return "", err
		}
		out[i] = q
	}
	return strings.Join(out, ", "), nil
}

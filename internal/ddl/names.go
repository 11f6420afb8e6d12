package ddl

import (
	"math"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Step names, in the order they may appear in a plan.
const (
	StepCreateIntermediateSchema = "create_intermediate_schema"
	StepDropIntermediateTable    = "drop_intermediate_table"
	StepDropIntermediateSource   = "drop_intermediate_source"
	StepDropSourceSecret         = "drop_source_secret"
	StepDropSinkSecret           = "drop_sink_secret"
	StepCreateSourceSecret       = "create_source_secret"
	StepCreateIntermediateSrc    = "create_intermediate_source"
	StepCreateIntermediateTable  = "create_intermediate_table"
	StepCreateWarehouseDatabase  = "create_warehouse_database"
	StepDropWarehouseTable       = "drop_warehouse_table"
	StepTruncateWarehouseTable   = "truncate_warehouse_table"
	StepCreateWarehouseTable     = "create_warehouse_table"
	StepCreateSinkSecret         = "create_sink_secret"
	StepCreateSink               = "create_sink"
)

// replicationIDFloor keeps generated ids clear of the small server ids
// operators usually assign to real replicas by hand.
const replicationIDFloor = 10000

// ReplicationClientID derives the MySQL server.id the CDC source registers
// with. It depends only on the source config and the target table, so the
// same pipeline always reuses its id while distinct pipelines on one source
// spread over the 32-bit id space.
func ReplicationClientID(sourceConfigID int64, targetDatabase, targetTable string) uint32 {
	// the length prefix keeps ("a_b", "c") and ("a", "b_c") apart
	key := strconv.FormatInt(sourceConfigID, 10) + "/" +
		strconv.Itoa(len(targetDatabase)) + ":" + targetDatabase + "/" + targetTable
	h := xxh3.HashString(key)
	return replicationIDFloor + uint32(h%uint64(math.MaxUint32-replicationIDFloor))
}

// Prefixes of per-pipeline object names inside a schema. None is a prefix of
// another, so a name maps back to exactly one kind and target table.
const (
	schemaPrefix       = "ods_"
	sourcePrefix       = "src_"
	tablePrefix        = "tbl_"
	sinkPrefix         = "snk_"
	sourceSecretPrefix = "pwd_src_"
	sinkSecretPrefix   = "pwd_snk_"
)

// ObjectNames are the intermediate-engine objects owned by one pipeline.
// Every object lives in Schema, which is unique per warehouse database.
type ObjectNames struct {
	Schema       string
	Source       string
	Table        string
	Sink         string
	SourceSecret string
	SinkSecret   string
}

// NamesFor derives intermediate object names from the warehouse target.
// Distinct targets always yield distinct names.
func NamesFor(targetDatabase, targetTable string) ObjectNames {
	return ObjectNames{
		Schema:       schemaPrefix + targetDatabase,
		Source:       sourcePrefix + targetTable,
		Table:        tablePrefix + targetTable,
		Sink:         sinkPrefix + targetTable,
		SourceSecret: sourceSecretPrefix + targetTable,
		SinkSecret:   sinkSecretPrefix + targetTable,
	}
}

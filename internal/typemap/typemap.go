// Package typemap translates MySQL column types to RisingWave types and
// RisingWave types to StarRocks types. Both tables are fixed; an unknown
// type is an error rather than a silent fallback.
package typemap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
)

// IntermediateType is a RisingWave column type.
type IntermediateType struct {
	Name   string
	Params []int
}

func (t IntermediateType) String() string { return render(t.Name, t.Params) }

// WarehouseType is a StarRocks column type.
type WarehouseType struct {
	Name   string
	Params []int
}

func (t WarehouseType) String() string { return render(t.Name, t.Params) }

func render(name string, params []int) string {
	if len(params) == 0 {
		return name
	}
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = strconv.Itoa(p)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ","))
}

const (
	defaultDecimalPrecision = 10
	defaultDecimalScale     = 0
	enumWidth               = 255
	timeWidth               = 16
)

var typeExpr = regexp.MustCompile(`^([a-z][a-z ]*?)\s*(?:\(([^)]*)\))?((?:\s+(?:unsigned|signed|zerofill))*)$`)

type parsedType struct {
	base     string
	params   []int
	unsigned bool
}

// parse splits a declared type such as "int(11) unsigned" or
// "decimal(10, 2)". ENUM and SET value lists are not numeric and are
// discarded.
func parse(raw string) (parsedType, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.Join(strings.Fields(s), " ")
	if strings.HasPrefix(s, "enum(") {
		return parsedType{base: "enum"}, true
	}
	if strings.HasPrefix(s, "set(") {
		return parsedType{base: "set"}, true
	}
	m := typeExpr.FindStringSubmatch(s)
	if m == nil {
		return parsedType{}, false
	}
	p := parsedType{base: strings.TrimSpace(m[1]), unsigned: strings.Contains(m[3], "unsigned")}
	if m[2] != "" {
		for _, part := range strings.Split(m[2], ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return parsedType{}, false
			}
			p.params = append(p.params, n)
		}
	}
	return p, true
}

// MapSourceToIntermediate maps a MySQL column type to a RisingWave type.
// precision, scale and length are the catalog values and are used when the
// declared type carries no parameters of its own.
func MapSourceToIntermediate(sourceType string, precision, scale, length *int) (IntermediateType, error) {
	p, ok := parse(sourceType)
	if !ok {
		return IntermediateType{}, &apperr.UnsupportedTypeError{TypeName: sourceType}
	}

	switch p.base {
	case "tinyint":
		return IntermediateType{Name: "SMALLINT"}, nil
	case "smallint":
		if p.unsigned {
			return IntermediateType{Name: "INTEGER"}, nil
		}
		return IntermediateType{Name: "SMALLINT"}, nil
	case "mediumint":
		return IntermediateType{Name: "INTEGER"}, nil
	case "int", "integer":
		if p.unsigned {
			return IntermediateType{Name: "BIGINT"}, nil
		}
		return IntermediateType{Name: "INTEGER"}, nil
	case "bigint":
		if p.unsigned {
			return IntermediateType{Name: "DECIMAL", Params: []int{20, 0}}, nil
		}
		return IntermediateType{Name: "BIGINT"}, nil
	case "float", "real":
		return IntermediateType{Name: "REAL"}, nil
	case "double", "double precision":
		return IntermediateType{Name: "DOUBLE PRECISION"}, nil
	case "decimal", "numeric", "dec", "fixed":
		prec, sc := defaultDecimalPrecision, defaultDecimalScale
		switch {
		case len(p.params) >= 2:
			prec, sc = p.params[0], p.params[1]
		case len(p.params) == 1:
			prec = p.params[0]
		case precision != nil:
			prec = *precision
			if scale != nil {
				sc = *scale
			}
		}
		return IntermediateType{Name: "DECIMAL", Params: []int{prec, sc}}, nil
	case "char":
		return IntermediateType{Name: "CHAR", Params: lengthParam(p.params, length, 1)}, nil
	case "varchar":
		return IntermediateType{Name: "VARCHAR", Params: lengthParam(p.params, length, 0)}, nil
	case "tinytext", "text", "mediumtext", "longtext":
		return IntermediateType{Name: "TEXT"}, nil
	case "binary", "varbinary", "tinyblob", "blob", "mediumblob", "longblob":
		return IntermediateType{Name: "BYTEA"}, nil
	case "date":
		return IntermediateType{Name: "DATE"}, nil
	case "time":
		return IntermediateType{Name: "TIME"}, nil
	case "datetime":
		return IntermediateType{Name: "TIMESTAMP"}, nil
	case "timestamp":
		// MySQL CDC delivers TIMESTAMP columns zoned.
		return IntermediateType{Name: "TIMESTAMPTZ"}, nil
	case "year":
		return IntermediateType{Name: "SMALLINT"}, nil
	case "json":
		return IntermediateType{Name: "JSONB"}, nil
	case "bool", "boolean":
		return IntermediateType{Name: "BOOLEAN"}, nil
	case "bit":
		width := 1
		switch {
		case len(p.params) > 0:
			width = p.params[0]
		case precision != nil:
			width = *precision
		}
		if width > 1 {
			return IntermediateType{Name: "BYTEA"}, nil
		}
		return IntermediateType{Name: "BOOLEAN"}, nil
	case "enum":
		return IntermediateType{Name: "VARCHAR", Params: []int{enumWidth}}, nil
	case "set":
		return IntermediateType{Name: "TEXT"}, nil
	}
	return IntermediateType{}, &apperr.UnsupportedTypeError{TypeName: sourceType}
}

func lengthParam(declared []int, catalog *int, fallback int) []int {
	switch {
	case len(declared) > 0:
		return declared[:1]
	case catalog != nil && *catalog > 0:
		return []int{*catalog}
	case fallback > 0:
		return []int{fallback}
	}
	return nil
}

// MapIntermediateToWarehouse maps a RisingWave type to a StarRocks type.
func MapIntermediateToWarehouse(t IntermediateType) (WarehouseType, error) {
	switch strings.ToUpper(t.Name) {
	case "SMALLINT":
		return WarehouseType{Name: "SMALLINT"}, nil
	case "INTEGER", "INT":
		return WarehouseType{Name: "INT"}, nil
	case "BIGINT":
		return WarehouseType{Name: "BIGINT"}, nil
	case "REAL", "FLOAT4":
		return WarehouseType{Name: "FLOAT"}, nil
	case "DOUBLE PRECISION", "FLOAT8":
		return WarehouseType{Name: "DOUBLE"}, nil
	case "DECIMAL", "NUMERIC":
		switch len(t.Params) {
		case 2:
			return WarehouseType{Name: "DECIMAL", Params: t.Params}, nil
		case 1:
			return WarehouseType{Name: "DECIMAL", Params: []int{t.Params[0], 0}}, nil
		}
		return WarehouseType{Name: "DECIMAL", Params: []int{defaultDecimalPrecision, defaultDecimalScale}}, nil
	case "CHAR":
		return WarehouseType{Name: "CHAR", Params: t.Params}, nil
	case "VARCHAR":
		if len(t.Params) == 0 {
			return WarehouseType{Name: "STRING"}, nil
		}
		return WarehouseType{Name: "VARCHAR", Params: t.Params}, nil
	case "TEXT":
		return WarehouseType{Name: "STRING"}, nil
	case "BYTEA":
		return WarehouseType{Name: "VARBINARY"}, nil
	case "DATE":
		return WarehouseType{Name: "DATE"}, nil
	case "TIME":
		return WarehouseType{Name: "VARCHAR", Params: []int{timeWidth}}, nil
	case "TIMESTAMP", "TIMESTAMPTZ":
		return WarehouseType{Name: "DATETIME"}, nil
	case "JSON", "JSONB":
		return WarehouseType{Name: "JSON"}, nil
	case "BOOLEAN":
		return WarehouseType{Name: "BOOLEAN"}, nil
	}
	return WarehouseType{}, &apperr.UnsupportedTypeError{TypeName: t.String()}
}

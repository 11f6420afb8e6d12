// Package dialect models the three SQL dialects the pipeline talks to and
// owns identifier and literal quoting for each of them.
//
// The set is closed: MySQL is the change-data-capture source, RisingWave the
// streaming intermediate engine and StarRocks the warehouse. Adding a fourth
// engine is a code change here, not a runtime registration.
package dialect

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
)

// Dialect identifies one of the supported engines.
type Dialect uint8

const (
	MySQL Dialect = iota + 1
	RisingWave
	StarRocks
)

// Terminator is the statement terminator shared by all three dialects.
const Terminator = ';'

var names = map[Dialect]string{
	MySQL:      "mysql",
	RisingWave: "risingwave",
	StarRocks:  "starrocks",
}

// Parse resolves an engine name (case-insensitive) to a Dialect.
func Parse(s string) (Dialect, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for d, name := range names {
		if name == needle {
			return d, nil
		}
	}
	return 0, apperr.InvalidConfig("unknown engine %q", s)
}

func (d Dialect) String() string {
	if name, ok := names[d]; ok {
		return name
	}
	return fmt.Sprintf("dialect(%d)", uint8(d))
}

// Valid reports whether d is one of the declared dialects.
func (d Dialect) Valid() bool {
	_, ok := names[d]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (d Dialect) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid dialect %d", uint8(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Dialect) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// CheckIdent rejects names that cannot be quoted safely. A name containing
// the statement terminator is refused outright even though quoting would
// neutralise it: identifiers come from user input and the generated text is
// also shown to operators.
func (d Dialect) CheckIdent(name string) error {
	switch {
	case name == "":
		return &apperr.InvalidIdentifierError{Name: name, Dialect: d.String(), Reason: "empty name"}
	case strings.ContainsRune(name, Terminator):
		return &apperr.InvalidIdentifierError{Name: name, Dialect: d.String(), Reason: "contains statement terminator"}
	case strings.ContainsRune(name, 0):
		return &apperr.InvalidIdentifierError{Name: name, Dialect: d.String(), Reason: "contains NUL byte"}
	}
	return nil
}

// QuoteIdent validates and quotes a single identifier.
func (d Dialect) QuoteIdent(name string) (string, error) {
	if err := d.CheckIdent(name); err != nil {
		return "", err
	}
	switch d {
	case RisingWave:
		return pgx.Identifier{name}.Sanitize(), nil
	case MySQL, StarRocks:
		return "`" + strings.ReplaceAll(name, "`", "``") + "`", nil
	default:
		return "", fmt.Errorf("quote identifier: %s", d)
	}
}

// QuoteQualified quotes each part and joins them with dots.
func (d Dialect) QuoteQualified(parts ...string) (string, error) {
	quoted := make([]string, 0, len(parts))
	for _, p := range parts {
		q, err := d.QuoteIdent(p)
		if err != nil {
			return "", err
		}
		quoted = append(quoted, q)
	}
	return strings.Join(quoted, "."), nil
}

// QuoteLiteral renders s as a string literal.
func (d Dialect) QuoteLiteral(s string) string {
	switch d {
	case RisingWave:
		return strings.TrimSpace(pq.QuoteLiteral(s))
	default:
		r := strings.NewReplacer(`\`, `\\`, `'`, `''`)
		return "'" + r.Replace(s) + "'"
	}
}

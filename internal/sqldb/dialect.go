package sqldb

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Vendor names a supported database engine.
type Vendor string

const (
	Postgres Vendor = "postgres"
	MySQL    Vendor = "mysql"
	MariaDB  Vendor = "mariadb"
)

// ParseVendor maps a configuration string onto a Vendor.
func ParseVendor(s string) (Vendor, error) {
	switch v := Vendor(strings.ToLower(strings.TrimSpace(s))); v {
	case Postgres, MySQL, MariaDB:
		return v, nil
	case "postgresql", "pgsql":
		return Postgres, nil
	default:
		return "", fmt.Errorf("sqldb: unknown vendor %q", s)
	}
}

// Dialect captures the syntax differences between vendors.
type Dialect struct {
	vendor Vendor
}

func DialectFor(v Vendor) Dialect {
	return Dialect{vendor: v}
}

func (d Dialect) Vendor() Vendor { return d.vendor }

func (d Dialect) IsPostgres() bool { return d.vendor == Postgres }

// Builder returns a squirrel builder using the vendor's placeholder style.
func (d Dialect) Builder() sq.StatementBuilderType {
	if d.vendor == Postgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	if d.vendor == Postgres {
		return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
	}
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// Rebind rewrites ? placeholders to the vendor's format.
func (d Dialect) Rebind(query string) string {
	if d.vendor != Postgres {
		return query
	}
	out, err := sq.Dollar.ReplacePlaceholders(query)
	if err != nil {
		return query
	}
	return out
}

// RegexOperator is the infix operator matching a column against a pattern.
func (d Dialect) RegexOperator() string {
	if d.vendor == Postgres {
		return "~"
	}
	return "REGEXP"
}

package sqldb

import (
	"errors"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// Kind classifies driver errors the store reacts to.
type Kind int

const (
	KindOther Kind = iota
	KindDuplicate
	KindUndefinedTable
)

const (
	pgUniqueViolation  = "23505"
	pgUndefinedTable   = "42P01"
	myDuplicateEntry   = 1062
	myNoSuchTable      = 1146
	myUnknownTableDrop = 1051
)

// Classify inspects pgx, lib/pq and go-sql-driver/mysql errors.
func Classify(err error) Kind {
	if err == nil {
		return KindOther
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgKind(pgErr.Code)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgKind(string(pqErr.Code))
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case myDuplicateEntry:
			return KindDuplicate
		case myNoSuchTable, myUnknownTableDrop:
			return KindUndefinedTable
		}
	}
	return KindOther
}

func pgKind(code string) Kind {
	switch code {
	case pgUniqueViolation:
		return KindDuplicate
	case pgUndefinedTable:
		return KindUndefinedTable
	}
	return KindOther
}

// IsDuplicate reports a unique or primary key violation.
func IsDuplicate(err error) bool { return Classify(err) == KindDuplicate }

// IsUndefinedTable reports a missing table.
func IsUndefinedTable(err error) bool { return Classify(err) == KindUndefinedTable }

// Code returns the vendor error code (SQLSTATE or MySQL error number) and
// message, or empty strings for non-driver errors.
func Code(err error) (code, message string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.Message
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Message
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return strconv.Itoa(int(myErr.Number)), myErr.Message
	}
	return "", ""
}

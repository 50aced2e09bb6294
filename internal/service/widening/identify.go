// Package widening decides how to widen a column after a write failed on a
// type violation.
package widening

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"geotables/internal/domain"
)

// SQLSTATE codes treated as type violations.
const (
	codeInvalidTextRepresentation = "22P02"
	codeNumericValueOutOfRange    = "22003"
	codeStringDataRightTruncation = "22001"
	codeInvalidDatetimeFormat     = "22007"
	codeDatetimeFieldOverflow     = "22008"
	codeDatatypeMismatch          = "42804"
)

// TypeViolation returns the store error when err is a value/type mismatch.
func TypeViolation(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil, false
	}
	switch pgErr.Code {
	case codeInvalidTextRepresentation, codeNumericValueOutOfRange, codeStringDataRightTruncation,
		codeInvalidDatetimeFormat, codeDatetimeFieldOverflow, codeDatatypeMismatch:
		return pgErr, true
	}
	return nil, false
}

// ColumnIdentifier recovers the column responsible for a type violation from
// the store error and the attributes of the failed write.
type ColumnIdentifier interface {
	Identify(err *pgconn.PgError, attrs map[string]any, columns []domain.Column) (string, bool)
}

// MessageIdentifier parses PostgreSQL error messages. The offending value,
// when quoted in the message, is matched against the attributes; otherwise
// the type named in the message is matched against the attributes' columns.
type MessageIdentifier struct{}

var _ ColumnIdentifier = MessageIdentifier{}

var (
	invalidInputRe = regexp.MustCompile(`^invalid input syntax for (?:type )?([a-z ]+?): "(.*)"$`)
	outOfRangeRe   = regexp.MustCompile(`^value "(.*)" is out of range for type ([a-z ]+)$`)
	tooLongRe      = regexp.MustCompile(`^value too long for type ([a-z ]+)\((\d+)\)$`)
	typeRangeRe    = regexp.MustCompile(`^([a-z ]+) out of range$`)
	fieldRangeRe   = regexp.MustCompile(`^date/time field value out of range: "(.*)"$`)
	mismatchRe     = regexp.MustCompile(`^column "([^"]+)" is of type`)
	numericOvfRe   = regexp.MustCompile(`^numeric field overflow$`)
)

// Identify implements ColumnIdentifier.
func (MessageIdentifier) Identify(err *pgconn.PgError, attrs map[string]any, columns []domain.Column) (string, bool) {
	msg := strings.TrimSpace(err.Message)

	var (
		typeName string
		value    *string
		maxLen   = -1
	)
	switch {
	case invalidInputRe.MatchString(msg):
		m := invalidInputRe.FindStringSubmatch(msg)
		typeName, value = m[1], &m[2]
	case outOfRangeRe.MatchString(msg):
		m := outOfRangeRe.FindStringSubmatch(msg)
		typeName, value = m[2], &m[1]
	case tooLongRe.MatchString(msg):
		m := tooLongRe.FindStringSubmatch(msg)
		typeName = m[1]
		maxLen, _ = strconv.Atoi(m[2])
	case typeRangeRe.MatchString(msg):
		typeName = typeRangeRe.FindStringSubmatch(msg)[1]
	case fieldRangeRe.MatchString(msg):
		value = &fieldRangeRe.FindStringSubmatch(msg)[1]
	case numericOvfRe.MatchString(msg):
		if name, ok := overflowColumn(attrs, columns); ok {
			return name, true
		}
	case mismatchRe.MatchString(msg):
		if name := mismatchRe.FindStringSubmatch(msg)[1]; hasAttr(attrs, name) {
			return name, true
		}
	}

	candidates := attrColumns(attrs, columns, typeName)
	if value != nil {
		if name, ok := matchValue(attrs, candidates, *value); ok {
			return name, true
		}
		if name, ok := matchValue(attrs, attrColumns(attrs, columns, ""), *value); ok {
			return name, true
		}
	}
	if maxLen >= 0 {
		var long []string
		for _, c := range candidates {
			if s, ok := text(attrs[c.Name]); ok && len([]rune(s)) > maxLen {
				long = append(long, c.Name)
			}
		}
		if len(long) > 0 {
			return long[0], true
		}
	}
	if typeName != "" && len(candidates) > 0 {
		return candidates[0].Name, true
	}
	if err.ColumnName != "" && hasAttr(attrs, err.ColumnName) {
		return err.ColumnName, true
	}
	return "", false
}

// attrColumns returns the written columns, restricted to typeName when given,
// in name order.
func attrColumns(attrs map[string]any, columns []domain.Column, typeName string) []domain.Column {
	var out []domain.Column
	for _, c := range columns {
		if !hasAttr(attrs, c.Name) {
			continue
		}
		if typeName != "" && !strings.EqualFold(c.StorageType, typeName) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// overflowColumn picks the written column behind a numeric(p,s) overflow:
// a numeric column if one was written, else a number column not yet widened.
func overflowColumn(attrs map[string]any, columns []domain.Column) (string, bool) {
	if numeric := attrColumns(attrs, columns, "numeric"); len(numeric) > 0 {
		return numeric[0].Name, true
	}
	for _, c := range attrColumns(attrs, columns, "") {
		if c.Type == domain.TypeNumber && !strings.EqualFold(c.StorageType, NumberWideType) {
			return c.Name, true
		}
	}
	return "", false
}

func matchValue(attrs map[string]any, candidates []domain.Column, value string) (string, bool) {
	for _, c := range candidates {
		if s, ok := text(attrs[c.Name]); ok && s == value {
			return c.Name, true
		}
	}
	return "", false
}

func text(v any) (string, bool) {
	t, err := domain.TextValue(v)
	if err != nil || t == nil {
		return "", false
	}
	s, ok := t.(string)
	return s, ok
}

func hasAttr(attrs map[string]any, name string) bool {
	_, ok := attrs[name]
	return ok
}

package widening

import (
	"strings"

	"geotables/internal/domain"
)

// Storage types columns widen into.
const (
	NumberWideType = "double precision"
	StringWideType = "text"
)

// Widening is a column type change that lets a failed write succeed.
type Widening struct {
	Column string
	From   string
	To     string
}

// WiderType returns the unconstrained storage type a semantic type widens to.
func WiderType(t domain.SemanticType) (string, bool) {
	switch t {
	case domain.TypeNumber:
		return NumberWideType, true
	case domain.TypeString:
		return StringWideType, true
	default:
		return "", false
	}
}

// Resolver maps store type violations to widenings.
type Resolver struct {
	identifier ColumnIdentifier
}

// NewResolver creates a Resolver. A nil identifier uses MessageIdentifier.
func NewResolver(identifier ColumnIdentifier) *Resolver {
	if identifier == nil {
		identifier = MessageIdentifier{}
	}
	return &Resolver{identifier: identifier}
}

// Resolve returns the widening that addresses err. Errors that are not type
// violations come back unchanged; violations without a widening path yield
// NoWideningAvailableError.
func (r *Resolver) Resolve(err error, attrs map[string]any, columns []domain.Column) (*Widening, error) {
	pgErr, ok := TypeViolation(err)
	if !ok {
		return nil, err
	}
	name, ok := r.identifier.Identify(pgErr, attrs, columns)
	if !ok {
		return nil, &domain.NoWideningAvailableError{Reason: "offending column not identified", Cause: err}
	}
	col, ok := domain.FindColumn(columns, name)
	if !ok {
		return nil, &domain.NoWideningAvailableError{Column: name, Reason: "column not in schema", Cause: err}
	}
	to, ok := WiderType(col.Type)
	if !ok {
		return nil, &domain.NoWideningAvailableError{Column: name, Reason: "no wider type for " + string(col.Type), Cause: err}
	}
	if strings.EqualFold(col.StorageType, to) {
		return nil, &domain.NoWideningAvailableError{Column: name, Reason: "already " + to, Cause: err}
	}
	return &Widening{Column: name, From: col.StorageType, To: to}, nil
}

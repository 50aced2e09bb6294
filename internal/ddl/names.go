package ddl

import (
	"regexp"
	"strconv"
	"strings"

	"geotables/internal/domain"
)

var (
	nonIdentifierChars = regexp.MustCompile(`[^a-z0-9_]+`)
	repeatedUnderscore = regexp.MustCompile(`_{2,}`)
)

const defaultTableName = "untitled_table"

// Proposer implements domain.NameProposer.
type Proposer struct{}

var _ domain.NameProposer = Proposer{}

// Propose returns a legal, collision-free table name derived from candidate.
func (Proposer) Propose(candidate string, taken []string) string {
	return ProposeTableName(candidate, taken)
}

// ProposeTableName sanitizes candidate into a lowercase identifier and
// appends _1, _2, ... until it does not collide with taken.
func ProposeTableName(candidate string, taken []string) string {
	base := SanitizeTableName(candidate)

	used := make(map[string]bool, len(taken))
	for _, t := range taken {
		used[t] = true
	}
	if !used[base] {
		return base
	}
	for i := 1; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		name := truncate(base, maxIdentifierLen-len(suffix)) + suffix
		if !used[name] {
			return name
		}
	}
}

// SanitizeTableName lowercases name, replaces illegal characters with
// underscores, and moves names off digits and reserved words.
func SanitizeTableName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = nonIdentifierChars.ReplaceAllString(s, "_")
	s = repeatedUnderscore.ReplaceAllString(s, "_")
	s = strings.TrimRight(s, "_")
	if s == "" || s == "_" {
		return defaultTableName
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "table_" + s
	}
	if IsReservedWord(s) {
		s += "_t"
	}
	return truncate(s, maxIdentifierLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// OverviewName returns the name an overview relation takes when its base
// table is renamed from oldTable to newTable. Overviews are named
// _vovw_<zoom>_<table>; names that do not end in the old table name are
// returned unchanged.
func OverviewName(overview, oldTable, newTable string) string {
	suffix := "_" + oldTable
	if !strings.HasSuffix(overview, suffix) {
		return overview
	}
	return truncate(strings.TrimSuffix(overview, suffix)+"_"+newTable, maxIdentifierLen)
}

// TemporaryTableName returns a unique, unreserved intermediate name for a
// two-step rename.
func TemporaryTableName() string {
	return "t_" + strings.ReplaceAll(domain.NewID(), "-", "")
}

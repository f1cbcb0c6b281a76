package core

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxIdentifierLength is the longest accepted identifier, in bytes. It is
// the Postgres limit and fits every supported backend.
const MaxIdentifierLength = 63

// identifierPattern is the allow-list for every name used in a statement:
// letters, digits and underscore, not starting with a digit.
var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks one identifier against the allow-list. role
// names what the identifier is ("table", "schema", "column") for the error.
func ValidateIdentifier(role, name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%s name is empty", role)
	case len(name) > MaxIdentifierLength:
		return fmt.Errorf("%s name %q is longer than %d bytes", role, name, MaxIdentifierLength)
	case !identifierPattern.MatchString(name):
		return fmt.Errorf("%s name %q may only contain letters, digits and underscores and must not start with a digit", role, name)
	}
	return nil
}

// ValidateTable checks both parts of a table identifier.
func ValidateTable(t TableIdentifier) error {
	if err := ValidateIdentifier("schema", t.Schema); err != nil {
		return err
	}
	return ValidateIdentifier("table", t.Name)
}

// ValidateColumns checks every header-derived column name and rejects
// duplicates. Names are compared case-insensitively because several
// backends fold identifier case.
func ValidateColumns(cols ColumnSpec) (string, error) {
	if len(cols) == 0 {
		return "", fmt.Errorf("header has no columns")
	}
	seen := make(map[string]int, len(cols))
	for i, c := range cols {
		if err := ValidateIdentifier("column", c); err != nil {
			return c, fmt.Errorf("column %d: %w", i+1, err)
		}
		key := strings.ToLower(c)
		if first, ok := seen[key]; ok {
			return c, fmt.Errorf("duplicate column %q at positions %d and %d", c, first+1, i+1)
		}
		seen[key] = i
	}
	return "", nil
}

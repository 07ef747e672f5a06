package fixture

import (
	"fmt"
	"strings"
)

// TableName returns the name of the i-th customers table
func TableName(i int) string {
	return fmt.Sprintf("customers_%d", i)
}

// quoteIdent brackets a SQL Server identifier
func quoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

package warehouse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type FieldType string

const (
	FieldString  FieldType = "STRING"
	FieldInteger FieldType = "INTEGER"
	FieldFloat   FieldType = "FLOAT"
	FieldBool    FieldType = "BOOLEAN"
	FieldDate    FieldType = "DATE"
)

type Field struct {
	Name string
	Type FieldType
}

// Schema is an ordered sequence of columns. nil means autodetect.
type Schema []Field

// TransactionSchema is the fixed business shape of the transaction history
// feed, for deployments where the destination table must not drift with the
// input files.
func TransactionSchema() Schema {
	return Schema{
		{Name: "transaction_id", Type: FieldString},
		{Name: "customer_id", Type: FieldString},
		{Name: "store_id", Type: FieldString},
		{Name: "purchase_date", Type: FieldDate},
		{Name: "purchase_amount", Type: FieldFloat},
		{Name: "paid_with_credit_card", Type: FieldBool},
		{Name: "paid_with_gift_card", Type: FieldBool},
		{Name: "gift_card_purchase_date", Type: FieldDate},
		{Name: "nb_gift_card_used", Type: FieldInteger},
	}
}

var nonIdentifierChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

func columnName(header string, position int) string {
	name := nonIdentifierChars.ReplaceAllString(strings.TrimSpace(header), "_")
	name = strings.Trim(name, "_")
	if name == "" {
		return fmt.Sprintf("column_%d", position)
	}
	return strings.ToLower(name)
}

// InferSchema detects column types from the header and a sample of data
// rows, the way the warehouse's native autodetect would: a column is typed
// by the narrowest type every non-null sample value fits.
func InferSchema(header []string, samples [][]string) Schema {
	schema := make(Schema, len(header))
	used := make(map[string]bool, len(header))

	for i, name := range header {
		column := columnName(name, i)
		// Duplicate headers, or distinct headers that sanitize to the same
		// identifier, get a positional suffix so the destination table stays
		// creatable.
		if used[column] {
			column = fmt.Sprintf("%s_%d", column, i)
		}
		used[column] = true
		schema[i] = Field{Name: column, Type: inferColumnType(i, samples)}
	}

	return schema
}

func inferColumnType(column int, samples [][]string) FieldType {
	seen := false
	candidate := FieldType("")

	for _, row := range samples {
		if column >= len(row) {
			continue
		}
		value := strings.TrimSpace(row[column])
		if value == "" {
			continue
		}

		t := valueType(value)
		if !seen {
			candidate = t
			seen = true
			continue
		}
		candidate = widen(candidate, t)
	}

	if !seen {
		return FieldString
	}
	return candidate
}

func valueType(value string) FieldType {
	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return FieldInteger
	}
	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return FieldFloat
	}
	switch strings.ToLower(value) {
	case "true", "false":
		return FieldBool
	}
	if _, err := time.Parse("2006-01-02", value); err == nil {
		return FieldDate
	}
	return FieldString
}

func widen(a, b FieldType) FieldType {
	if a == b {
		return a
	}
	// Integers fit in a float column but not the other way around; every
	// other mix falls back to string.
	if (a == FieldInteger && b == FieldFloat) || (a == FieldFloat && b == FieldInteger) {
		return FieldFloat
	}
	return FieldString
}

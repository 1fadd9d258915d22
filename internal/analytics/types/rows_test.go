package types

import (
	"reflect"
	"testing"
)

func TestBillingEventSchemaCoversRowColumns(t *testing.T) {
	columns := map[string]bool{}
	for _, field := range BillingEventSchema() {
		if columns[field.Name] {
			t.Fatalf("duplicate column %q", field.Name)
		}
		columns[field.Name] = true
	}

	rowType := reflect.TypeOf(BillingEventRow{})
	for i := 0; i < rowType.NumField(); i++ {
		tag := rowType.Field(i).Tag.Get("bigquery")
		if !columns[tag] {
			t.Fatalf("row column %q missing from schema", tag)
		}
		delete(columns, tag)
	}
	if len(columns) != 0 {
		t.Fatalf("schema has columns the row never writes: %v", columns)
	}
}

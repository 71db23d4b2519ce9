package submission

import (
	"time"

	"github.com/devrev/sheetforms/internal/schema"
	"github.com/devrev/sheetforms/internal/storage"
)

// TimestampColumn is the first column of every stored row.
const TimestampColumn = "Date"

// TimestampLayout renders the submission time as UTC ISO-8601 with milliseconds.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// BuildRow maps a payload onto the schema. The row holds the timestamp
// followed by every schema field in order; payload keys outside the schema
// are dropped and absent fields are stored as "". A schema field named like
// the timestamp column is shadowed by it.
func BuildRow(fields []schema.FieldDescriptor, p Payload, at time.Time) storage.Row {
	row := make(storage.Row, 0, len(fields)+1)
	row = append(row, storage.Cell{
		Column: TimestampColumn,
		Value:  at.UTC().Format(TimestampLayout),
	})

	for _, f := range fields {
		if f.Name == TimestampColumn {
			continue
		}
		v, _ := p.Lookup(f.Name)
		row = append(row, storage.Cell{Column: f.Name, Value: v})
	}
	return row
}

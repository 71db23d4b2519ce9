package storage_test

import (
	"context"
	"testing"

	"github.com/devrev/sheetforms/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryOpener_OpenUnknownDocument(t *testing.T) {
	m := storage.NewMemoryOpener()

	_, err := m.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrDocumentNotFound)
}

func TestMemoryOpener_SourcesAndRows(t *testing.T) {
	m := storage.NewMemoryOpener()
	m.AddSource("doc", "Leads", []string{"Date", "Name"})
	m.AddSource("doc", "FormDefinition", []string{"Field", "Type"},
		[]string{"Name", "text"},
		[]string{"Email"},
	)

	doc, err := m.Open(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, "doc", doc.ID())
	require.Len(t, doc.Sources(), 2)

	info, ok := storage.Find(doc, storage.Named("FormDefinition"))
	require.True(t, ok)
	assert.Equal(t, 1, info.Index)

	info, ok = storage.Find(doc, storage.At(0))
	require.True(t, ok)
	assert.Equal(t, "Leads", info.Title)

	_, ok = storage.Find(doc, storage.At(2))
	assert.False(t, ok)

	records, err := doc.Rows(context.Background(), storage.Named("FormDefinition"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, storage.Record{"Field": "Name", "Type": "text"}, records[0])
	assert.Equal(t, storage.Record{"Field": "Email", "Type": ""}, records[1])

	_, err = doc.Rows(context.Background(), storage.Named("Nope"))
	assert.ErrorIs(t, err, storage.ErrSourceNotFound)
}

func TestMemoryOpener_AppendRowExtendsHeader(t *testing.T) {
	m := storage.NewMemoryOpener()
	m.AddSource("doc", "Leads", []string{"Date", "Name", "Notes"})

	doc, err := m.Open(context.Background(), "doc")
	require.NoError(t, err)

	err = doc.AppendRow(context.Background(), storage.At(0), storage.Row{
		{Column: "Date", Value: "2026-01-02T03:04:05.000Z"},
		{Column: "Name", Value: "Ada"},
		{Column: "Email", Value: "ada@x.com"},
	})
	require.NoError(t, err)

	records, err := doc.Rows(context.Background(), storage.At(0))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, storage.Record{
		"Date":  "2026-01-02T03:04:05.000Z",
		"Name":  "Ada",
		"Notes": "",
		"Email": "ada@x.com",
	}, records[0])
}

func TestMemoryOpener_LoadSeed(t *testing.T) {
	seed := `documents:
  sheet-acme:
    - title: Leads
      header: [Date, Name, Email]
    - title: FormDefinition
      header: [Field, Mandatory]
      rows:
        - [Name, "true"]
        - [Email]
`
	m := storage.NewMemoryOpener()
	require.NoError(t, m.LoadSeed([]byte(seed)))

	doc, err := m.Open(context.Background(), "sheet-acme")
	require.NoError(t, err)

	records, err := doc.Rows(context.Background(), storage.Named("FormDefinition"))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "true", records[0]["Mandatory"])
	assert.Equal(t, "", records[1]["Mandatory"])
}

func TestRow_Helpers(t *testing.T) {
	row := storage.Row{{Column: "A", Value: "1"}, {Column: "B", Value: "2"}}

	assert.Equal(t, []string{"A", "B"}, row.Columns())
	assert.Equal(t, "2", row.Get("B"))
	assert.Equal(t, "", row.Get("C"))
	assert.Equal(t, map[string]string{"A": "1", "B": "2"}, row.Map())
}

package storage

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// MemoryOpener keeps documents in process memory. It backs local development
// runs and tests.
type MemoryOpener struct {
	mu   sync.RWMutex
	docs map[string][]*memorySource
}

type memorySource struct {
	title  string
	header []string
	rows   [][]string
}

// NewMemoryOpener creates an empty in-memory store.
func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{docs: make(map[string][]*memorySource)}
}

// AddSource appends a tab to a document, creating the document if needed.
func (m *MemoryOpener) AddSource(location, title string, header []string, rows ...[]string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src := &memorySource{title: title, header: append([]string(nil), header...)}
	for _, r := range rows {
		src.rows = append(src.rows, append([]string(nil), r...))
	}
	m.docs[location] = append(m.docs[location], src)
}

type seedFile struct {
	Documents map[string][]struct {
		Title  string     `yaml:"title"`
		Header []string   `yaml:"header"`
		Rows   [][]string `yaml:"rows"`
	} `yaml:"documents"`
}

// LoadSeedFile populates the store from a YAML seed file.
func (m *MemoryOpener) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	return m.LoadSeed(data)
}

// LoadSeed populates the store from YAML seed data.
func (m *MemoryOpener) LoadSeed(data []byte) error {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	for location, tabs := range seed.Documents {
		for _, tab := range tabs {
			m.AddSource(location, tab.Title, tab.Header, tab.Rows...)
		}
	}
	return nil
}

// Open implements Opener.
func (m *MemoryOpener) Open(ctx context.Context, location string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tabs, ok := m.docs[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, location)
	}

	sources := make([]SourceInfo, len(tabs))
	for i, t := range tabs {
		sources[i] = SourceInfo{ID: int64(i), Title: t.title, Index: i}
	}
	return &memoryDocument{opener: m, location: location, sources: sources}, nil
}

// Ping implements Opener.
func (m *MemoryOpener) Ping(ctx context.Context) error {
	return nil
}

type memoryDocument struct {
	opener   *MemoryOpener
	location string
	sources  []SourceInfo
}

func (d *memoryDocument) ID() string {
	return d.location
}

func (d *memoryDocument) Sources() []SourceInfo {
	return d.sources
}

func (d *memoryDocument) source(src Source) (*memorySource, error) {
	info, ok := findSource(d.sources, src)
	if !ok {
		return nil, ErrSourceNotFound
	}
	return d.opener.docs[d.location][info.Index], nil
}

func (d *memoryDocument) Rows(ctx context.Context, src Source) ([]Record, error) {
	d.opener.mu.RLock()
	defer d.opener.mu.RUnlock()

	s, err := d.source(src)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(s.rows))
	for _, row := range s.rows {
		records = append(records, toRecord(s.header, row))
	}
	return records, nil
}

func (d *memoryDocument) AppendRow(ctx context.Context, src Source, row Row) error {
	d.opener.mu.Lock()
	defer d.opener.mu.Unlock()

	s, err := d.source(src)
	if err != nil {
		return err
	}

	s.header, _ = mergeHeader(s.header, row)
	s.rows = append(s.rows, alignRow(s.header, row))
	return nil
}

func toRecord(header, row []string) Record {
	rec := make(Record, len(header))
	for i, h := range header {
		if h == "" {
			continue
		}
		if i < len(row) {
			rec[h] = row[i]
		} else {
			rec[h] = ""
		}
	}
	return rec
}

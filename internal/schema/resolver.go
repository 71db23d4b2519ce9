package schema

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/sheetforms/internal/storage"
	"github.com/devrev/sheetforms/internal/tenant"
	"go.uber.org/zap"
)

// DefinitionTab is the preferred title of the tab holding the form definition.
const DefinitionTab = "FormDefinition"

// fallbackIndex is the tab position used when no tab carries DefinitionTab.
const fallbackIndex = 1

// ErrSchemaUnavailable is returned when the storage location has no
// definition tab.
var ErrSchemaUnavailable = errors.New("no FormDefinition sheet found")

// Resolver reads field definitions. Nothing is cached: every call reflects
// the current content of the definition tab.
type Resolver struct {
	opener storage.Opener
	logger *zap.Logger
}

// NewResolver creates a new Resolver.
func NewResolver(opener storage.Opener, logger *zap.Logger) *Resolver {
	return &Resolver{opener: opener, logger: logger}
}

// Resolve opens the project's storage location and returns its fields.
func (r *Resolver) Resolve(ctx context.Context, t tenant.Config) ([]FieldDescriptor, error) {
	doc, err := r.opener.Open(ctx, t.SheetID)
	if err != nil {
		return nil, fmt.Errorf("open storage for %q: %w", t.Key, err)
	}
	return r.ResolveDocument(ctx, doc)
}

// ResolveDocument returns the fields defined in an already opened document,
// in definition row order.
func (r *Resolver) ResolveDocument(ctx context.Context, doc storage.Document) ([]FieldDescriptor, error) {
	src, ok := storage.Find(doc, storage.Named(DefinitionTab))
	if !ok {
		src, ok = storage.Find(doc, storage.At(fallbackIndex))
	}
	if !ok {
		return nil, ErrSchemaUnavailable
	}

	records, err := doc.Rows(ctx, storage.At(src.Index))
	if err != nil {
		return nil, fmt.Errorf("read definition tab %q: %w", src.Title, err)
	}

	fields := make([]FieldDescriptor, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		f := FromRecord(rec)
		if f.Name == "" {
			continue
		}
		if _, dup := seen[f.Name]; dup {
			r.logger.Warn("duplicate field in form definition, keeping the first",
				zap.String("document", doc.ID()),
				zap.String("field", f.Name),
				zap.Int("row", i+2),
			)
			continue
		}
		seen[f.Name] = struct{}{}
		fields = append(fields, f)
	}
	return fields, nil
}

package storage

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsConfig holds the service account used to reach Google Sheets.
type SheetsConfig struct {
	ServiceAccountEmail string
	// PrivateKey is either a PEM block (with literal \n escapes allowed) or
	// the base64 encoding of one.
	PrivateKey string
	Timeout    time.Duration
	// Endpoint overrides the API base URL.
	Endpoint string
}

// SheetsOpener opens Google spreadsheets by spreadsheet ID.
type SheetsOpener struct {
	svc    *sheets.Service
	logger *zap.Logger
}

// NewSheetsOpener authenticates with a service account JWT and creates the
// Sheets API client.
func NewSheetsOpener(ctx context.Context, cfg SheetsConfig, logger *zap.Logger) (*SheetsOpener, error) {
	if cfg.ServiceAccountEmail == "" {
		return nil, errors.New("sheets: service account email is required")
	}
	key, err := DecodePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	jwtCfg := &jwt.Config{
		Email:      cfg.ServiceAccountEmail,
		PrivateKey: key,
		Scopes:     []string{sheets.SpreadsheetsScope},
		TokenURL:   google.JWTTokenURL,
	}
	httpClient := jwtCfg.Client(ctx)
	httpClient.Timeout = cfg.Timeout

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	return newSheetsOpener(ctx, logger, opts...)
}

func newSheetsOpener(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*SheetsOpener, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets: create service: %w", err)
	}
	return &SheetsOpener{svc: svc, logger: logger}, nil
}

// DecodePrivateKey accepts the key formats seen in deployment environments:
// raw PEM, PEM with escaped newlines, or base64 encoded PEM.
func DecodePrivateKey(raw string) ([]byte, error) {
	key := strings.TrimSpace(raw)
	if key == "" {
		return nil, errors.New("sheets: private key is required")
	}
	if !strings.Contains(key, "-----BEGIN") {
		decoded, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, fmt.Errorf("sheets: private key is neither PEM nor base64: %w", err)
		}
		key = string(decoded)
	}
	return []byte(strings.ReplaceAll(key, `\n`, "\n")), nil
}

// Open loads the tab list of a spreadsheet.
func (o *SheetsOpener) Open(ctx context.Context, location string) (Document, error) {
	ss, err := o.svc.Spreadsheets.Get(location).Fields("spreadsheetId,sheets.properties").Context(ctx).Do()
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, location)
		}
		return nil, fmt.Errorf("sheets: load spreadsheet info: %w", err)
	}

	sources := make([]SourceInfo, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		sources = append(sources, SourceInfo{
			ID:    sh.Properties.SheetId,
			Title: sh.Properties.Title,
			Index: int(sh.Properties.Index),
		})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Index < sources[j].Index })

	return &sheetsDocument{svc: o.svc, id: location, sources: sources, logger: o.logger}, nil
}

// Ping is a no-op: spreadsheets are only reachable per tenant.
func (o *SheetsOpener) Ping(ctx context.Context) error {
	return nil
}

type sheetsDocument struct {
	svc     *sheets.Service
	id      string
	sources []SourceInfo
	logger  *zap.Logger
}

func (d *sheetsDocument) ID() string {
	return d.id
}

func (d *sheetsDocument) Sources() []SourceInfo {
	return d.sources
}

func (d *sheetsDocument) Rows(ctx context.Context, src Source) ([]Record, error) {
	info, ok := findSource(d.sources, src)
	if !ok {
		return nil, ErrSourceNotFound
	}

	vr, err := d.svc.Spreadsheets.Values.Get(d.id, quoteTitle(info.Title)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("sheets: read %q: %w", info.Title, err)
	}
	if len(vr.Values) == 0 {
		return []Record{}, nil
	}

	header := cellsToStrings(vr.Values[0])
	records := make([]Record, 0, len(vr.Values)-1)
	for _, raw := range vr.Values[1:] {
		records = append(records, toRecord(header, cellsToStrings(raw)))
	}
	return records, nil
}

func (d *sheetsDocument) AppendRow(ctx context.Context, src Source, row Row) error {
	info, ok := findSource(d.sources, src)
	if !ok {
		return ErrSourceNotFound
	}
	title := quoteTitle(info.Title)

	headerRange, err := d.svc.Spreadsheets.Values.Get(d.id, title+"!1:1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: read header of %q: %w", info.Title, err)
	}
	var header []string
	if len(headerRange.Values) > 0 {
		header = cellsToStrings(headerRange.Values[0])
	}

	header, changed := mergeHeader(header, row)
	if changed {
		d.logger.Info("extending sheet header",
			zap.String("spreadsheet_id", d.id),
			zap.String("sheet", info.Title),
			zap.Strings("header", header),
		)
		_, err := d.svc.Spreadsheets.Values.Update(d.id, title+"!A1", &sheets.ValueRange{
			Values: [][]interface{}{stringsToCells(header)},
		}).ValueInputOption("RAW").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("sheets: write header of %q: %w", info.Title, err)
		}
	}

	// RAW keeps submitted text from being evaluated as formulas.
	_, err = d.svc.Spreadsheets.Values.Append(d.id, title, &sheets.ValueRange{
		Values: [][]interface{}{stringsToCells(alignRow(header, row))},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("sheets: append to %q: %w", info.Title, err)
	}
	return nil
}

// quoteTitle renders a tab title as an A1 range reference.
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

func cellsToStrings(cells []interface{}) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		if c == nil {
			continue
		}
		out[i] = strings.TrimSpace(fmt.Sprint(c))
	}
	return out
}

func stringsToCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusNotFound
}

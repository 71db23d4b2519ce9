package tenant_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/devrev/sheetforms/internal/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoad_ProjectConfig(t *testing.T) {
	raw := `{
		// production site
		"acme": {"sheetId": "sheet-acme", "emailTo": "ops@acme.test"},
		"globex": {"sheetId": "sheet-globex", "emailTo": "sales@globex.test", "emailFrom": "Globex <forms@globex.test>"},
	}`

	reg := tenant.Load(raw, "", zap.NewNop())
	require.Equal(t, 2, reg.Len())
	assert.Equal(t, []string{"acme", "globex"}, reg.Keys())

	cfg, err := reg.Resolve("acme")
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Key)
	assert.Equal(t, "sheet-acme", cfg.SheetID)
	assert.Equal(t, "ops@acme.test", cfg.EmailTo)

	cfg, err = reg.Resolve("globex")
	require.NoError(t, err)
	assert.Equal(t, "Globex <forms@globex.test>", cfg.EmailFrom)
}

func TestLoad_MalformedConfigYieldsEmptyRegistry(t *testing.T) {
	reg := tenant.Load(`{"acme": {"sheetId": `, "", zap.NewNop())

	assert.Equal(t, 0, reg.Len())
	_, err := reg.Resolve("acme")
	assert.ErrorIs(t, err, tenant.ErrUnknownTenant)
}

func TestLoad_DropsEntriesWithoutSheet(t *testing.T) {
	reg := tenant.Load(`{"acme": {"emailTo": "ops@acme.test"}, "ok": {"sheetId": "s"}}`, "", zap.NewNop())

	assert.Equal(t, []string{"ok"}, reg.Keys())
}

func TestLoad_TenantsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tenants.yaml")
	content := `version: 1
tenants:
  - key: acme
    sheet_id: sheet-acme
    email_to: ops@acme.test
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	reg := tenant.Load("", path, zap.NewNop())
	cfg, err := reg.Resolve("acme")
	require.NoError(t, err)
	assert.Equal(t, "sheet-acme", cfg.SheetID)
}

func TestLoad_InlineConfigWinsOverFile(t *testing.T) {
	reg := tenant.Load(`{"inline": {"sheetId": "s"}}`, "/does/not/exist.yaml", zap.NewNop())
	assert.Equal(t, []string{"inline"}, reg.Keys())
}

func TestLoad_MissingFileYieldsEmptyRegistry(t *testing.T) {
	reg := tenant.Load("", filepath.Join(t.TempDir(), "missing.yaml"), zap.NewNop())
	assert.Equal(t, 0, reg.Len())
}

func TestParseTenantsFile_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"wrong version", "version: 2\ntenants: []\n"},
		{"missing key", "version: 1\ntenants:\n  - sheet_id: s\n"},
		{"duplicate key", "version: 1\ntenants:\n  - key: a\n    sheet_id: s\n  - key: a\n    sheet_id: t\n"},
		{"not yaml", "version: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tenant.ParseTenantsFile([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestRegistry_Resolve(t *testing.T) {
	reg := tenant.NewRegistry(map[string]tenant.Config{
		"acme": {SheetID: "sheet-acme"},
	})

	t.Run("empty key", func(t *testing.T) {
		_, err := reg.Resolve("")
		assert.ErrorIs(t, err, tenant.ErrUnknownTenant)
	})

	t.Run("case sensitive", func(t *testing.T) {
		_, err := reg.Resolve("ACME")
		assert.ErrorIs(t, err, tenant.ErrUnknownTenant)
	})

	t.Run("concurrent reads", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				cfg, err := reg.Resolve("acme")
				assert.NoError(t, err)
				assert.Equal(t, "sheet-acme", cfg.SheetID)
			}()
		}
		wg.Wait()
	})
}

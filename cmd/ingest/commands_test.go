package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fineas-core/internal/domain/entity"
	"fineas-core/internal/usecase"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFields(t *testing.T) {
	fields, err := loadFields(writeFile(t, `{"CompanyDesc": "Acme Corp is a widget maker."}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"CompanyDesc": "Acme Corp is a widget maker."}, fields)

	for name, body := range map[string]string{
		"empty object": `{}`,
		"array":        `["a"]`,
		"non-string":   `{"Revenue": 12}`,
		"truncated":    `{"a": `,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := loadFields(writeFile(t, body))
			assert.Error(t, err)
		})
	}

	_, err = loadFields(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseDate(t *testing.T) {
	d, err := parseDate("2024-03-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC), d)

	_, err = parseDate("31/03/2024")
	assert.Error(t, err)

	today, err := parseDate("")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), today, time.Minute)
}

func TestPrintReportIsSorted(t *testing.T) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	printReport(cmd, "ACME", map[string]int{"Risk": 2, "CompanyDesc": 1})
	out := buf.String()
	assert.Contains(t, out, "Indexed ACME:")
	assert.Less(t, strings.Index(out, "CompanyDesc"), strings.Index(out, "Risk"))
}

func TestIngestCmdRequiresSourceKey(t *testing.T) {
	cmd := ingestCmd()
	cmd.SetArgs([]string{writeFile(t, `{"a": "b"}`)})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source-key")
}

func TestPrintQuote(t *testing.T) {
	var out, errOut bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)

	printQuote(cmd, &usecase.QuoteResult{
		Summary: entity.QuoteSummary{Ticker: "ACME", NewsSummary: "Shares rose.", CompanyDesc: "Widgets."},
		Failed:  []string{entity.CategoryTechnicalAnalysis},
		Indexed: &usecase.IngestReport{SourceKey: "ACME", Chunks: map[string]int{"CompanyDesc": 1, "NewsSummary": 1}},
	})
	text := out.String()
	assert.True(t, strings.HasPrefix(text, "# ACME\n"))
	assert.Less(t, strings.Index(text, "## CompanyDesc"), strings.Index(text, "## NewsSummary"))
	assert.Contains(t, text, "Indexed ACME:")
	assert.Contains(t, errOut.String(), "TechnicalAnalysis")
}

func TestQuoteCmdNeedsTicker(t *testing.T) {
	cmd := quoteCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}

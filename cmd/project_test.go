package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intel-cli/internal/model"
)

const projectYAML = `
id: ignored
name: Acme Billing
category: billing software
industry: fintech
keywords: [invoicing, dunning]
competitors:
  - Stripe Billing
  - Chargebee
regions: [US, EU]
monitoring: true
`

func newProjectTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "create"}
	addProjectFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func TestDecodeProject(t *testing.T) {
	p, err := decodeProject(strings.NewReader(projectYAML))
	require.NoError(t, err)
	assert.Empty(t, p.ID)
	assert.Equal(t, "Acme Billing", p.Name)
	assert.Equal(t, "fintech", p.Industry)
	assert.Equal(t, []string{"invoicing", "dunning"}, p.Keywords)
	assert.Equal(t, []string{"Stripe Billing", "Chargebee"}, p.Competitors)
	assert.Equal(t, []string{"US", "EU"}, p.Regions)
	assert.True(t, p.Monitoring)
}

func TestDecodeProject_Invalid(t *testing.T) {
	_, err := decodeProject(strings.NewReader("name: [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode project yaml")
}

func TestProjectFromFlags(t *testing.T) {
	cmd := newProjectTestCmd(t,
		"--name", "Acme Billing",
		"--industry", "fintech",
		"--competitors", "Stripe,Chargebee",
		"--monitoring",
	)
	p, err := projectFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "Acme Billing", p.Name)
	assert.Equal(t, "fintech", p.Industry)
	assert.Equal(t, []string{"Stripe", "Chargebee"}, p.Competitors)
	assert.Empty(t, p.Keywords)
	assert.True(t, p.Monitoring)
}

func TestProjectFromFlags_FileWithOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "project.yaml")
	require.NoError(t, os.WriteFile(path, []byte(projectYAML), 0o600))

	cmd := newProjectTestCmd(t, "--file", path, "--industry", "payments", "--monitoring=false")
	p, err := projectFromFlags(cmd)
	require.NoError(t, err)
	assert.Equal(t, "Acme Billing", p.Name)
	assert.Equal(t, "payments", p.Industry)
	assert.Equal(t, []string{"Stripe Billing", "Chargebee"}, p.Competitors)
	assert.False(t, p.Monitoring)
}

func TestProjectFromFlags_MissingFile(t *testing.T) {
	cmd := newProjectTestCmd(t, "--file", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := projectFromFlags(cmd)
	require.Error(t, err)
}

func TestFormatProjects(t *testing.T) {
	var buf bytes.Buffer
	formatProjects(&buf, []model.Project{{
		ID:          "7c9e6679-7425-40de-944b-e07fc1f90ae7",
		Name:        "Acme Billing",
		Industry:    "fintech",
		Competitors: []string{"Stripe", "Chargebee"},
		Monitoring:  true,
		CreatedAt:   time.Now(),
	}})
	out := buf.String()
	assert.Contains(t, out, "MONITORING")
	assert.Contains(t, out, "7c9e6679")
	assert.Contains(t, out, "Acme Billing")
	assert.Contains(t, out, "true")
}

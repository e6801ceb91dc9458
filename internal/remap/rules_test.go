package remap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules_Sections(t *testing.T) {
	rules, err := ParseRules([]byte(`
tagKeysToUpdate:
  Client: Customer
  Application: Project
  App: Project
tagValuesToUpdate:
  Internal: Mesh
`))

	require.NoError(t, err)
	assert.Equal(t, testKeyRules, rules.KeyRules)
	assert.Equal(t, ValueRules{"Internal": "Mesh"}, rules.ValueRules)
}

func TestParseRules_FlatMapping(t *testing.T) {
	rules, err := ParseRules([]byte(`
Client: Customer
Application: Project
App: Project
`))

	require.NoError(t, err)
	assert.Equal(t, testKeyRules, rules.KeyRules)
	assert.Empty(t, rules.ValueRules)
}

func TestParseRules_ValuesOnly(t *testing.T) {
	rules, err := ParseRules([]byte(`
tagValuesToUpdate:
  Internal: Mesh
  Old: ~
`))

	require.NoError(t, err)
	assert.Empty(t, rules.KeyRules)
	assert.Equal(t, ValueRules{"Internal": "Mesh", "Old": ""}, rules.ValueRules)
}

func TestParseRules_KeepsCase(t *testing.T) {
	rules, err := ParseRules([]byte(`
tagKeysToUpdate:
  CostCenter: costcenter
  costcenter: CostCenter
`))

	require.NoError(t, err)
	assert.Equal(
		t,
		KeyRules{
			{From: "CostCenter", To: "costcenter"},
			{From: "costcenter", To: "CostCenter"},
		},
		rules.KeyRules,
	)
}

func TestParseRules_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		err  string
	}{
		{
			name: "empty document",
			data: "",
			err:  "rules document is empty",
		},
		{
			name: "not a mapping",
			data: "- Client\n- App\n",
			err:  "must be a mapping",
		},
		{
			name: "duplicate source",
			data: "tagKeysToUpdate:\n  App: Project\n  App: Application\n",
			err:  "duplicate rule",
		},
		{
			name: "empty key target",
			data: "tagKeysToUpdate:\n  App: \"\"\n",
			err:  "empty key",
		},
		{
			name: "nested value",
			data: "tagKeysToUpdate:\n  App:\n    a: b\n",
			err:  "must map a string to a string",
		},
		{
			name: "section is a list",
			data: "tagValuesToUpdate:\n  - Internal\n",
			err:  "expected a mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRules([]byte(tt.data))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestLoadRules(t *testing.T) {
	file := filepath.Join(t.TempDir(), "tags.yaml")

	err := os.WriteFile(file, []byte("Client: Customer\n"), 0644)
	require.NoError(t, err)

	rules, err := LoadRules(file)

	require.NoError(t, err)
	assert.Equal(t, KeyRules{{From: "Client", To: "Customer"}}, rules.KeyRules)
}

func TestLoadRules_MissingFile(t *testing.T) {
	_, err := LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadRules("")
	assert.EqualError(t, err, "missing rules file")
}

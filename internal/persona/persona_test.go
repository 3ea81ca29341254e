package persona

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atomikpanda/anvil/internal/distro"
)

func writePersona(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

const basic = `
description: db and identity
supports: [rhel-6]
components: [db, keystone]
subsystems:
  keystone: [api]
options:
  db:
    user: admin
`

func TestLoad(t *testing.T) {
	p, err := Load(writePersona(t, basic))
	require.NoError(t, err)

	assert.Equal(t, "db and identity", p.Description)
	assert.Equal(t, []string{"db", "keystone"}, p.Components)
	assert.Equal(t, []string{"api"}, p.Subsystems["keystone"])
	assert.Nil(t, p.Subsystems["db"])
	assert.Equal(t, map[string]string{"user": "admin"}, p.Options["db"])
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"no components":        "supports: [rhel-6]\n",
		"no supports":          "components: [db]\n",
		"duplicate component":  "supports: [x]\ncomponents: [db, db]\n",
		"bad name":             "supports: [x]\ncomponents: [Db Server]\n",
		"subsystems for other": "supports: [x]\ncomponents: [db]\nsubsystems:\n  nova: [api]\n",
		"options for other":    "supports: [x]\ncomponents: [db]\noptions:\n  nova: {a: b}\n",
		"not yaml":             "components: [db\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writePersona(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	p, err := Load(writePersona(t, basic))
	require.NoError(t, err)

	d := &distro.Distro{Name: "rhel-6", Components: map[string]distro.ComponentSpec{"db": {}, "keystone": {}}}
	assert.NoError(t, p.Verify(d))

	d.Name = "ubuntu-oneiric"
	assert.ErrorContains(t, p.Verify(d), "does not support")

	d = &distro.Distro{Name: "rhel-6", Components: map[string]distro.ComponentSpec{"db": {}}}
	assert.ErrorContains(t, p.Verify(d), "keystone")
}

func TestSelect(t *testing.T) {
	p, err := Load(writePersona(t, basic))
	require.NoError(t, err)

	all, err := p.Select(nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"db", "keystone"}, all)

	some, err := p.Select([]string{"keystone"})
	require.NoError(t, err)
	assert.Equal(t, []string{"keystone"}, some)

	_, err = p.Select([]string{"nova"})
	assert.Error(t, err)
}

func TestShippedPersonaLoads(t *testing.T) {
	p, err := Load(filepath.Join("..", "..", "conf", "personas", "devstack.yaml"))
	require.NoError(t, err)
	assert.Contains(t, p.Components, "db")
}

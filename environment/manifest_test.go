package environment_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/input-output-hk/catalyst-forge-pipeline/environment"
)

func TestParseManifest(t *testing.T) {
	src := `# runtime deps
Django>=4.2,<5  # web
requests==2.31.0

--index-url https://pypi.example.com/simple
zope.interface
`
	m, err := environment.ParseManifest(strings.NewReader(src), "requirements.txt")
	require.NoError(t, err)

	require.Len(t, m.Requirements, 3)
	assert.Equal(t, "django", m.Requirements[0].Name)
	assert.Equal(t, "Django>=4.2,<5", m.Requirements[0].Spec)
	assert.Equal(t, "requirements.txt", m.Requirements[0].Source)
	assert.Equal(t, "zope-interface", m.Requirements[2].Name)
	assert.Equal(t, []string{"--index-url https://pypi.example.com/simple"}, m.Options)
}

func TestParseManifestInvalidLine(t *testing.T) {
	_, err := environment.ParseManifest(strings.NewReader("ok==1\n>=2\n"), "reqs.txt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reqs.txt:2")
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Django", "django"},
		{"zope.interface", "zope-interface"},
		{"Foo__Bar", "foo-bar"},
		{"a-b", "a-b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, environment.NormalizeName(tt.in))
		})
	}
}

func TestMergeFirstOccurrenceWins(t *testing.T) {
	first, err := environment.ParseManifest(strings.NewReader("django==4.2\nrequests\n"), "requirements.txt")
	require.NoError(t, err)
	second, err := environment.ParseManifest(strings.NewReader("Django==5.0\nrequests\npytest\n"), "requirements/requirements.txt")
	require.NoError(t, err)

	merged, conflicts := environment.Merge([]*environment.Manifest{first, second})

	names := make([]string, 0, len(merged.Requirements))
	for _, r := range merged.Requirements {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"django", "requests", "pytest"}, names)
	assert.Equal(t, "django==4.2", merged.Requirements[0].Spec)

	require.Len(t, conflicts, 1)
	assert.Equal(t, "django", conflicts[0].Package)
	assert.Equal(t, "django==4.2", conflicts[0].Kept)
	assert.Equal(t, "requirements.txt", conflicts[0].KeptSource)
	assert.Equal(t, "Django==5.0", conflicts[0].Ignored)
	assert.Contains(t, conflicts[0].String(), "requirements/requirements.txt")
}

func TestMergeEquivalentSpecsDoNotConflict(t *testing.T) {
	a, err := environment.ParseManifest(strings.NewReader("Django == 4.2\n"), "a.txt")
	require.NoError(t, err)
	b, err := environment.ParseManifest(strings.NewReader("django==4.2\n"), "b.txt")
	require.NoError(t, err)

	_, conflicts := environment.Merge([]*environment.Manifest{a, b})
	assert.Empty(t, conflicts)
}

func TestLoadManifestsSkipsMissing(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "requirements.txt"), []byte("flask\n"), 0o644))

	manifests, err := environment.LoadManifests(root, []string{"requirements.txt", "requirements/requirements.txt"})
	require.NoError(t, err)
	require.Len(t, manifests, 1)
	assert.Equal(t, "requirements.txt", manifests[0].Path)
}

func TestWriteLock(t *testing.T) {
	m, err := environment.ParseManifest(strings.NewReader("-c constraints.txt\nflask==3.0\n"), "requirements.txt")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "env", "requirements.lock.txt")
	require.NoError(t, environment.WriteLock(path, m))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "-c constraints.txt\nflask==3.0  # from requirements.txt\n", string(data))
}

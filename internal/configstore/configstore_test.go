package configstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvFileRoundTripPreservesOrderAndComments(t *testing.T) {
	raw := []byte("# header\nFOO=bar\n\nBAZ=\"qux quux\"\n")
	ef := ParseEnvFile(raw)

	assert.Equal(t, []string{"FOO", "BAZ"}, ef.Keys())
	v, ok := ef.Get("BAZ")
	require.True(t, ok)
	assert.Equal(t, "qux quux", v)

	ef.Set("FOO", "new")
	ef.Set("NEWKEY", "added")

	out := ef.Bytes()
	reparsed := ParseEnvFile(out)
	assert.Equal(t, []string{"FOO", "BAZ", "NEWKEY"}, reparsed.Keys())
	v, _ = reparsed.Get("FOO")
	assert.Equal(t, "new", v)
}

func TestReadEnvFileMissingIsEmpty(t *testing.T) {
	ef, err := ReadEnvFile(filepath.Join(t.TempDir(), "does-not-exist.env"))
	require.NoError(t, err)
	assert.Empty(t, ef.Keys())
}

func TestWriteEnvFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.env")

	ef := ParseEnvFile(nil)
	ef.Set("A", "1")
	require.NoError(t, WriteEnvFile(path, ef))

	reread, err := ReadEnvFile(path)
	require.NoError(t, err)
	v, ok := reread.Get("A")
	require.True(t, ok)
	assert.Equal(t, "1", v)
}

func TestComposeFileSetImageTag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compose.yaml")
	raw := "services:\n  node:\n    image: kaspanet/kaspad:v1.0.0\n  db:\n    image: timescale/timescaledb:2.13.0-pg15\n"
	require.NoError(t, writeRaw(path, raw))

	cf, err := ReadComposeFile(path)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"node", "db"}, cf.ServiceNames())

	img, ok := cf.Image("node")
	require.True(t, ok)
	assert.Equal(t, "kaspanet/kaspad:v1.0.0", img)

	require.NoError(t, cf.SetImageTag("node", "v1.1.0"))
	img, _ = cf.Image("node")
	assert.Equal(t, "kaspanet/kaspad:v1.1.0", img)
}

func TestComposeFileRejectsDigestPinned(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compose.yaml")
	raw := "services:\n  node:\n    image: kaspanet/kaspad@sha256:deadbeef\n"
	require.NoError(t, writeRaw(path, raw))

	cf, err := ReadComposeFile(path)
	require.NoError(t, err)

	err = cf.SetImageTag("node", "v1.1.0")
	require.Error(t, err)
}

func TestInstallStateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	st := InstallState{
		Version:        "1.2.3",
		ActiveProfiles: []string{"kaspa-node"},
		Services:       []ServiceState{{Name: "kaspa-node", Version: "v1.0.0", Status: "running"}},
	}
	require.NoError(t, WriteInstallState(path, st))

	reread, err := ReadInstallState(path)
	require.NoError(t, err)
	assert.Equal(t, st.Version, reread.Version)
	assert.Equal(t, st.ActiveProfiles, reread.ActiveProfiles)
}

func TestInstallStateMissingIsEmpty(t *testing.T) {
	st, err := ReadInstallState(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Equal(t, InstallState{}, st)
}

func writeRaw(path, content string) error {
	return atomicWrite(path, []byte(content), 0o644)
}

package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRuleFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func scopedStore(t *testing.T) (*FileStore, string, string, string) {
	t.Helper()
	base := t.TempDir()
	globalDir := filepath.Join(base, "global")
	userDir := filepath.Join(base, "user")
	projectDir := filepath.Join(base, "project")
	return NewFileStore(globalDir, userDir, projectDir), globalDir, userDir, projectDir
}

func ruleContent(name string) string {
	return "---\nname: " + name + "\ndescription: test rule\n---\nbody of " + name
}

func TestFileStoreListAndGet(t *testing.T) {
	store, globalDir, userDir, _ := scopedStore(t)

	writeRuleFile(t, globalDir, "alpha.md", ruleContent("alpha"))
	writeRuleFile(t, userDir, "beta.md", ruleContent("beta"))

	all := store.ListRules(nil)
	require.Len(t, all, 2)

	scope := ScopeUser
	userRules := store.ListRules(&scope)
	require.Len(t, userRules, 1)
	assert.Equal(t, "beta", userRules[0].Name)

	assert.NotNil(t, store.GetRule("alpha", nil))
	assert.Nil(t, store.GetRule("missing", nil))
}

func TestFileStoreScopeSearchOrder(t *testing.T) {
	store, globalDir, userDir, projectDir := scopedStore(t)

	writeRuleFile(t, globalDir, "shared.md", ruleContent("shared"))
	writeRuleFile(t, userDir, "shared.md", ruleContent("shared"))
	writeRuleFile(t, projectDir, "shared.md", ruleContent("shared"))

	rule := store.GetRule("shared", nil)
	require.NotNil(t, rule)
	assert.Equal(t, ScopeProject, rule.Scope, "project scope wins the unscoped lookup")

	scope := ScopeGlobal
	rule = store.GetRule("shared", &scope)
	require.NotNil(t, rule)
	assert.Equal(t, ScopeGlobal, rule.Scope)
}

func TestFileStoreBadFileIsSkipped(t *testing.T) {
	store, globalDir, _, _ := scopedStore(t)

	writeRuleFile(t, globalDir, "good.md", ruleContent("good"))
	writeRuleFile(t, globalDir, "bad.md", "no frontmatter at all")

	require.NoError(t, store.Reload())
	all := store.ListRules(nil)
	require.Len(t, all, 1)
	assert.Equal(t, "good", all[0].Name)
}

func TestFileStoreSaveAndDelete(t *testing.T) {
	store, _, userDir, _ := scopedStore(t)

	rule := &Rule{
		Name:        "saved",
		Description: "a saved rule",
		Content:     "do the thing",
		Scope:       ScopeUser,
		Inclusion:   InclusionManual,
		Priority:    70,
		Enabled:     true,
	}
	require.NoError(t, store.SaveRule(rule))

	data, err := os.ReadFile(filepath.Join(userDir, "saved.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: saved")
	assert.Contains(t, string(data), "inclusion: manual")
	assert.Contains(t, string(data), "priority: 70")

	// Round-trips through a reload.
	require.NoError(t, store.Reload())
	loaded := store.GetRule("saved", nil)
	require.NotNil(t, loaded)
	assert.Equal(t, 70, loaded.Priority)
	assert.Equal(t, InclusionManual, loaded.Inclusion)

	deleted, err := store.DeleteRule("saved", ScopeUser)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Nil(t, store.GetRule("saved", nil))

	deleted, err = store.DeleteRule("saved", ScopeUser)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestFileStoreSaveUnconfiguredScope(t *testing.T) {
	store := NewFileStore(t.TempDir(), "", "")

	err := store.SaveRule(&Rule{
		Name:        "r",
		Description: "d",
		Scope:       ScopeProject,
		Inclusion:   InclusionAlways,
		Priority:    50,
		Enabled:     true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no directory configured")
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	rule := &Rule{Name: "m", Description: "d", Scope: ScopeUser, Inclusion: InclusionAlways, Priority: 50, Enabled: true}
	require.NoError(t, store.SaveRule(rule))

	assert.NotNil(t, store.GetRule("m", nil))

	deleted, err := store.DeleteRule("m", ScopeUser)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Nil(t, store.GetRule("m", nil))
}

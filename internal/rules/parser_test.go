package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRule = `---
name: coding-standards
description: Go coding standards
inclusion: always
priority: 60
---

# Coding Standards

Follow gofmt.
`

func TestParseContent(t *testing.T) {
	parser := NewParser()

	rule, err := parser.ParseContent(sampleRule, ScopeUser, "mem")
	require.NoError(t, err)

	assert.Equal(t, "coding-standards", rule.Name)
	assert.Equal(t, "Go coding standards", rule.Description)
	assert.Equal(t, ScopeUser, rule.Scope)
	assert.Equal(t, InclusionAlways, rule.Inclusion)
	assert.Equal(t, 60, rule.Priority)
	assert.True(t, rule.Enabled)
	assert.False(t, rule.Override)
	assert.True(t, strings.HasPrefix(rule.Content, "# Coding Standards"))
}

func TestParseMissingFrontmatter(t *testing.T) {
	parser := NewParser()

	_, err := parser.ParseContent("# Just markdown\n", ScopeUser, "")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParseMissingRequiredFields(t *testing.T) {
	parser := NewParser()

	_, err := parser.ParseContent("---\ndescription: d\n---\nbody", ScopeUser, "")
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Msg, "name")

	_, err = parser.ParseContent("---\nname: n\n---\nbody", ScopeUser, "")
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Msg, "description")
}

func TestParseInvalidOptionalFieldsClampAndDefault(t *testing.T) {
	parser := NewParser()

	content := `---
name: odd
description: odd values
inclusion: sometimes
priority: 900
override: maybe
enabled: nope
---
body`

	rule, err := parser.ParseContent(content, ScopeGlobal, "")
	require.NoError(t, err)
	assert.Equal(t, InclusionAlways, rule.Inclusion)
	assert.Equal(t, 100, rule.Priority)
	assert.False(t, rule.Override)
	assert.True(t, rule.Enabled)
}

func TestParsePriorityNotANumber(t *testing.T) {
	parser := NewParser()

	rule, err := parser.ParseContent("---\nname: n\ndescription: d\npriority: high\n---\nbody", ScopeGlobal, "")
	require.NoError(t, err)
	assert.Equal(t, 50, rule.Priority)
}

func TestParseFileTooLarge(t *testing.T) {
	parser := NewParser()
	dir := t.TempDir()

	path := filepath.Join(dir, "big.md")
	big := make([]byte, MaxRuleFileSize+1)
	require.NoError(t, os.WriteFile(path, big, 0o644))

	_, err := parser.ParseFile(path, ScopeGlobal)
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Msg, "size limit")
}

func TestParseFileMissingReturnsNil(t *testing.T) {
	parser := NewParser()
	rule, err := parser.ParseFile(filepath.Join(t.TempDir(), "nope.md"), ScopeGlobal)
	require.NoError(t, err)
	assert.Nil(t, rule)
}

func TestResolveFileReferences(t *testing.T) {
	parser := NewParser()
	allowed := t.TempDir()
	outside := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(allowed, "inc.md"), []byte("INCLUDED"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.md"), []byte("SECRET"), 0o644))

	content := "before #[[file:inc.md]] after"
	resolved := parser.ResolveFileReferences(content, allowed, []string{allowed})
	assert.Equal(t, "before INCLUDED after", resolved)

	content = "x #[[file:" + filepath.Join(outside, "secret.md") + "]] y"
	resolved = parser.ResolveFileReferences(content, allowed, []string{allowed})
	assert.Contains(t, resolved, "[File reference blocked:")
	assert.NotContains(t, resolved, "SECRET")

	content = "x #[[file:missing.md]] y"
	resolved = parser.ResolveFileReferences(content, allowed, []string{allowed})
	assert.Contains(t, resolved, "[File not found: missing.md]")
}

func TestResolveFileReferenceTraversalBlocked(t *testing.T) {
	parser := NewParser()
	allowed := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(allowed), "up.md"), []byte("UP"), 0o644))

	resolved := parser.ResolveFileReferences("#[[file:../up.md]]", allowed, []string{allowed})
	assert.Contains(t, resolved, "[File reference blocked: ../up.md]")
}

func TestValidateContent(t *testing.T) {
	parser := NewParser()

	ok, errs, warnings := parser.ValidateContent(sampleRule)
	assert.True(t, ok)
	assert.Empty(t, errs)
	assert.Empty(t, warnings)

	ok, errs, _ = parser.ValidateContent("no frontmatter here")
	assert.False(t, ok)
	assert.NotEmpty(t, errs)

	ok, errs, warnings = parser.ValidateContent("---\nname: n\ndescription: d\ninclusion: weird\npriority: 500\n---\nbody")
	assert.True(t, ok)
	assert.Empty(t, errs)
	assert.Len(t, warnings, 2)
}

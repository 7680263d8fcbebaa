package agent

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataagent-ai/dataagent/internal/executor"
	"github.com/dataagent-ai/dataagent/internal/mcp"
	"github.com/dataagent-ai/dataagent/internal/rules"
	"github.com/dataagent-ai/dataagent/internal/workspace"
)

func TestMemoryLazyCreation(t *testing.T) {
	root := t.TempDir()
	memory := NewMemory(root, "helper")

	_, err := os.Stat(memory.Path())
	require.True(t, os.IsNotExist(err), "memory file is not created before first use")

	content, err := memory.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultInstructions(), content)

	_, err = os.Stat(memory.Path())
	require.NoError(t, err, "memory file exists after first load")
}

func TestMemoryReset(t *testing.T) {
	root := t.TempDir()

	memory := NewMemory(root, "helper")
	require.NoError(t, memory.Save("customized content"))

	require.NoError(t, memory.Reset(""))
	content, err := memory.Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultInstructions(), content)
}

func TestMemoryResetFromOtherAgent(t *testing.T) {
	root := t.TempDir()

	source := NewMemory(root, "mentor")
	require.NoError(t, source.Save("borrowed wisdom"))

	memory := NewMemory(root, "helper")
	require.NoError(t, memory.Reset("mentor"))

	content, err := memory.Load()
	require.NoError(t, err)
	assert.Equal(t, "borrowed wisdom", content)

	assert.Error(t, memory.Reset("no-such-agent"))
}

func writeSkill(t *testing.T, dir, name, frontmatter string) {
	t.Helper()
	skillDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(skillDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(skillDir, SkillFileName), []byte(frontmatter), 0o644))
}

func TestListSkills(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()

	writeSkill(t, userDir, "web-research", "---\nname: web-research\ndescription: Research the web\n---\nSteps...")
	writeSkill(t, projectDir, "db-tuning", "---\nname: db-tuning\ndescription: Tune the database\n---\nSteps...")
	writeSkill(t, projectDir, "broken", "no frontmatter")
	writeSkill(t, projectDir, "incomplete", "---\nname: incomplete\n---\nbody")

	skills := ListSkills(userDir, projectDir)
	require.Len(t, skills, 2)
	assert.Equal(t, "db-tuning", skills[0].Name)
	assert.Equal(t, "project", skills[0].Source)
	assert.Equal(t, "web-research", skills[1].Name)
	assert.Equal(t, "user", skills[1].Source)
}

func TestListSkillsUserShadowsProject(t *testing.T) {
	userDir := t.TempDir()
	projectDir := t.TempDir()

	writeSkill(t, userDir, "shared", "---\nname: shared\ndescription: user version\n---\n")
	writeSkill(t, projectDir, "shared", "---\nname: shared\ndescription: project version\n---\n")

	skills := ListSkills(userDir, projectDir)
	require.Len(t, skills, 1)
	assert.Equal(t, "user", skills[0].Source)
}

func TestMemoryMiddlewareInjectsContent(t *testing.T) {
	root := t.TempDir()
	memory := NewMemory(root, "helper")
	require.NoError(t, memory.Save("REMEMBER THE PREFERENCES"))

	mw := NewMemoryMiddleware(memory)
	req := &executor.ModelRequest{SystemPrompt: "base"}
	require.NoError(t, mw.WrapModelCall(req, func(*executor.ModelRequest) error { return nil }))

	assert.Contains(t, req.SystemPrompt, "base")
	assert.Contains(t, req.SystemPrompt, "REMEMBER THE PREFERENCES")
}

func TestSkillsMiddlewareListsSkills(t *testing.T) {
	userDir := t.TempDir()
	writeSkill(t, userDir, "web-research", "---\nname: web-research\ndescription: Research the web\n---\n")

	mw := NewSkillsMiddleware(userDir, "")
	req := &executor.ModelRequest{}
	require.NoError(t, mw.WrapModelCall(req, func(*executor.ModelRequest) error { return nil }))

	assert.Contains(t, req.SystemPrompt, "### Available Skills")
	assert.Contains(t, req.SystemPrompt, "web-research")
}

// emptyBackend yields an immediately-finished stream.
type emptyBackend struct{}

type emptyStream struct{}

func (emptyStream) Recv() (*executor.Chunk, error) { return nil, io.EOF }
func (emptyStream) Close()                         {}

func (emptyBackend) Stream(context.Context, executor.StreamInput) (executor.ChunkStream, error) {
	return emptyStream{}, nil
}

func TestFactoryCreateExecutor(t *testing.T) {
	manager := workspace.NewManager(t.TempDir(), nil)

	factory, err := NewFactory(FactoryOptions{
		Backend:    emptyBackend{},
		AgentRoot:  t.TempDir(),
		Workspaces: manager,
		RuleStore:  rules.NewMemoryStore(),
	})
	require.NoError(t, err)

	cfg := DefaultConfig("helper")
	cfg.ExtraTools = []mcp.ToolDescriptor{{Name: "files_list", Server: "files"}}

	exec, err := factory.CreateExecutor(context.Background(), cfg, "s1", "alice", nil)
	require.NoError(t, err)
	require.NotNil(t, exec)

	// The user's workspace is created as a side effect.
	info, err := manager.Stat("alice")
	require.NoError(t, err)
	assert.True(t, info.Created)
}

func TestFactoryRequiresBackend(t *testing.T) {
	_, err := NewFactory(FactoryOptions{Workspaces: workspace.NewManager(t.TempDir(), nil)})
	require.Error(t, err)
}

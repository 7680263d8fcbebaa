package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dataagent-ai/dataagent/internal/logging"
)

// SkillFileName is the descriptor file inside each skill directory.
const SkillFileName = "SKILL.md"

// SkillMetadata is the parsed frontmatter of one SKILL.md.
type SkillMetadata struct {
	Name        string
	Description string
	Source      string // "user" or "project"
	Path        string
}

var skillFrontmatterPattern = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---`)

// parseSkillMetadata reads a SKILL.md frontmatter. name and description
// are required; files without them are skipped with a warning.
func parseSkillMetadata(path, source string) (*SkillMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	match := skillFrontmatterPattern.FindSubmatch(data)
	if match == nil {
		return nil, fmt.Errorf("missing frontmatter")
	}

	var meta struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	}
	if err := yaml.Unmarshal(match[1], &meta); err != nil {
		return nil, err
	}
	if meta.Name == "" || meta.Description == "" {
		return nil, fmt.Errorf("name and description are required")
	}

	return &SkillMetadata{
		Name:        meta.Name,
		Description: meta.Description,
		Source:      source,
		Path:        path,
	}, nil
}

// isSafeSkillPath rejects skill directories that resolve outside their
// base directory.
func isSafeSkillPath(path, baseDir string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return false
	}
	base, err := filepath.EvalSymlinks(baseDir)
	if err != nil {
		return false
	}
	return resolved == base || strings.HasPrefix(resolved, base+string(filepath.Separator))
}

// listSkillsFromDir scans <dir>/<skill>/SKILL.md descriptors.
func listSkillsFromDir(dir, source string) []SkillMetadata {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var out []SkillMetadata
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		skillDir := filepath.Join(dir, entry.Name())
		if !isSafeSkillPath(skillDir, dir) {
			logging.Warn().Str("skill", entry.Name()).Msg("skipping skill outside skills directory")
			continue
		}

		skillPath := filepath.Join(skillDir, SkillFileName)
		if _, err := os.Stat(skillPath); err != nil {
			continue
		}

		meta, err := parseSkillMetadata(skillPath, source)
		if err != nil {
			logging.Warn().Err(err).Str("path", skillPath).Msg("failed to parse skill descriptor")
			continue
		}
		out = append(out, *meta)
	}
	return out
}

// ListSkills returns the skills available to an assistant: its own
// skills directory plus an optional project skills directory, sorted by
// name. User skills shadow project skills of the same name.
func ListSkills(userSkillsDir, projectSkillsDir string) []SkillMetadata {
	byName := make(map[string]SkillMetadata)

	if projectSkillsDir != "" {
		for _, skill := range listSkillsFromDir(projectSkillsDir, "project") {
			byName[skill.Name] = skill
		}
	}
	if userSkillsDir != "" {
		for _, skill := range listSkillsFromDir(userSkillsDir, "user") {
			byName[skill.Name] = skill
		}
	}

	out := make([]SkillMetadata, 0, len(byName))
	for _, skill := range byName {
		out = append(out, skill)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dataagent-ai/dataagent/internal/logging"
)

// MaxRuleFileSize is the largest rule file the parser will read.
const MaxRuleFileSize = 1 << 20 // 1 MiB

// ParseError is returned when a rule file cannot be parsed.
type ParseError struct {
	Path string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("parse rule %s: %s", e.Path, e.Msg)
	}
	return "parse rule: " + e.Msg
}

var (
	frontmatterPattern   = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n?`)
	fileReferencePattern = regexp.MustCompile(`#\[\[file:([^\]]+)\]\]`)
)

// Parser parses Markdown rule files with YAML frontmatter.
type Parser struct{}

// NewParser returns a rule parser.
func NewParser() *Parser { return &Parser{} }

// ParseFile parses one rule file, assigning the given scope.
// Returns (nil, nil) when the file does not exist.
func (p *Parser) ParseFile(path string, scope Scope) (*Rule, error) {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &ParseError{Path: path, Msg: err.Error()}
	}

	if fi.Size() > MaxRuleFileSize {
		return nil, &ParseError{
			Path: path,
			Msg:  fmt.Sprintf("file exceeds size limit (%d > %d)", fi.Size(), MaxRuleFileSize),
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Msg: err.Error()}
	}

	rule, err := p.ParseContent(string(content), scope, path)
	if err != nil {
		return nil, err
	}
	rule.CreatedAt = fi.ModTime()
	rule.UpdatedAt = fi.ModTime()
	return rule, nil
}

// ParseContent parses rule content. Required frontmatter keys are name
// and description; invalid optional keys clamp or default with a warning
// rather than failing.
func (p *Parser) ParseContent(content string, scope Scope, sourcePath string) (*Rule, error) {
	match := frontmatterPattern.FindStringSubmatchIndex(content)
	if match == nil {
		return nil, &ParseError{
			Path: sourcePath,
			Msg:  "missing or invalid YAML frontmatter; rule files must start with '---' followed by YAML metadata",
		}
	}

	meta := map[string]any{}
	frontmatter := content[match[2]:match[3]]
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, &ParseError{Path: sourcePath, Msg: "invalid YAML frontmatter: " + err.Error()}
	}

	name := asString(meta["name"])
	if name == "" {
		return nil, &ParseError{Path: sourcePath, Msg: "missing required field: name"}
	}
	description := asString(meta["description"])
	if description == "" {
		return nil, &ParseError{Path: sourcePath, Msg: "missing required field: description"}
	}

	body := strings.TrimSpace(content[match[1]:])

	inclusion := InclusionAlways
	if raw, ok := meta["inclusion"]; ok {
		switch Inclusion(asString(raw)) {
		case InclusionAlways, InclusionFileMatch, InclusionManual:
			inclusion = Inclusion(asString(raw))
		default:
			logging.Warn().Str("rule", name).Any("inclusion", raw).
				Msg("invalid inclusion mode, defaulting to 'always'")
		}
	}

	priority := 50
	if raw, ok := meta["priority"]; ok {
		if v, err := asInt(raw); err == nil {
			if v < 1 || v > 100 {
				logging.Warn().Str("rule", name).Int("priority", v).
					Msg("priority out of range, clamping to 1-100")
				v = min(100, max(1, v))
			}
			priority = v
		} else {
			logging.Warn().Str("rule", name).Any("priority", raw).
				Msg("invalid priority value, defaulting to 50")
		}
	}

	now := time.Now()
	return &Rule{
		Name:             name,
		Description:      description,
		Content:          body,
		Scope:            scope,
		Inclusion:        inclusion,
		FileMatchPattern: asString(meta["fileMatchPattern"]),
		Priority:         priority,
		Override:         asBool(meta["override"], false),
		Enabled:          asBool(meta["enabled"], true),
		SourcePath:       sourcePath,
		CreatedAt:        now,
		UpdatedAt:        now,
		Metadata:         meta,
	}, nil
}

// ResolveFileReferences replaces #[[file:PATH]] references with the
// referenced file content. References outside allowedDirs yield a
// literal placeholder instead of the body.
func (p *Parser) ResolveFileReferences(content string, basePath string, allowedDirs []string) string {
	return fileReferencePattern.ReplaceAllStringFunc(content, func(ref string) string {
		sub := fileReferencePattern.FindStringSubmatch(ref)
		refPath := strings.TrimSpace(sub[1])

		full := refPath
		if !filepath.IsAbs(full) {
			full = filepath.Join(basePath, refPath)
		}

		if !isSafePath(full, allowedDirs) {
			logging.Warn().Str("ref", refPath).Msg("file reference blocked (outside allowed dirs)")
			return fmt.Sprintf("[File reference blocked: %s]", refPath)
		}

		fi, err := os.Stat(full)
		if err != nil {
			logging.Warn().Str("ref", refPath).Msg("referenced file not found")
			return fmt.Sprintf("[File not found: %s]", refPath)
		}
		if fi.Size() > MaxRuleFileSize {
			logging.Warn().Str("ref", refPath).Msg("referenced file too large")
			return fmt.Sprintf("[File too large: %s]", refPath)
		}

		data, err := os.ReadFile(full)
		if err != nil {
			logging.Warn().Err(err).Str("ref", refPath).Msg("error reading referenced file")
			return fmt.Sprintf("[Error reading file: %s]", refPath)
		}
		return string(data)
	})
}

// ValidateContent checks rule content without constructing a Rule.
func (p *Parser) ValidateContent(content string) (valid bool, errs []string, warnings []string) {
	match := frontmatterPattern.FindStringSubmatchIndex(content)
	if match == nil {
		return false, []string{"Missing or invalid YAML frontmatter"}, nil
	}

	meta := map[string]any{}
	if err := yaml.Unmarshal([]byte(content[match[2]:match[3]]), &meta); err != nil {
		return false, []string{"Invalid YAML frontmatter: " + err.Error()}, nil
	}

	if asString(meta["name"]) == "" {
		errs = append(errs, "Missing required field: name")
	}
	if asString(meta["description"]) == "" {
		errs = append(errs, "Missing required field: description")
	}

	if raw, ok := meta["inclusion"]; ok {
		switch Inclusion(asString(raw)) {
		case InclusionAlways, InclusionFileMatch, InclusionManual:
		default:
			warnings = append(warnings, fmt.Sprintf("Unknown inclusion mode: %v", raw))
		}
	}

	if raw, ok := meta["priority"]; ok {
		if v, err := asInt(raw); err != nil {
			warnings = append(warnings, fmt.Sprintf("Invalid priority value: %v", raw))
		} else if v < 1 || v > 100 {
			warnings = append(warnings, fmt.Sprintf("Priority %d out of range (1-100)", v))
		}
	}

	if len(content)-match[1] > 50000 {
		warnings = append(warnings, "Rule content is very large, may impact performance")
	}

	return len(errs) == 0, errs, warnings
}

func isSafePath(path string, allowedDirs []string) bool {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = filepath.Clean(path)
	}
	for _, dir := range allowedDirs {
		allowed, err := filepath.EvalSymlinks(dir)
		if err != nil {
			allowed = filepath.Clean(dir)
		}
		if resolved == allowed || strings.HasPrefix(resolved, allowed+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func asString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("not an integer: %v", v)
	}
}

func asBool(v any, fallback bool) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "yes", "1", "on":
			return true
		case "false", "no", "0", "off":
			return false
		}
	case int:
		return b != 0
	}
	return fallback
}

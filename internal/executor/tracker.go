package executor

import (
	"sync"

	"github.com/dataagent-ai/dataagent/internal/event"
	"github.com/dataagent-ai/dataagent/internal/logging"
	"github.com/dataagent-ai/dataagent/internal/workspace"
)

// DefaultMaxDiffLines caps the unified diff attached to file_operation
// events.
const DefaultMaxDiffLines = 200

// trackedTools are the tool names the tracker correlates.
var trackedTools = map[string]bool{
	"read_file":  true,
	"write_file": true,
	"edit_file":  true,
}

type pendingOp struct {
	toolName      string
	args          map[string]any
	displayPath   string
	physicalPath  string
	beforeContent string
	hadBefore     bool
	resolveFailed bool
}

// FileTracker correlates file tool calls with their results to produce
// file_operation events carrying line metrics and diffs. Paths resolve
// through the user's workspace sandbox; resolution failures surface as
// error-status operations with zero metrics.
type FileTracker struct {
	sandbox      *workspace.Sandbox
	maxDiffLines int

	mu      sync.Mutex
	pending map[string]*pendingOp
}

// NewFileTracker creates a tracker backed by the given sandbox. A nil
// sandbox disables path resolution; operations then report error status.
func NewFileTracker(sandbox *workspace.Sandbox, maxDiffLines int) *FileTracker {
	if maxDiffLines <= 0 {
		maxDiffLines = DefaultMaxDiffLines
	}
	return &FileTracker{
		sandbox:      sandbox,
		maxDiffLines: maxDiffLines,
		pending:      make(map[string]*pendingOp),
	}
}

// StartOperation records a tracked tool call. Non-file tools are
// ignored.
func (t *FileTracker) StartOperation(toolName string, args map[string]any, callID string) {
	if !trackedTools[toolName] {
		return
	}

	op := &pendingOp{
		toolName:    toolName,
		args:        args,
		displayPath: pathArg(args),
	}

	if t.sandbox == nil {
		op.resolveFailed = true
	} else if physical, err := t.sandbox.ResolvePath(op.displayPath); err != nil {
		logging.Debug().Str("tool", toolName).Str("path", op.displayPath).
			Err(err).Msg("file operation path resolution failed")
		op.resolveFailed = true
	} else {
		op.physicalPath = physical
		if toolName != "read_file" {
			if before, err := t.sandbox.ReadFile(op.displayPath); err == nil {
				op.beforeContent = before
				op.hadBefore = true
			}
		}
	}

	t.mu.Lock()
	t.pending[callID] = op
	t.mu.Unlock()
}

// UpdateArgs refreshes the stored arguments for an already-announced
// call, when later chunks deliver a fuller argument set.
func (t *FileTracker) UpdateArgs(callID string, args map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	op, ok := t.pending[callID]
	if !ok {
		return
	}
	op.args = args
	if p := pathArg(args); p != "" && p != op.displayPath {
		op.displayPath = p
		if t.sandbox != nil {
			if physical, err := t.sandbox.ResolvePath(p); err == nil {
				op.physicalPath = physical
				op.resolveFailed = false
			} else {
				op.resolveFailed = true
			}
		}
	}
}

// Complete consumes the pending operation for callID and builds the
// file_operation payload. Returns nil for untracked calls.
func (t *FileTracker) Complete(callID, status string) *event.FileOperationData {
	t.mu.Lock()
	op, ok := t.pending[callID]
	if ok {
		delete(t.pending, callID)
	}
	t.mu.Unlock()

	if !ok {
		return nil
	}

	data := &event.FileOperationData{
		Operation: op.toolName,
		FilePath:  op.displayPath,
		Status:    status,
	}

	if status != "success" || op.resolveFailed {
		data.Status = "error"
		return data
	}

	after, err := t.sandbox.ReadFile(op.displayPath)
	if err != nil {
		if op.toolName == "read_file" {
			data.Status = "error"
			return data
		}
		after = ""
	}

	switch op.toolName {
	case "read_file":
		data.Metrics.LinesRead = countLines(after)
	case "write_file", "edit_file":
		data.Metrics.LinesWritten = countLines(after)
		diff, added, removed := buildDiffMetadata(op.displayPath, op.beforeContent, after, t.maxDiffLines)
		data.Diff = diff
		data.Metrics.LinesAdded = added
		data.Metrics.LinesRemoved = removed
	}

	return data
}

func pathArg(args map[string]any) string {
	if args == nil {
		return ""
	}
	if p, ok := args["file_path"].(string); ok && p != "" {
		return p
	}
	if p, ok := args["path"].(string); ok {
		return p
	}
	return ""
}

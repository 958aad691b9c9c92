package orchids

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	// ripgrep caps keep a hostile workspace from flooding the socket.
	ripgrepMaxFileSize = 2 * 1024 * 1024
	ripgrepMaxResults  = 200
	ripgrepMaxFiles    = 2000

	runCommandTimeout = 30 * time.Second
)

// backgroundProcess is one still-running command started with a caller
// supplied bash_id.
type backgroundProcess struct {
	cmd    *exec.Cmd
	output *lockedBuffer
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// fsExecutor performs upstream-requested filesystem operations inside
// the configured workspace. One instance per adapter; the background
// process table is owned by that instance.
type fsExecutor struct {
	cfg config.OrchidsConfig

	mu         sync.Mutex
	background map[string]*backgroundProcess
}

func newFSExecutor(cfg config.OrchidsConfig) *fsExecutor {
	return &fsExecutor{cfg: cfg, background: make(map[string]*backgroundProcess)}
}

func fsResponse(id string, success bool, data interface{}, errText string) map[string]interface{} {
	reply := map[string]interface{}{
		"type":    "fs_operation_response",
		"id":      id,
		"success": success,
	}
	if data != nil {
		reply["data"] = data
	}
	if errText != "" {
		reply["error"] = errText
	}
	return reply
}

// Execute runs one fs_operation and builds the synchronous reply. When
// local execution is disabled every operation is acknowledged without
// touching the filesystem; edit is always acknowledge-only because the
// client applies edits itself.
func (e *fsExecutor) Execute(id, operation string, args gjson.Result) map[string]interface{} {
	if operation == "edit" || !e.cfg.AllowFsOperations {
		return fsResponse(id, true, nil, "")
	}

	data, err := e.run(operation, args)
	if err != nil {
		log.Debugf("orchids: fs operation %s failed: %v", operation, err)
		return fsResponse(id, false, nil, err.Error())
	}
	return fsResponse(id, true, data, "")
}

func (e *fsExecutor) run(operation string, args gjson.Result) (interface{}, error) {
	switch operation {
	case "read":
		path, err := e.resolve(toolArgString(args, "file_path", "path"))
		if err != nil {
			return nil, err
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return string(content), nil

	case "write":
		path, err := e.resolve(toolArgString(args, "file_path", "path"))
		if err != nil {
			return nil, err
		}
		if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		return nil, os.WriteFile(path, []byte(toolArgString(args, "content", "contents")), 0o644)

	case "delete":
		path, err := e.resolve(toolArgString(args, "file_path", "path"))
		if err != nil {
			return nil, err
		}
		return nil, os.Remove(path)

	case "list":
		path, err := e.resolve(toolArgString(args, "path", "dir_path"))
		if err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() {
				name += "/"
			}
			names = append(names, name)
		}
		return names, nil

	case "glob":
		return e.glob(toolArgString(args, "pattern"), toolArgString(args, "path"))

	case "ripgrep", "grep":
		return e.ripgrep(toolArgString(args, "pattern"), toolArgString(args, "path"))

	case "run_command":
		return e.runCommand(args)

	case "get_background_output":
		return e.backgroundOutput(toolArgString(args, "bash_id"))

	case "kill_background_process":
		return nil, e.killBackground(toolArgString(args, "bash_id"))

	default:
		return nil, fmt.Errorf("unsupported operation %q", operation)
	}
}

// resolve joins a caller path onto the workspace root and rejects
// anything escaping it.
func (e *fsExecutor) resolve(path string) (string, error) {
	root, err := filepath.Abs(e.cfg.WorkspaceDir)
	if err != nil {
		return "", err
	}
	resolved := filepath.Clean(filepath.Join(root, path))
	if filepath.IsAbs(path) {
		resolved = filepath.Clean(path)
	}
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return resolved, nil
}

// compileGlob translates the restricted glob grammar to a regexp over
// forward-slashed relative paths. ** spans any number of segments
// including zero, * stays within a segment, ? matches one character.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch {
		case strings.HasPrefix(pattern[i:], "**/"):
			sb.WriteString("(?:[^/]+/)*")
			i += 2
		case strings.HasPrefix(pattern[i:], "**"):
			sb.WriteString(".*")
			i++
		case pattern[i] == '*':
			sb.WriteString("[^/]*")
		case pattern[i] == '?':
			sb.WriteString("[^/]")
		default:
			sb.WriteString(regexp.QuoteMeta(string(pattern[i])))
		}
	}
	sb.WriteString("$")
	return regexp.Compile(sb.String())
}

func skippableDir(name string) bool {
	return name == "node_modules" || name == ".git"
}

func (e *fsExecutor) glob(pattern, base string) ([]string, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad glob pattern %q: %w", pattern, err)
	}
	root, err := e.resolve(base)
	if err != nil {
		return nil, err
	}

	var matches []string
	err = filepath.WalkDir(root, func(path string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if entry.IsDir() {
			if skippableDir(entry.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		if re.MatchString(filepath.ToSlash(rel)) {
			matches = append(matches, filepath.ToSlash(rel))
		}
		return nil
	})
	return matches, err
}

type grepMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (e *fsExecutor) ripgrep(pattern, base string) ([]grepMatch, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad search pattern %q: %w", pattern, err)
	}
	root, err := e.resolve(base)
	if err != nil {
		return nil, err
	}

	var matches []grepMatch
	filesSeen := 0
	err = filepath.WalkDir(root, func(path string, entry os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if entry.IsDir() {
			if skippableDir(entry.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		filesSeen++
		if filesSeen > ripgrepMaxFiles {
			return filepath.SkipAll
		}
		info, infoErr := entry.Info()
		if infoErr != nil || info.Size() > ripgrepMaxFileSize {
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil || bytes.IndexByte(content, 0) >= 0 {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		for lineNo, line := range strings.Split(string(content), "\n") {
			if re.MatchString(line) {
				matches = append(matches, grepMatch{File: filepath.ToSlash(rel), Line: lineNo + 1, Text: line})
				if len(matches) >= ripgrepMaxResults {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	return matches, err
}

func (e *fsExecutor) runCommand(args gjson.Result) (interface{}, error) {
	if !e.cfg.AllowRunCommand {
		return nil, fmt.Errorf("run_command is disabled")
	}
	command := toolArgString(args, "command")
	if command == "" {
		return nil, fmt.Errorf("run_command requires a command")
	}
	workdir, err := e.resolve(toolArgString(args, "cwd"))
	if err != nil {
		return nil, err
	}

	if args.Get("background").Bool() {
		return nil, e.startBackground(toolArgString(args, "bash_id"), command, workdir)
	}

	ctx, cancel := context.WithTimeout(context.Background(), runCommandTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = workdir
	output, err := cmd.CombinedOutput()
	result := map[string]interface{}{"output": string(output), "exit_code": cmd.ProcessState.ExitCode()}
	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("command timed out after %s", runCommandTimeout)
	}
	if err != nil {
		// Non-zero exit is reported through exit_code, not as a failure.
		if _, isExit := err.(*exec.ExitError); !isExit {
			return nil, err
		}
	}
	return result, nil
}

func (e *fsExecutor) startBackground(bashID, command, workdir string) error {
	if bashID == "" {
		return fmt.Errorf("background run_command requires a bash_id")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.background[bashID]; exists {
		return fmt.Errorf("bash_id %q is already running", bashID)
	}

	output := &lockedBuffer{}
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = workdir
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		return err
	}
	e.background[bashID] = &backgroundProcess{cmd: cmd, output: output}
	go func() {
		_ = cmd.Wait()
	}()
	return nil
}

func (e *fsExecutor) backgroundOutput(bashID string) (interface{}, error) {
	e.mu.Lock()
	proc, ok := e.background[bashID]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("unknown bash_id %q", bashID)
	}
	running := proc.cmd.ProcessState == nil
	return map[string]interface{}{"output": proc.output.String(), "running": running}, nil
}

func (e *fsExecutor) killBackground(bashID string) error {
	e.mu.Lock()
	proc, ok := e.background[bashID]
	if ok {
		delete(e.background, bashID)
	}
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown bash_id %q", bashID)
	}
	if proc.cmd.Process != nil {
		return proc.cmd.Process.Kill()
	}
	return nil
}

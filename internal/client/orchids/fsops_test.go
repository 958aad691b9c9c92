package orchids

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/justlovemaki/AIClient-2-API/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func testExecutor(t *testing.T) (*fsExecutor, string) {
	t.Helper()
	workspace := t.TempDir()
	return newFSExecutor(config.OrchidsConfig{
		WorkspaceDir:      workspace,
		AllowFsOperations: true,
	}), workspace
}

func args(t *testing.T, raw string) gjson.Result {
	t.Helper()
	require.True(t, gjson.Valid(raw))
	return gjson.Parse(raw)
}

func TestReadWriteDelete(t *testing.T) {
	executor, workspace := testExecutor(t)

	reply := executor.Execute("op_1", "write", args(t, `{"file_path":"sub/hello.txt","content":"hi"}`))
	assert.Equal(t, true, reply["success"])

	content, err := os.ReadFile(filepath.Join(workspace, "sub", "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))

	reply = executor.Execute("op_2", "read", args(t, `{"file_path":"sub/hello.txt"}`))
	assert.Equal(t, true, reply["success"])
	assert.Equal(t, "hi", reply["data"])

	reply = executor.Execute("op_3", "delete", args(t, `{"file_path":"sub/hello.txt"}`))
	assert.Equal(t, true, reply["success"])
	_, err = os.Stat(filepath.Join(workspace, "sub", "hello.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestSandboxRejectsEscape(t *testing.T) {
	executor, _ := testExecutor(t)

	for _, path := range []string{"../outside.txt", "sub/../../etc/passwd", "/etc/passwd"} {
		reply := executor.Execute("op_1", "read", args(t, `{"file_path":"`+path+`"}`))
		assert.Equal(t, false, reply["success"], path)
		assert.Contains(t, reply["error"], "escapes the workspace", path)
	}
}

func TestEditIsAcknowledgeOnly(t *testing.T) {
	executor, workspace := testExecutor(t)

	reply := executor.Execute("op_1", "edit", args(t, `{"file_path":"a.go","old_string":"x","new_string":"y"}`))
	assert.Equal(t, true, reply["success"])
	_, err := os.Stat(filepath.Join(workspace, "a.go"))
	assert.True(t, os.IsNotExist(err), "edit must not touch the filesystem")
}

func TestDisabledExecutorAcknowledges(t *testing.T) {
	executor := newFSExecutor(config.OrchidsConfig{WorkspaceDir: t.TempDir()})

	reply := executor.Execute("op_1", "write", args(t, `{"file_path":"a.txt","content":"x"}`))
	assert.Equal(t, true, reply["success"])
	assert.NotContains(t, reply, "data")
}

func TestGlobSemantics(t *testing.T) {
	executor, workspace := testExecutor(t)
	for _, path := range []string{
		"main.go",
		"cmd/server/main.go",
		"internal/a/b/c.go",
		"internal/a/b/c_test.go",
		"node_modules/pkg/index.go",
		".git/config.go",
		"README.md",
	} {
		full := filepath.Join(workspace, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("package x\n"), 0o644))
	}

	matches, err := executor.glob("**/*.go", "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"main.go",
		"cmd/server/main.go",
		"internal/a/b/c.go",
		"internal/a/b/c_test.go",
	}, matches, "** spans zero or more segments; node_modules and .git are skipped")

	matches, err = executor.glob("*.go", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.go"}, matches, "* does not cross /")

	matches, err = executor.glob("internal/**/c?test.go", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"internal/a/b/c_test.go"}, matches, "? matches one non-/ character")
}

func TestRipgrep(t *testing.T) {
	executor, workspace := testExecutor(t)
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "a.txt"), []byte("alpha\nneedle here\nomega\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "b.txt"), []byte("no match\n"), 0o644))

	matches, err := executor.ripgrep("needle", "")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a.txt", matches[0].File)
	assert.Equal(t, 2, matches[0].Line)
	assert.Equal(t, "needle here", matches[0].Text)
}

func TestRunCommandGated(t *testing.T) {
	executor, _ := testExecutor(t)

	reply := executor.Execute("op_1", "run_command", args(t, `{"command":"echo hi"}`))
	assert.Equal(t, false, reply["success"])
	assert.Contains(t, reply["error"], "disabled")
}

func TestRunCommand(t *testing.T) {
	workspace := t.TempDir()
	executor := newFSExecutor(config.OrchidsConfig{
		WorkspaceDir:      workspace,
		AllowFsOperations: true,
		AllowRunCommand:   true,
	})

	reply := executor.Execute("op_1", "run_command", args(t, `{"command":"echo hi"}`))
	require.Equal(t, true, reply["success"])
	result := reply["data"].(map[string]interface{})
	assert.Equal(t, "hi\n", result["output"])
	assert.Equal(t, 0, result["exit_code"])
}

func TestCompileGlob(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		match   bool
	}{
		{"**/*.go", "a.go", true},
		{"**/*.go", "x/y/a.go", true},
		{"**/*.go", "a.md", false},
		{"*.go", "x/a.go", false},
		{"a?c.go", "abc.go", true},
		{"a?c.go", "a/c.go", false},
		{"src/**", "src/deep/file", true},
	}
	for _, tc := range cases {
		re, err := compileGlob(tc.pattern)
		require.NoError(t, err, tc.pattern)
		assert.Equal(t, tc.match, re.MatchString(tc.path), "%s vs %s", tc.pattern, tc.path)
	}
}

package paths

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_DefaultsUnderRepo(t *testing.T) {
	t.Setenv(EnvHome, "")
	p := New("/repo", "")
	assert.Equal(t, filepath.Join("/repo", ".mycelium"), p.Home())
}

func TestNew_EnvOverride(t *testing.T) {
	t.Setenv(EnvHome, "/custom/home")
	p := New("/repo", "")
	assert.Equal(t, "/custom/home", p.Home())
}

func TestNew_ExplicitWins(t *testing.T) {
	t.Setenv(EnvHome, "/env/home")
	p := New("/repo", "/explicit/home")
	assert.Equal(t, "/explicit/home", p.Home())
}

func TestTaskWorkspace_IsWithinWorkspacesBase(t *testing.T) {
	p := New("/repo", "/home")
	base := p.WorkspacesBase("proj", "run1")
	task := p.TaskWorkspace("proj", "run1", "TASK-1")
	assert.True(t, IsWithin(base, task))
}

func TestIsWithin(t *testing.T) {
	cases := []struct {
		base, target string
		want         bool
	}{
		{"/a/b", "/a/b/c", true},
		{"/a/b", "/a/b", true},
		{"/a/b", "/a/c", false},
		{"/a/b", "/a/bc", false},
		{"/a/b", "/a/b/../../etc", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, IsWithin(c.base, c.target), "base=%s target=%s", c.base, c.target)
	}
}

package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMyceliumError_Error(t *testing.T) {
	err := &MyceliumError{Code: CodeGit, What: "merge failed", Why: "conflict", Cause: fmt.Errorf("exit status 1")}
	assert.Equal(t, "merge failed: conflict: exit status 1", err.Error())
}

func TestMyceliumError_Is(t *testing.T) {
	a := &MyceliumError{Code: CodeDocker, What: "x"}
	b := &MyceliumError{Code: CodeDocker, What: "y"}
	c := &MyceliumError{Code: CodeLLM, What: "x"}
	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
}

func TestAs_UnwrapsWrapped(t *testing.T) {
	base := NewGit("merge", fmt.Errorf("boom"), true)
	wrapped := fmt.Errorf("context: %w", base)

	var target *MyceliumError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, CodeGitConflict, target.Code)
}

func TestNewDockerUnreachable_HasHint(t *testing.T) {
	err := NewDockerUnreachable(fmt.Errorf("dial unix: no such file"))
	assert.Contains(t, err.Fix, "--local-worker")
	assert.Equal(t, CategoryUnavailable, err.Category())
}

func TestUserMessage_OmitsEmptySections(t *testing.T) {
	err := &MyceliumError{Code: CodeTaskInvalid, What: "bad state"}
	msg := err.UserMessage()
	assert.Contains(t, msg, "Error: bad state")
	assert.NotContains(t, msg, "Why:")
	assert.NotContains(t, msg, "Fix:")
}

package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithinDirectory(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		dir     string
		wantErr bool
	}{
		{"direct child", "/frames/a.png", "/frames", false},
		{"nested", "/frames/day1/a.png", "/frames", false},
		{"the directory itself", "/frames", "/frames", false},
		{"dot segments inside", "/frames/x/../a.png", "/frames", false},
		{"parent traversal", "/frames/../etc/passwd", "/frames", true},
		{"sibling with shared prefix", "/frames-old/a.png", "/frames", true},
		{"relative escape", "../a.png", ".", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithinDirectory(tt.path, tt.dir)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideDirectory)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinDirectory(t *testing.T) {
	tmp := t.TempDir()
	safe := filepath.Join(tmp, "safe")
	outside := filepath.Join(tmp, "outside")
	require.NoError(t, os.MkdirAll(safe, 0755))
	require.NoError(t, os.MkdirAll(outside, 0755))

	secret := filepath.Join(outside, "secret.png")
	require.NoError(t, os.WriteFile(secret, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(safe, "ok.png"), []byte("x"), 0644))
	require.NoError(t, os.Symlink(secret, filepath.Join(safe, "linked.png")))
	require.NoError(t, os.Symlink(outside, filepath.Join(safe, "linkdir")))

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"regular file", filepath.Join(safe, "ok.png"), false},
		{"not yet created", filepath.Join(safe, "later.png"), false},
		{"dot dot", filepath.Join(safe, "..", "outside", "secret.png"), true},
		{"symlinked file", filepath.Join(safe, "linked.png"), true},
		{"through symlinked dir", filepath.Join(safe, "linkdir", "new.png"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, safe)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideDirectory)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	assert.Error(t, ValidatePathWithinDirectory(filepath.Join(safe, "a.png"), filepath.Join(tmp, "missing")))
}

package sanitize

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		rel     string
		want    string
		wantErr error
	}{
		{name: "simple file", rel: "main.go", want: filepath.Join(root, "main.go")},
		{name: "nested file", rel: "pkg/lexer/lexer.go", want: filepath.Join(root, "pkg", "lexer", "lexer.go")},
		{name: "inner dotdot stays inside", rel: "pkg/../main.go", want: filepath.Join(root, "main.go")},
		{name: "empty", rel: "", wantErr: ErrEmptyPath},
		{name: "absolute", rel: "/etc/passwd", wantErr: ErrAbsolutePath},
		{name: "parent", rel: "../outside.go", wantErr: ErrPathTraversal},
		{name: "nested escape", rel: "a/../../b.go", wantErr: ErrPathTraversal},
		{name: "root itself", rel: ".", wantErr: ErrPathTraversal},
		{name: "dotdot prefix name is fine", rel: "..data/x.go", want: filepath.Join(root, "..data", "x.go")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChangePath(tt.rel, root)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

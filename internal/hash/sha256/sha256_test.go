package sha256

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		hasher *Hasher
		input  string
		want   string
	}{
		{
			name:   "plain",
			hasher: New(),
			input:  "hello world",
			want:   "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
		{
			name:   "empty namespace matches plain",
			hasher: NewNamespaced(""),
			input:  "hello world",
			want:   "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
		{
			name:   "empty input",
			hasher: New(),
			input:  "",
			want:   "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := tt.hasher.Hash([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHasherNamespaceSeparatesDigests(t *testing.T) {
	t.Parallel()

	plain, err := New().Hash([]byte("project_id=p"))
	require.NoError(t, err)
	a, err := NewNamespaced("screenshots").Hash([]byte("project_id=p"))
	require.NoError(t, err)
	b, err := NewNamespaced("staging").Hash([]byte("project_id=p"))
	require.NoError(t, err)
	again, err := NewNamespaced("screenshots").Hash([]byte("project_id=p"))
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, plain, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, again)
}

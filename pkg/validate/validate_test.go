package validate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid ascii", "alice_01", false},
		{"valid chinese", "管理员", false},
		{"too short", "ab", true},
		{"too long", strings.Repeat("a", 21), true},
		{"starts with digit", "1alice", true},
		{"forbidden char", "alice!", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Username(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestPassword(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", "abc123", false},
		{"too short", "a1", true},
		{"letters only", "abcdef", true},
		{"digits only", "123456", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Password(tt.input)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGroupName(t *testing.T) {
	require.NoError(t, GroupName("general"))
	require.NoError(t, GroupName("一般 chat"))
	require.Error(t, GroupName("a"))
	require.Error(t, GroupName("   "))
	require.Error(t, GroupName("bad/name"))
}

func TestSanitizeMessageContent(t *testing.T) {
	out, err := SanitizeMessageContent("  hello\tworld\n  ")
	require.NoError(t, err)
	assert.Equal(t, "hello\tworld", out)

	_, err = SanitizeMessageContent("   ")
	assert.Error(t, err)

	withControl := "hi\x00there"
	out, err = SanitizeMessageContent(withControl)
	require.NoError(t, err)
	assert.Equal(t, "hithere", out)

	long := strings.Repeat("x", MaxMessageContentLen+50)
	out, err = SanitizeMessageContent(long)
	require.NoError(t, err)
	assert.LessOrEqual(t, len([]rune(out)), MaxMessageContentLen)
}

func TestFileName(t *testing.T) {
	allowed := map[string]bool{"png": true, "txt": true}

	require.NoError(t, FileName("photo.png", allowed))
	assert.Error(t, FileName("", allowed))
	assert.Error(t, FileName("photo.exe", allowed))
	assert.Error(t, FileName("CON.txt", allowed))
	assert.Error(t, FileName("bad/name.txt", allowed))
	assert.Error(t, FileName(strings.Repeat("a", MaxFileNameLen+1)+".txt", allowed))
}

func TestFileSize(t *testing.T) {
	require.NoError(t, FileSize(100, 1000))
	require.Error(t, FileSize(1001, 1000))
	require.NoError(t, FileSize(DefaultMaxFileSize, 0))
}

package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
families:
  - id: 7
    members:
      - user_id: 1
        role: parent
        display_name: Sam
        telegram_chat_id: 1001
      - user_id: 2
        role: parent
        display_name: Robin
  - id: 8
    members:
      - user_id: 3
`

func TestParseStatic(t *testing.T) {
	d, err := ParseStatic([]byte(sampleYAML))
	require.NoError(t, err)

	members, err := d.Members(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, "Sam", members[0].DisplayName)
	assert.Equal(t, int64(1001), members[0].TelegramChatID)
	assert.Equal(t, uint(7), members[1].FamilyID)

	ok, err := IsMember(context.Background(), d, 7, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsMember(context.Background(), d, 7, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadStatic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "families.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	d, err := LoadStatic(path)
	require.NoError(t, err)
	members, _ := d.Members(context.Background(), 8)
	assert.Len(t, members, 1)

	_, err = LoadStatic(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseStatic_Invalid(t *testing.T) {
	_, err := ParseStatic([]byte("families: [unclosed"))
	assert.Error(t, err)
}

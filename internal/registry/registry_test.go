package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileIsEmpty(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), "Nanomi")
	require.NoError(t, err)
	require.Empty(t, r.List())
}

func TestRegisterPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	r, err := Load(path, "Nanomi")
	require.NoError(t, err)

	require.NoError(t, r.Register(Chat{ChatID: -1001, ChatType: "supergroup", Mode: TriggerMention}))

	reloaded, err := Load(path, "Nanomi")
	require.NoError(t, err)
	require.True(t, reloaded.IsRegistered(-1001))
	require.Equal(t, TriggerMention, reloaded.Get(-1001).Mode)
}

func TestUnregisterAbsentIsTolerated(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), "Nanomi")
	require.NoError(t, err)
	require.NoError(t, r.Unregister(999))
}

func TestEvaluateMainAlwaysFires(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), "Nanomi")
	require.NoError(t, err)

	d := r.Evaluate(MainWorkspace, 1, "anything at all")
	require.True(t, d.Fire)
	require.Equal(t, "anything at all", d.Content)
}

func TestEvaluateUnregisteredChatIsSilentlySkipped(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), "Nanomi")
	require.NoError(t, err)

	d := r.Evaluate("family-chat", 1, "hello @Nanomi")
	require.False(t, d.Fire)
}

func TestEvaluateAlwaysMode(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), "Nanomi")
	require.NoError(t, err)
	require.NoError(t, r.Register(Chat{ChatID: 1, Mode: TriggerAlways}))

	d := r.Evaluate("family-chat", 1, "hello there")
	require.True(t, d.Fire)
	require.Equal(t, "hello there", d.Content)
}

func TestEvaluateDisabledMode(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), "Nanomi")
	require.NoError(t, err)
	require.NoError(t, r.Register(Chat{ChatID: 1, Mode: TriggerDisabled}))

	d := r.Evaluate("family-chat", 1, "@Nanomi help")
	require.False(t, d.Fire)
}

func TestEvaluateMentionModeRequiresPatternAndStripsIt(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), "Nanomi")
	require.NoError(t, err)
	require.NoError(t, r.Register(Chat{ChatID: 1, Mode: TriggerMention}))

	miss := r.Evaluate("family-chat", 1, "no mention here")
	require.False(t, miss.Fire)

	hit := r.Evaluate("family-chat", 1, "Hey @NANOMI can you help")
	require.True(t, hit.Fire)
	require.Equal(t, "Hey can you help", hit.Content)
}

func TestEvaluateMentionModeCustomPattern(t *testing.T) {
	r, err := Load(filepath.Join(t.TempDir(), "registry.json"), "Nanomi")
	require.NoError(t, err)
	require.NoError(t, r.Register(Chat{ChatID: 1, Mode: TriggerMention, MentionPattern: "hey bot"}))

	d := r.Evaluate("family-chat", 1, "Hey Bot, status please")
	require.True(t, d.Fire)
}

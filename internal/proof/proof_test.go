package proof

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentgate/internal/approval"
)

func newTestStore(t *testing.T) (*Store, *clock.Mock) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC))
	return NewStore(filepath.Join(t.TempDir(), "proof-status"), clk), clk
}

func grant(t *testing.T, text string) approval.Grant {
	t.Helper()
	c, err := approval.NewClassifier([]string{"lgtm", "ship it"})
	require.NoError(t, err)
	g, ok := c.Classify(approval.HumanPrompt{Text: text})
	require.True(t, ok)
	return g
}

func TestStore_MissingIsAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	st, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, Absent, st.State)
	assert.True(t, st.AllowsRelease())
}

func TestStore_Lifecycle(t *testing.T) {
	s, clk := newTestStore(t)
	ctx := context.Background()

	tr, err := s.Arm(ctx)
	require.NoError(t, err)
	assert.Equal(t, Transition{From: Absent, To: NeedsVerification, Changed: true}, tr)

	st, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, NeedsVerification, st.State)
	assert.Equal(t, clk.Now().UTC(), st.Since)
	assert.False(t, st.AllowsRelease())

	// a second arm is a no-op
	tr, err = s.Arm(ctx)
	require.NoError(t, err)
	assert.False(t, tr.Changed)

	clk.Add(time.Minute)
	tr, err = s.Verify(ctx, grant(t, "lgtm"))
	require.NoError(t, err)
	assert.Equal(t, Transition{From: NeedsVerification, To: Verified, Changed: true}, tr)

	st, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, Verified, st.State)
	assert.True(t, st.AllowsRelease())

	// arm does not downgrade verified
	tr, err = s.Arm(ctx)
	require.NoError(t, err)
	assert.False(t, tr.Changed)

	tr, err = s.Reset(ctx)
	require.NoError(t, err)
	assert.Equal(t, Transition{From: Verified, To: Absent, Changed: true}, tr)
	st, err = s.Read()
	require.NoError(t, err)
	assert.Equal(t, Absent, st.State)
}

func TestStore_VerifyRequiresNeedsVerification(t *testing.T) {
	s, _ := newTestStore(t)
	tr, err := s.Verify(context.Background(), grant(t, "ship it"))
	require.NoError(t, err)
	assert.False(t, tr.Changed)
	assert.Equal(t, Absent, tr.To)

	_, err = os.Stat(s.path)
	assert.True(t, os.IsNotExist(err), "no file is written for a no-op")
}

func TestStore_VerifyRejectsZeroGrant(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Arm(context.Background())
	require.NoError(t, err)

	_, err = s.Verify(context.Background(), approval.Grant{})
	assert.ErrorIs(t, err, ErrInvalidGrant)

	st, _ := s.Read()
	assert.Equal(t, NeedsVerification, st.State)
}

func TestStore_Corrupt(t *testing.T) {
	tests := []string{"garbage", "verified|yesterday", "|", "maybe|2026-01-01T00:00:00Z"}
	for _, body := range tests {
		t.Run(body, func(t *testing.T) {
			s, _ := newTestStore(t)
			require.NoError(t, os.WriteFile(s.path, []byte(body), 0o644))

			st, err := s.Read()
			assert.ErrorIs(t, err, ErrUnreadableState)
			assert.Equal(t, Corrupt, st.State)
			assert.False(t, st.AllowsRelease())

			// verification cannot proceed from an unreadable file
			_, err = s.Verify(context.Background(), grant(t, "lgtm"))
			assert.ErrorIs(t, err, ErrUnreadableState)

			// arming repairs it into a gated state
			tr, err := s.Arm(context.Background())
			require.NoError(t, err)
			assert.Equal(t, Transition{From: Corrupt, To: NeedsVerification, Changed: true}, tr)
		})
	}
}

func TestParse_StateWithoutTimestamp(t *testing.T) {
	st, err := parse("verified\n")
	require.NoError(t, err)
	assert.Equal(t, Verified, st.State)
	assert.True(t, st.Since.IsZero())
}

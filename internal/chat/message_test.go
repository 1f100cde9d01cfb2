package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/duel/internal/auth"
)

func TestNormalizeKinds(t *testing.T) {
	tests := []struct {
		name  string
		draft Draft
		want  Kind
	}{
		{"text", Draft{Text: " hi "}, KindText},
		{"image", Draft{Image: "https://cdn/x.png", Text: "look"}, KindImage},
		{"music", Draft{YouTubeID: "dQw4w9WgXcQ", Title: "song"}, KindMusic},
		{"music wins over image", Draft{YouTubeID: "abc", Image: "https://cdn/x.png"}, KindMusic},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, kind, err := tt.draft.Normalize()
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestNormalizeTrims(t *testing.T) {
	d, _, err := Draft{Text: "  hello  ", Title: "ignored"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, "hello", d.Text)
	assert.Empty(t, d.Title)
}

func TestNormalizeEmpty(t *testing.T) {
	_, _, err := Draft{Text: "   "}.Normalize()
	assert.ErrorIs(t, err, ErrEmptyMessage)
}

func TestNormalizeTooLong(t *testing.T) {
	_, _, err := Draft{Text: strings.Repeat("a", MaxTextLength+1)}.Normalize()
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestSenderFromIdentity(t *testing.T) {
	s := SenderFromIdentity(auth.Identity{ID: "1", Username: "alice", AvatarURL: "a.png"})
	assert.Equal(t, Sender{ID: "1", Username: "alice", AvatarURL: "a.png"}, s)
}

func TestOptionalString(t *testing.T) {
	assert.Nil(t, OptionalString(""))
	require.NotNil(t, OptionalString("x"))
	assert.Equal(t, "x", *OptionalString("x"))
}

// Property: a draft with any non-blank field normalizes to some kind.
func TestPropertyNonBlankDraftHasKind(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		d := Draft{
			Text:      rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "text"),
			Image:     rapid.StringMatching(`(https://x/[a-z]{1,5}\.png)?`).Draw(t, "image"),
			YouTubeID: rapid.StringMatching(`([A-Za-z0-9]{11})?`).Draw(t, "yt"),
		}
		blank := strings.TrimSpace(d.Text) == "" && d.Image == "" && d.YouTubeID == ""
		_, kind, err := d.Normalize()
		if blank {
			if err == nil {
				t.Fatalf("blank draft accepted as %q", kind)
			}
			return
		}
		if err != nil || kind == "" {
			t.Fatalf("draft %+v: kind=%q err=%v", d, kind, err)
		}
	})
}

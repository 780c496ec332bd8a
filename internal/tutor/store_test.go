package tutor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fillStore(s *ConversationStore, n int) {
	for i := 0; i < n; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		s.Append(Message{Role: role, Content: fmt.Sprintf("m%d", i)})
	}
}

func TestWindowedHistory_Bounds(t *testing.T) {
	for _, size := range []int{0, 1, 5, 10, 11, 25} {
		for _, n := range []int{0, 1, 3, 10, 30} {
			t.Run(fmt.Sprintf("len=%d/n=%d", size, n), func(t *testing.T) {
				s := NewConversationStore()
				fillStore(s, size)

				got := s.WindowedHistory(n)
				assert.Len(t, got, min(n, size))
				if len(got) > 0 {
					assert.Equal(t, fmt.Sprintf("m%d", size-1), got[len(got)-1].Content)
					assert.Equal(t, fmt.Sprintf("m%d", size-len(got)), got[0].Content)
				}
			})
		}
	}
}

func TestWindowedHistory_EmptyLog(t *testing.T) {
	s := NewConversationStore()
	got := s.WindowedHistory(10)
	require.NotNil(t, got)
	assert.Empty(t, got)
}

func TestWindowedHistory_OnlyRoleAndContent(t *testing.T) {
	s := NewConversationStore()
	s.Append(Message{Role: RoleAssistant, Content: "hello", Suggestions: []string{"a"}, RelatedTopics: []string{"b"}})

	got := s.WindowedHistory(10)
	require.Len(t, got, 1)
	assert.Equal(t, "assistant", got[0].Role)
	assert.Equal(t, "hello", got[0].Content)
}

func TestAppend_PreservesOrderAndAssignsIDs(t *testing.T) {
	s := NewConversationStore()
	fillStore(s, 20)

	snap := s.Snapshot()
	require.Len(t, snap.Messages, 20)
	seen := map[string]bool{}
	for i, m := range snap.Messages {
		assert.Equal(t, fmt.Sprintf("m%d", i), m.Content)
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.Timestamp.IsZero())
		assert.False(t, seen[m.ID], "duplicate id %s", m.ID)
		seen[m.ID] = true
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := NewConversationStore()
	s.Append(Message{Role: RoleAssistant, Content: "x", Suggestions: []string{"keep"}})

	snap := s.Snapshot()
	snap.Messages[0].Content = "mutated"
	snap.Messages[0].Suggestions[0] = "mutated"

	again := s.Snapshot()
	assert.Equal(t, "x", again.Messages[0].Content)
	assert.Equal(t, "keep", again.Messages[0].Suggestions[0])
}

func TestSubscribe_NotifiedOnChange(t *testing.T) {
	s := NewConversationStore()
	var snaps []Snapshot
	unsubscribe := s.Subscribe(func(snap Snapshot) { snaps = append(snaps, snap) })

	s.Append(Message{Role: RoleUser, Content: "hi"})
	s.SetMode(ModeSocratic)
	s.SetMode(ModeSocratic) // no-op
	s.SetContext("Biology", "Cells")

	require.Len(t, snaps, 3)
	assert.Len(t, snaps[0].Messages, 1)
	assert.Equal(t, ModeSocratic, snaps[1].Mode)
	assert.Equal(t, "Biology", snaps[2].SubjectContext)
	assert.Equal(t, "Cells", snaps[2].TopicContext)

	unsubscribe()
	s.Append(Message{Role: RoleUser, Content: "again"})
	assert.Len(t, snaps, 3)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode(" Socratic ")
	require.NoError(t, err)
	assert.Equal(t, ModeSocratic, m)

	m, err = ParseMode("direct")
	require.NoError(t, err)
	assert.Equal(t, ModeDirect, m)

	_, err = ParseMode("lecture")
	assert.Error(t, err)
}

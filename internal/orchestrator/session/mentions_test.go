package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMentions_ExtractsHandlesInOrderWithoutDuplicates(t *testing.T) {
	got := parseMentions("hey @ada, what do you and @grace think? cc @ada")
	assert.Equal(t, []string{"ada", "grace"}, got)
}

func TestParseMentions_NoMentionsReturnsNil(t *testing.T) {
	assert.Nil(t, parseMentions("just a plain message"))
}

func TestMergeTags_SkipsExistingAndPreservesOrder(t *testing.T) {
	got := mergeTags([]string{"ada"}, []string{"grace", "ada", "lin"})
	assert.Equal(t, []string{"ada", "grace", "lin"}, got)
}

func TestMergeTags_EmptyBaseAndNewTagsReturnsEmpty(t *testing.T) {
	assert.Nil(t, mergeTags(nil, nil))
}

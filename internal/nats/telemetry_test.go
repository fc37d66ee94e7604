package nats

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conthunt/streamcore/internal/model"
)

func TestJobSubject(t *testing.T) {
	tests := []struct {
		kind model.JobKind
		id   string
		want string
	}{
		{model.JobKindSearch, "s1", "jobs.search.s1"},
		{model.JobKindLoadMore, "a.b", "jobs.load_more.a_b"},
		{model.JobKindChatTurn, "x > y*", "jobs.chat_turn.x___y_"},
		{model.JobKindSearch, "", "jobs.search._"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JobSubject(tt.kind, tt.id))
	}
}

func TestKindFilter(t *testing.T) {
	assert.Equal(t, "jobs.chat_turn.*", KindFilter(model.JobKindChatTurn))
}

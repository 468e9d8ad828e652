package uuid

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	id := New()
	assert.NotEqual(t, Nil, id)
	assert.Equal(t, uuid.Version(7), id.Version())

	id2, err := NewRandom()
	assert.NoError(t, err)
	assert.NotEqual(t, id, id2)
}

func TestParse(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	assert.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = Parse("not-a-uuid")
	assert.Error(t, err)
}

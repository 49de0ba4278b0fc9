package vertex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
)

func TestNewRequiresProject(t *testing.T) {
	_, err := New(context.Background(), am.VertexConfig{Location: "europe-west4"}, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsServiceUnavailableError(err))
	assert.NotEmpty(t, errors.GetAllHints(err))
}

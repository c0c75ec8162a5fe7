package computer

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTMLSessionSavesMarkup(t *testing.T) {
	s := &htmlSession{dir: t.TempDir()}
	got := collect(t, s.Run(context.Background(), "<h1>hi</h1>"))

	require.Len(t, got, 2)
	assert.Equal(t, HTML("<h1>hi</h1>"), got[0])
	path := strings.TrimPrefix(got[1].Output, "HTML saved to ")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<h1>hi</h1>", string(data))

	require.NoError(t, s.Terminate())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

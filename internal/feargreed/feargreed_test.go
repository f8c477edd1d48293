package feargreed

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fng/", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[{"value":"21","value_classification":"Extreme Fear","timestamp":"1700000000"}]}`)
	}))
	defer srv.Close()

	fg, err := New(srv.URL).Current(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 21, fg.Value)
	assert.Equal(t, "Extreme Fear", fg.Classification)
	assert.Equal(t, int64(1700000000), fg.Timestamp.Unix())
}

func TestCurrentEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).Current(context.Background())
	assert.ErrorIs(t, err, ErrNoData)
}

// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package lookup

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	old := eutilsSearchBase
	eutilsSearchBase = ts.URL
	t.Cleanup(func() { eutilsSearchBase = old })
	return ts
}

func idListResponse(ids ...string) string {
	out := `{"esearchresult":{"idlist":[`
	for i, id := range ids {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", id)
	}
	return out + `]}}`
}

func TestPMIDByDOI(t *testing.T) {
	var gotTerm, gotEmail string
	newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotTerm = r.URL.Query().Get("term")
		gotEmail = r.URL.Query().Get("email")
		fmt.Fprint(w, idListResponse("31542391"))
	})

	c := &Client{Email: "lab@example.org"}
	pmid, ok, err := c.PMIDByDOI(context.Background(), "10.1016/j.joms.2019.08.014")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "31542391", pmid)
	assert.Equal(t, "10.1016/j.joms.2019.08.014[AID]", gotTerm)
	assert.Equal(t, "lab@example.org", gotEmail)
}

func TestPMIDByTitle(t *testing.T) {
	newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Query().Get("term"), "[Title]")
		fmt.Fprint(w, idListResponse("12345"))
	})

	c := &Client{}
	pmid, ok, err := c.PMIDByTitle(context.Background(), "Dental screening before bisphosphonate therapy")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "12345", pmid)
}

func TestNoMatch(t *testing.T) {
	newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, idListResponse())
	})

	c := &Client{}
	_, ok, err := c.PMIDByDOI(context.Background(), "10.1000/nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Multiple hits would bind the wrong identity; treated as no match.
func TestAmbiguousMatch(t *testing.T) {
	newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, idListResponse("111", "222"))
	})

	c := &Client{}
	_, ok, err := c.PMIDByTitle(context.Background(), "Case report")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEmptyInputsSkipLookup(t *testing.T) {
	called := false
	newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		called = true
		fmt.Fprint(w, idListResponse("1"))
	})

	c := &Client{}
	_, ok, err := c.PMIDByDOI(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.PMIDByTitle(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, called)
}

func TestServerError(t *testing.T) {
	newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	c := &Client{}
	_, _, err := c.PMIDByDOI(context.Background(), "10.1000/x")
	require.Error(t, err)
}

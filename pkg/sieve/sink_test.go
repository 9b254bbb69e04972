package sieve

import (
	"bytes"
	"context"
	"testing"

	"github.com/athapong/entity-sieve/pkg/transform"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestNDJSONSinkWritesLines(t *testing.T) {
	var out bytes.Buffer
	sink := NewNDJSONSink(&out)

	require.NoError(t, sink.Write(context.Background(), transform.Build("1", nil, false)))
	assert.Equal(t, `{"nit":"1","adjudicado":true}`+"\n", out.String(), "each line is flushed as it is written")

	require.NoError(t, sink.Write(context.Background(), transform.Record{Nit: "2", NombrePersona: transform.Set(nil)}))
	require.NoError(t, sink.Close())

	assert.Equal(t, `{"nit":"1","adjudicado":true}`+"\n"+`{"nit":"2","adjudicado":false,"nombre_persona":null}`+"\n", out.String())
	assert.Equal(t, 2, sink.Written())
}

func TestNDJSONSinkWriteError(t *testing.T) {
	sink := NewNDJSONSink(failingWriter{})
	err := sink.Write(context.Background(), transform.Build("1", nil, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
	assert.Zero(t, sink.Written())
}

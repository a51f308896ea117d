package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbursa/latent-journey-sub000/internal/embedding"
	"github.com/nbursa/latent-journey-sub000/pkg/types"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(io.Discard)
	RootCmd.SetArgs(args)
	err := RootCmd.Execute()
	return out.String(), err
}

func TestCLI_Root(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range RootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"explore", "watch", "embed", "import", "backup"} {
		assert.True(t, names[want], "missing subcommand %q", want)
	}
}

func TestEmbedCommand_Deterministic(t *testing.T) {
	t.Setenv("LATENT_LOG_LEVEL", "error")

	out, err := execute(t, "embed", "--source", "speech", "--ts", "12.5", "--content", "hello", "--valence", "0.9")
	require.NoError(t, err)

	var got types.Embedding
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	want := embedding.Deterministic{}.Embed(types.MemoryEvent{
		Timestamp: 12.5,
		Source:    types.SourceSpeech,
		Content:   "hello",
		Facets:    types.Facets{Valence: types.Float(0.9)},
	})
	assert.Equal(t, want, got)
}

func TestEmbedCommand_UnknownSource(t *testing.T) {
	t.Setenv("LATENT_LOG_LEVEL", "error")
	_, err := execute(t, "embed", "--source", "smell", "--ts", "1")
	assert.ErrorIs(t, err, types.ErrUnknownSource)
}

func TestImportThenExplore(t *testing.T) {
	dir := t.TempDir()
	reduction := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer reduction.Close()

	t.Setenv("LATENT_LOG_LEVEL", "error")
	t.Setenv("LATENT_DATA_PATH", dir)
	t.Setenv("LATENT_EVENTS_SOURCE", "sqlite")
	t.Setenv("LATENT_EMBEDDING_PROVIDER", "none")
	t.Setenv("LATENT_REDUCTION_URL", reduction.URL)

	file := filepath.Join(dir, "events.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"events": [
		{"ts": 100, "source": "vision", "content": "a cat", "facets": {"affect.valence": 0.8}},
		{"timestamp": 200, "source": "speech", "content": "hello there", "facets": {"speech.intent": "greet"}},
		{"ts": 300, "source": "short-term-memory", "content": "thinking"}
	]}`), 0o600))

	out, err := execute(t, "import", file)
	require.NoError(t, err)
	assert.Equal(t, "imported 3 of 3 events (3 stored)\n", out)

	out, err = execute(t, "import", file)
	require.NoError(t, err)
	assert.Equal(t, "imported 0 of 3 events (3 stored)\n", out)

	out, err = execute(t, "explore", "--summary", "--k", "2", "--dims", "2")
	require.NoError(t, err)

	var summary snapshotSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.Events)
	assert.Equal(t, 2, summary.Dims)
	assert.True(t, summary.Degraded.ReductionFallback)
	assert.Equal(t, 3, summary.Degraded.DeterministicEmbeddings)

	size := 0
	for _, c := range summary.Clusters {
		size += c.Size
	}
	assert.Equal(t, 3, size)
	assert.NotEmpty(t, summary.Groups)

	dest := filepath.Join(dir, "copy.db")
	out, err = execute(t, "backup", dest)
	require.NoError(t, err)
	assert.Equal(t, dest+"\n", out)
	assert.FileExists(t, dest)
}

func TestDecodeEventFile(t *testing.T) {
	events, err := decodeEventFile([]byte(` [{"ts": 1, "source": "vision"}]`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.SourceVision, events[0].Source)

	events, err = decodeEventFile([]byte(`{"events": [{"ts": 2, "source": "ltm"}]}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.SourceLongTerm, events[0].Source)

	_, err = decodeEventFile([]byte(`not json`))
	assert.Error(t, err)
}

func TestWriteOutput(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeOutput(&buf, "yaml", map[string]int{"a": 1}))
	assert.Equal(t, "a: 1\n", buf.String())

	assert.ErrorIs(t, writeOutput(&buf, "xml", nil), errUnknownFormat)
}

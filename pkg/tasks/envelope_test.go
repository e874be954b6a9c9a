package tasks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripPreservesUniqueID(t *testing.T) {
	all := []Task{
		must(NewScanLibrary("L1")),
		must(NewAnalyzeBook("B1")),
		must(NewGenerateBookThumbnail("B1")),
		must(NewRefreshBookMetadata("B1", CapabilityTitle, CapabilityAuthors)),
		must(NewRefreshSeriesMetadata("S1")),
		must(NewAggregateSeriesMetadata("S1")),
	}

	for _, task := range all {
		t.Run(string(task.Kind()), func(t *testing.T) {
			env, err := NewEnvelope(task, RoutingFor(task))
			require.NoError(t, err)

			data, err := json.Marshal(env)
			require.NoError(t, err)

			var decodedEnv Envelope
			require.NoError(t, json.Unmarshal(data, &decodedEnv))

			decoded, err := Decode(decodedEnv)
			require.NoError(t, err)
			assert.Equal(t, task, decoded)
			assert.Equal(t, task.UniqueID(), decodedEnv.UniqueID)
		})
	}
}

func TestNewEnvelopeCarriesRouting(t *testing.T) {
	task := must(NewScanLibrary("L1"))

	first, err := NewEnvelope(task, RoutingFor(task))
	require.NoError(t, err)
	second, err := NewEnvelope(task, RoutingFor(task))
	require.NoError(t, err)

	assert.Equal(t, MessageType, first.Type)
	assert.Equal(t, KindScanLibrary, first.Kind)
	assert.Equal(t, "scan_library:L1", first.UniqueID)
	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID, "message ids identify submissions")
	assert.Equal(t, first.UniqueID, second.UniqueID)
	assert.False(t, first.CreatedAt.IsZero())
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	_, err := Decode(Envelope{Kind: "email", Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeRejectsMissingSubject(t *testing.T) {
	_, err := Decode(Envelope{Kind: KindAnalyzeBook, Payload: json.RawMessage(`{"library_id":"L1"}`)})
	assert.ErrorIs(t, err, ErrMissingSubject)
}

func TestDecodeRefreshWithoutCapabilitiesSelectsAll(t *testing.T) {
	task, err := Decode(Envelope{Kind: KindRefreshBookMetadata, Payload: json.RawMessage(`{"book_id":"B1"}`)})
	require.NoError(t, err)

	refresh, ok := task.(RefreshBookMetadata)
	require.True(t, ok)
	assert.ElementsMatch(t, AllCapabilities(), refresh.Capabilities())
}

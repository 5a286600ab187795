package cli

import (
	"bytes"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusReport_TextTable(t *testing.T) {
	report := &StatusReport{
		Database:     "agent.db",
		StateBackend: "sqlite",
		Interval:     "2m0s",
		Identities: []IdentityStatus{
			{
				DID:    "did:web:alice.example",
				Events: 3,
				Endpoints: []EndpointStatus{
					{Endpoint: "https://dwn.alice.example", Push: "3", Pull: "1"},
					{Endpoint: "wss://dwn.alice.example"},
				},
			},
			{
				DID:       "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK",
				Events:    12,
				HasKey:    true,
				Endpoints: []EndpointStatus{},
			},
		},
	}

	buf := &bytes.Buffer{}
	require.NoError(t, report.renderText(buf))

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "status_table", buf.Bytes())
}

func TestStatusReport_Empty(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, (&StatusReport{Database: "agent.db", StateBackend: "redis", Interval: "30s"}).renderText(buf))
	assert.Contains(t, buf.String(), "state:    redis")
	assert.Contains(t, buf.String(), "No identities registered.")
}

func TestShortDID(t *testing.T) {
	assert.Equal(t, "did:web:alice.example", shortDID("did:web:alice.example"))
	assert.Equal(t, "did:key:z6MkhaXgBZDvotDk...ta2doK",
		shortDID("did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"))
}

func TestStatusCommand_PinnedEndpoints(t *testing.T) {
	db := tempDB(t)
	_, err := execute(t, db, "identity", "register", "did:web:alice.example",
		"--endpoint", "https://dwn.alice.example", "--endpoint", "wss://dwn.alice.example")
	require.NoError(t, err)
	_, err = execute(t, db, "identity", "register", "did:web:bob.example")
	require.NoError(t, err)

	var status StatusReport
	executeJSON(t, db, &status, "status")
	assert.Equal(t, db, status.Database)
	assert.Equal(t, "sqlite", status.StateBackend)
	require.Len(t, status.Identities, 2)

	alice := status.Identities[0]
	assert.Equal(t, "did:web:alice.example", alice.DID)
	require.Len(t, alice.Endpoints, 2)
	assert.Equal(t, "https://dwn.alice.example", alice.Endpoints[0].Endpoint)
	assert.Empty(t, alice.Endpoints[0].Push)

	assert.Empty(t, status.Identities[1].Endpoints)
}

package wire

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"routekit/internal/diag"
	"routekit/internal/routes"
)

func sample() *routes.Entrypoints {
	return &routes.Entrypoints{
		Routes: map[string]routes.Route{
			"/api/hello": {
				Kind:     routes.KindPageAPI,
				Endpoint: &routes.Endpoint{Kind: routes.EndpointAPI, Pathname: "/api/hello", Source: "pages/api/hello.ts"},
			},
			"/": {
				Kind: routes.KindPage,
				HTML: &routes.Endpoint{Kind: routes.EndpointHTML, Pathname: "/", Source: "pages/index.tsx"},
				Data: &routes.Endpoint{Kind: routes.EndpointData, Pathname: "/", Source: "pages/index.tsx"},
			},
			"/x": {Kind: routes.KindConflict},
		},
		Middleware: &routes.Middleware{
			Endpoint: routes.Endpoint{Kind: routes.EndpointMiddleware, Pathname: "/", Source: "middleware.ts"},
			Config:   routes.MiddlewareConfig{Runtime: routes.RuntimeEdge},
		},
	}
}

func counter() func(routes.Endpoint) uint64 {
	ids := map[string]uint64{}
	return func(ep routes.Endpoint) uint64 {
		if id, ok := ids[ep.HandleKey()]; ok {
			return id
		}
		ids[ep.HandleKey()] = uint64(len(ids) + 1)
		return ids[ep.HandleKey()]
	}
}

func TestNewEntrypointsShape(t *testing.T) {
	payload, err := NewEntrypoints(sample(), []diag.Diagnostic{diag.New("c", "N")}, counter())
	require.NoError(t, err)

	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"routes": [
			{"pathname": "/", "type": "page", "htmlEndpoint": 1, "dataEndpoint": 2},
			{"pathname": "/api/hello", "type": "page-api", "endpoint": 3},
			{"pathname": "/x", "type": "conflict"}
		],
		"middleware": {"endpoint": 4, "runtime": "edge", "matcher": null},
		"diagnostics": [{"category": "c", "name": "N", "payload": {}}]
	}`, string(data))
	assert.Equal(t, []uint64{1, 2, 3, 4}, payload.EndpointIDs())
}

func TestNewEntrypointsRejectsUnknownEnums(t *testing.T) {
	e := sample()
	e.Middleware.Config.Runtime = routes.Runtime(42)
	_, err := NewEntrypoints(e, nil, counter())
	assert.Error(t, err)

	e = sample()
	e.Routes["/bad"] = routes.Route{}
	_, err = NewEntrypoints(e, nil, counter())
	assert.Error(t, err)
}

func TestEmptyEntrypointsEncodeEmptyLists(t *testing.T) {
	payload, err := NewEntrypoints(&routes.Entrypoints{}, nil, counter())
	require.NoError(t, err)
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"routes": [], "middleware": null, "diagnostics": []}`, string(data))
}

func TestEncoderStreams(t *testing.T) {
	for _, f := range []Format{FormatJSON, FormatMsgpack} {
		t.Run(string(f), func(t *testing.T) {
			var buf bytes.Buffer
			enc, err := NewEncoder(&buf, f)
			require.NoError(t, err)
			require.NoError(t, enc.Encode(Update{Seq: 1, Error: &ErrorPayload{Kind: ErrorTransient, Message: "boom"}}))
			require.NoError(t, enc.Encode(Update{Seq: 2, Payload: &Entrypoints{Routes: []Route{{Pathname: "/", Type: "page"}}}}))

			dec, err := NewDecoder(&buf, f)
			require.NoError(t, err)
			var first, second Update
			require.NoError(t, dec.Decode(&first))
			require.NoError(t, dec.Decode(&second))
			assert.Equal(t, "boom", first.Error.Message)
			assert.Equal(t, "/", second.Payload.Routes[0].Pathname)
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("MSGPACK")
	require.NoError(t, err)
	assert.Equal(t, FormatMsgpack, f)
	_, err = ParseFormat("xml")
	assert.Error(t, err)
}

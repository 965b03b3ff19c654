package envelope

import (
	"encoding/json"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_OperationRequest(t *testing.T) {
	frame := []byte(`{"uuid":"abc","type":"operation","message":{"operation":"start","packageName":"com.example"}}`)

	env, err := Decode(frame)
	require.NoError(t, err)

	assert.Equal(t, "abc", env.UUID)
	assert.Equal(t, TypeOperation, env.Type)
	params, ok := env.Operation()
	require.True(t, ok)
	assert.Equal(t, "start", params["operation"])
	assert.Equal(t, "com.example", params["packageName"])
}

func TestDecode_NumbersStayLossless(t *testing.T) {
	env, err := Decode([]byte(`{"uuid":"n","type":"operation","message":{"duration":2,"big":9007199254740993}}`))
	require.NoError(t, err)

	params, _ := env.Operation()
	assert.Equal(t, json.Number("2"), params["duration"])
	assert.Equal(t, json.Number("9007199254740993"), params["big"])

	out, err := Encode(env)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"big":9007199254740993`)
}

func TestDecode_HeartbeatSpellings(t *testing.T) {
	for _, wire := range []string{"hearbeat", "heartbeat"} {
		env, err := Decode([]byte(`{"uuid":"h","type":"` + wire + `","message":{"status":"on"}}`))
		require.NoError(t, err, wire)
		assert.Equal(t, TypeHeartbeat, env.Type)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string][]byte{
		"Empty":         []byte(""),
		"Whitespace":    []byte("  \n"),
		"NotJSON":       []byte("hello"),
		"Truncated":     []byte(`{"uuid":"x","type":"operation"`),
		"Array":         []byte(`[1,2,3]`),
		"Null":          []byte(`null`),
		"MissingType":   []byte(`{"uuid":"x","message":{}}`),
		"UnknownType":   []byte(`{"uuid":"x","type":"telemetry","message":{}}`),
		"InvalidUTF8":   {0x7b, 0xff, 0xfe, 0x7d},
		"WrongUUIDKind": []byte(`{"uuid":42,"type":"operation","message":{}}`),
	}
	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(frame)
			require.Error(t, err)
			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}
}

func TestEncode_RejectsUnknownType(t *testing.T) {
	_, err := Encode(Envelope{UUID: "x", Type: "bogus"})
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	cases := []Envelope{
		{UUID: "abc", Type: TypeOperation, Message: "start fin"},
		{UUID: "", Type: TypeOperation, Message: nil},
		{UUID: "hb-1", Type: TypeHeartbeat, Message: map[string]any{"agent": "agent_1", "status": "on"}},
		{UUID: "apps", Type: TypeOperation, Message: []any{
			map[string]any{"name": "Clock", "package": "com.android.deskclock", "mainActivity": "com.android.deskclock.DeskClock"},
			map[string]any{"name": "Files", "package": "com.android.files", "mainActivity": nil},
		}},
		{UUID: "nested", Type: TypeOperation, Message: map[string]any{
			"operation": "click",
			"rect":      map[string]any{"left": json.Number("1"), "top": json.Number("2.5")},
			"tags":      []any{"a", true, false, []any{}},
			"unicode":   "屏幕 <&>",
		}},
		New(TypeOperation, "aGVsbG8="),
	}

	for _, want := range cases {
		frame, err := Encode(want)
		require.NoError(t, err)
		got, err := Decode(frame)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("Round trip failed for %s. Diff:\n%s", want.UUID, diff)
		}
	}
}

func TestRoundTrip_NativeNumbersComeBackAsJSONNumber(t *testing.T) {
	frame, err := Encode(Envelope{UUID: "n", Type: TypeOperation, Message: map[string]any{
		"left":     270,
		"duration": 0.5,
	}})
	require.NoError(t, err)

	got, err := Decode(frame)
	require.NoError(t, err)
	params, ok := got.Operation()
	require.True(t, ok)
	assert.Equal(t, json.Number("270"), params["left"])
	assert.Equal(t, json.Number("0.5"), params["duration"])
}

func TestReply_CopiesCorrelationID(t *testing.T) {
	req := Envelope{UUID: "req-7", Type: TypeOperation, Message: map[string]any{"operation": "apps"}}
	reply := Reply(req, "ok")
	assert.Equal(t, req.UUID, reply.UUID)
	assert.Equal(t, TypeOperation, reply.Type)
}

func FuzzDecode(f *testing.F) {
	f.Add([]byte(`{"uuid":"abc","type":"operation","message":{"operation":"start","packageName":"com.example"}}`))
	f.Add([]byte(`{"uuid":"h","type":"hearbeat","message":{"agent":"a","status":"on"}}`))
	f.Add([]byte(`{"type":"operation","message":[1,"x",{"k":null}]}`))
	f.Add([]byte(`{`))

	f.Fuzz(func(t *testing.T, frame []byte) {
		env, err := Decode(frame)
		if err != nil {
			return
		}
		// Anything that decodes must survive a second trip unchanged.
		out, err := Encode(env)
		require.NoError(t, err)
		again, err := Decode(out)
		require.NoError(t, err)
		if diff := cmp.Diff(env, again); diff != "" {
			t.Fatalf("re-decode mismatch:\n%s", diff)
		}
	})
}

type fuzzOperation struct {
	UUID   string
	Op     string
	Params map[string]string
	List   []string
}

func FuzzRoundTrip_Structured(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		var in fuzzOperation
		if err := consumer.GenerateStruct(&in); err != nil {
			return
		}

		valid := func(s string) string { return strings.ToValidUTF8(s, "?") }
		message := map[string]any{"operation": valid(in.Op)}
		for k, v := range in.Params {
			if k == "operation" || k == "list" {
				continue
			}
			message[valid(k)] = valid(v)
		}
		list := make([]any, 0, len(in.List))
		for _, s := range in.List {
			list = append(list, valid(s))
		}
		message["list"] = list

		want := Envelope{UUID: valid(in.UUID), Type: TypeOperation, Message: message}
		frame, err := Encode(want)
		require.NoError(t, err)
		got, err := Decode(frame)
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("structured round trip mismatch:\n%s", diff)
		}
	})
}

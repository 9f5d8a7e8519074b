package scripting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/dimmem/pkg/entity"
)

func newTestEngine(t *testing.T, script string) *LuaEngine {
	t.Helper()

	engine, err := NewLuaEngine(DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })

	require.NoError(t, engine.LoadScript(t.Name(), []byte(script)))
	return engine
}

func TestLuaAPI_Log(t *testing.T) {
	engine := newTestEngine(t, `
		function test_log()
			dimmem.log("info", "This is a test log message")
			dimmem.log("error", "This is an error message")
			dimmem.log("debug", "This is a debug message")
			print("printed", 1, true)
			return "log messages sent"
		end
	`)

	result, err := engine.ExecuteFunction(context.Background(), "test_log")
	assert.NoError(t, err)
	assert.Equal(t, "log messages sent", result)
}

func TestLuaAPI_Now(t *testing.T) {
	engine := newTestEngine(t, `
		function test_now()
			return dimmem.now()
		end
	`)

	result, err := engine.ExecuteFunction(context.Background(), "test_now")
	require.NoError(t, err)

	ts, ok := result.(float64)
	require.True(t, ok, "expected timestamp to be a number")
	assert.InDelta(t, time.Now().Unix(), ts, 60)
}

func TestLuaAPI_FormatTime(t *testing.T) {
	engine := newTestEngine(t, `
		function test_format_time(layout)
			return dimmem.format_time(1609459200, layout)
		end
	`)

	result, err := engine.ExecuteFunction(context.Background(), "test_format_time")
	assert.NoError(t, err)
	assert.Equal(t, "2021-01-01T00:00:00Z", result)

	result, err = engine.ExecuteFunction(context.Background(), "test_format_time", "2006-01-02")
	assert.NoError(t, err)
	assert.Equal(t, "2021-01-01", result)
}

func TestLuaAPI_UUID(t *testing.T) {
	engine := newTestEngine(t, `
		function test_uuid()
			local id1 = dimmem.uuid()
			local id2 = dimmem.uuid()
			if id1 == id2 then
				return "UUIDs should be unique"
			end
			return string.len(id1)
		end
	`)

	result, err := engine.ExecuteFunction(context.Background(), "test_uuid")
	assert.NoError(t, err)
	assert.Equal(t, float64(36), result)
}

func TestLuaAPI_JSON(t *testing.T) {
	engine := newTestEngine(t, `
		function test_json_roundtrip()
			local encoded = dimmem.json_encode({name = "test", tags = {"a", "b"}})
			local decoded = dimmem.json_decode(encoded)
			return decoded.name .. ":" .. decoded.tags[2]
		end

		function test_json_invalid()
			local value, err = dimmem.json_decode("{not json")
			if value == nil and err ~= nil then
				return "rejected"
			end
			return "accepted"
		end
	`)

	result, err := engine.ExecuteFunction(context.Background(), "test_json_roundtrip")
	assert.NoError(t, err)
	assert.Equal(t, "test:b", result)

	result, err = engine.ExecuteFunction(context.Background(), "test_json_invalid")
	assert.NoError(t, err)
	assert.Equal(t, "rejected", result)
}

func TestLuaAPI_Words(t *testing.T) {
	engine := newTestEngine(t, `
		function words(text)
			return dimmem.words(text)
		end
	`)

	result, err := engine.ExecuteFunction(context.Background(), "words", "How do I reset my Password?")
	require.NoError(t, err)

	words, ok := ToStrings(result)
	require.True(t, ok)
	assert.Equal(t, []string{"how", "do", "i", "reset", "my", "password"}, words)
}

func TestLuaAPI_RequestGlobal(t *testing.T) {
	engine := newTestEngine(t, `
		function who()
			if request.user_id == nil then
				return "anonymous"
			end
			return request.user_id .. "/" .. request.conversation_id
		end

		function has_deadline()
			return request.deadline ~= nil
		end
	`)

	result, err := engine.ExecuteFunction(context.Background(), "who")
	assert.NoError(t, err)
	assert.Equal(t, "anonymous", result)

	ctx := entity.ContextWithEntity(context.Background(), entity.NewContext("alice", "c-9"))
	result, err = engine.ExecuteFunction(ctx, "who")
	assert.NoError(t, err)
	assert.Equal(t, "alice/c-9", result)

	deadlineCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	result, err = engine.ExecuteFunction(deadlineCtx, "has_deadline")
	assert.NoError(t, err)
	assert.Equal(t, true, result)
}

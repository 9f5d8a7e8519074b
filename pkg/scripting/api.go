package scripting

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/lexlapax/dimmem/pkg/log"
)

// registerAPIFunctions installs the "dimmem" helper table available to scripts.
func registerAPIFunctions(L *lua.LState) {
	api := L.NewTable()

	L.SetField(api, "log", L.NewFunction(apiLog))
	L.SetField(api, "now", L.NewFunction(apiNow))
	L.SetField(api, "format_time", L.NewFunction(apiFormatTime))
	L.SetField(api, "uuid", L.NewFunction(apiUUID))
	L.SetField(api, "json_encode", L.NewFunction(apiJSONEncode))
	L.SetField(api, "json_decode", L.NewFunction(apiJSONDecode))
	L.SetField(api, "words", L.NewFunction(apiWords))

	L.SetGlobal("dimmem", api)
}

// apiLog logs a message: dimmem.log(level, message)
func apiLog(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		log.Debug("Lua script message", "message", message)
	case "warn", "warning":
		log.Warn("Lua script message", "message", message)
	case "error":
		log.Error("Lua script message", "message", message)
	default:
		log.Info("Lua script message", "message", message)
	}

	return 0
}

// apiNow returns the current time as a Unix timestamp
func apiNow(L *lua.LState) int {
	L.Push(lua.LNumber(time.Now().Unix()))
	return 1
}

// apiFormatTime formats a Unix timestamp in UTC: dimmem.format_time(ts [, layout])
func apiFormatTime(L *lua.LState) int {
	timestamp := L.CheckNumber(1)
	layout := L.OptString(2, time.RFC3339)

	L.Push(lua.LString(time.Unix(int64(timestamp), 0).UTC().Format(layout)))
	return 1
}

// apiUUID returns a random UUID string
func apiUUID(L *lua.LState) int {
	L.Push(lua.LString(uuid.NewString()))
	return 1
}

// apiJSONEncode encodes a Lua value as JSON; returns nil and a message on failure
func apiJSONEncode(L *lua.LState) int {
	data, err := json.Marshal(fromLua(L.CheckAny(1)))
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(lua.LString(data))
	return 1
}

// apiJSONDecode decodes a JSON string into Lua values; returns nil and a message on failure
func apiJSONDecode(L *lua.LState) int {
	var v interface{}
	if err := json.Unmarshal([]byte(L.CheckString(1)), &v); err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}

	L.Push(toLua(L, v))
	return 1
}

// apiWords splits text into lower-cased words, a convenience for topic scripts
func apiWords(L *lua.LState) int {
	fields := strings.FieldsFunc(strings.ToLower(L.CheckString(1)), func(r rune) bool {
		return !(r == '_' || r == '-' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r > 127)
	})

	t := L.CreateTable(len(fields), 0)
	for _, f := range fields {
		t.Append(lua.LString(f))
	}
	L.Push(t)
	return 1
}

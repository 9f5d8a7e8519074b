package mmu

import (
	"context"
	"strings"

	"github.com/lexlapax/dimmem/pkg/log"
	"github.com/lexlapax/dimmem/pkg/scripting"
)

// inferTopicFuncName is the Lua function consulted by LuaTopicInferer
const inferTopicFuncName = "infer_topic"

// TopicInferer maps a retrieval query to the topic the stores are searched with.
type TopicInferer interface {
	InferTopic(ctx context.Context, query string) string
}

// IdentityTopic searches with the query text itself.
type IdentityTopic struct{}

// InferTopic implements TopicInferer.
func (IdentityTopic) InferTopic(_ context.Context, query string) string {
	return query
}

// LuaTopicInferer asks the infer_topic Lua function for a topic. It falls
// back to the query when the function is missing, fails, or returns
// anything but a non-empty string.
type LuaTopicInferer struct {
	engine scripting.Engine
}

// NewLuaTopicInferer creates a topic inferer backed by engine.
func NewLuaTopicInferer(engine scripting.Engine) *LuaTopicInferer {
	return &LuaTopicInferer{engine: engine}
}

// InferTopic implements TopicInferer.
func (l *LuaTopicInferer) InferTopic(ctx context.Context, query string) string {
	if l.engine == nil || !l.engine.HasFunction(inferTopicFuncName) {
		return query
	}

	result, err := l.engine.ExecuteFunction(ctx, inferTopicFuncName, query)
	if err != nil {
		log.WarnContext(ctx, "Error calling Lua hook", "hook", inferTopicFuncName, "error", err)
		return query
	}

	topic, ok := result.(string)
	if !ok || strings.TrimSpace(topic) == "" {
		return query
	}
	return topic
}

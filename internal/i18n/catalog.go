// Package i18n holds localized user-facing system strings. Only messages
// delivered to chat clients are localized; log output stays in English.
package i18n

import "fmt"

// Message keys.
const (
	KeyAgentCreated     = "agent_created"
	KeyExecutionStopped = "execution_stopped"
	KeySessionCleared   = "session_cleared"
	KeyAgentInitialized = "agent_initialized"
	KeySessionComplete  = "session_complete"
)

var catalogs = map[string]map[string]string{
	"en": {
		KeyAgentCreated:     "Agent %q has been created",
		KeyExecutionStopped: "Execution stopped",
		KeySessionCleared:   "Conversation cleared, new session started",
		KeyAgentInitialized: "Agent initialized (Model: %s)",
		KeySessionComplete:  "Session complete",
	},
	"zh": {
		KeyAgentCreated:     "Agent「%s」已创建",
		KeyExecutionStopped: "执行已停止",
		KeySessionCleared:   "对话已清空，新会话已开始",
		KeyAgentInitialized: "Agent 已初始化（模型：%s）",
		KeySessionComplete:  "会话完成",
	},
}

// T returns the message for key in the given locale, falling back to English
// and then to the key itself.
func T(locale, key string, args ...any) string {
	catalog, ok := catalogs[locale]
	if !ok {
		catalog = catalogs["en"]
	}
	msg, ok := catalog[key]
	if !ok {
		msg, ok = catalogs["en"][key]
		if !ok {
			return key
		}
	}
	if len(args) > 0 {
		return fmt.Sprintf(msg, args...)
	}
	return msg
}

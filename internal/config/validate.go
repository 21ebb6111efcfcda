package config

import "strings"

// AppIDPrefix is the prefix of every Lark custom-app id.
const AppIDPrefix = "cli_"

// AppCheck is the {code, message} answer to a configuration self-check.
type AppCheck struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ValidateApp checks the Lark app credentials: both must be set and the id
// must carry the custom-app prefix.
func ValidateApp(appID, appSecret string) AppCheck {
	if appID == "" || appSecret == "" {
		return AppCheck{Code: 1, Message: "Missing Lark App ID or Secret"}
	}
	if !strings.HasPrefix(appID, AppIDPrefix) {
		return AppCheck{Code: 1, Message: "Lark App ID must start with 'cli_'"}
	}
	return AppCheck{Code: 0, Message: "✅ Lark App configuration is valid."}
}

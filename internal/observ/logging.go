package observ

import (
	"encoding/json"
	"fmt"
	"time"
)

// Log emits one structured JSON line to stdout.
func Log(event string, kv map[string]any) {
	logAt("info", event, kv)
}

// Warn logs a degraded-but-recovered condition (feed failure, stale data).
func Warn(event string, kv map[string]any) {
	logAt("warn", event, kv)
}

// Error logs a failure that was not recovered locally.
func Error(event string, kv map[string]any) {
	logAt("error", event, kv)
}

func logAt(level, event string, kv map[string]any) {
	if kv == nil {
		kv = map[string]any{}
	}
	kv["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	kv["level"] = level
	kv["event"] = event
	b, _ := json.Marshal(kv)
	fmt.Println(string(b))
}

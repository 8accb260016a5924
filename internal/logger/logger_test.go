package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestFromContext_AttachesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "debug", Service: "survey-api", Component: "test"}, &buf)

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithSurvey(ctx, "123")
	ctx = WithFormat(ctx, "csv")
	FromContext(ctx, &zl).Info().Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	want := map[string]string{
		"request_id": "req-1",
		"survey":     "123",
		"format":     "csv",
		"service":    "survey-api",
		"component":  "test",
		"msg":        "hello",
		"level":      "info",
	}
	for k, v := range want {
		if line[k] != v {
			t.Fatalf("field %s=%v want %q (line=%s)", k, line[k], v, buf.String())
		}
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp field: %s", buf.String())
	}
}

func TestWithRequestID_GeneratesWhenEmpty(t *testing.T) {
	ctx := WithRequestID(context.Background(), "")
	id, _ := ctx.Value(ctxReqIDKey).(string)
	if len(id) != 16 {
		t.Fatalf("generated id=%q want 16 hex chars", id)
	}
}

func TestNewSlog_BridgesAttrs(t *testing.T) {
	var buf bytes.Buffer
	zl := Build(Config{Level: "info"}, &buf)
	l := NewSlog(&zl)

	l.InfoContext(WithSurvey(context.Background(), "s1"), "inserted",
		slog.Int("count", 3), slog.Bool("partial", false))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if line["survey"] != "s1" || line["count"] != float64(3) || line["partial"] != false {
		t.Fatalf("unexpected line: %s", buf.String())
	}
}

package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/and161185/tglink/internal/initdata"
)

const testBotToken = "123456:ABC-DEF1234ghIkl-zyx57W2v1u123ew11"

func withTmpConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	return filepath.Join(dir, "tglink")
}

func Test_cfgDir_And_LastOp(t *testing.T) {
	base := withTmpConfig(t)
	if got := cfgDir(); got != base {
		t.Fatalf("cfgDir=%q, want %q", got, base)
	}

	if _, err := loadLastOp(); err == nil {
		t.Fatalf("expected error when no operation saved")
	}
	if err := saveLastOp("6f1c1d0e-4a4b-4c1b-9a57-1f0f5b7a1c11\n"); err != nil {
		t.Fatalf("saveLastOp: %v", err)
	}
	got, err := loadLastOp()
	if err != nil || got != "6f1c1d0e-4a4b-4c1b-9a57-1f0f5b7a1c11" {
		t.Fatalf("loadLastOp: %q %v", got, err)
	}
	if _, err := os.Stat(filepath.Join(base, "last_operation")); err != nil {
		t.Fatalf("last_operation file missing: %v", err)
	}
}

func Test_signInitData_Verifies(t *testing.T) {
	t.Parallel()

	auth := initdata.New(testBotToken)
	at := time.Unix(1_700_000_000, 0)

	for _, webApp := range []bool{false, true} {
		s, err := signInitData(testBotToken, "279058397", "Vladislav", webApp, at)
		if err != nil {
			t.Fatalf("sign(webApp=%v): %v", webApp, err)
		}
		vals, _ := url.ParseQuery(s)
		if got := vals.Has("query_id"); got != webApp {
			t.Fatalf("query_id present=%v, want %v", got, webApp)
		}
		id, err := auth.Authenticate(s)
		if err != nil || id != "279058397" {
			t.Fatalf("authenticate(webApp=%v): id=%q err=%v", webApp, id, err)
		}
	}

	if _, err := signInitData("", "1", "x", false, at); err == nil {
		t.Fatalf("want error without bot token")
	}
	if _, err := signInitData(testBotToken, "abc", "x", false, at); err == nil {
		t.Fatalf("want error on non-numeric id")
	}
}

func Test_encryptDecryptBlob(t *testing.T) {
	t.Parallel()

	key := []byte("0123456789abcdef0123456789abcdef")
	ct, err := encryptBlob(key, []byte("1BVtsOK8Bu2session"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	for _, in := range []string{ct, ct + "\n", url.QueryEscape(ct)} {
		plain, err := decryptBlob(key, in)
		if err != nil || string(plain) != "1BVtsOK8Bu2session" {
			t.Fatalf("decrypt(%q): %q %v", in, plain, err)
		}
	}

	if plain, err := decryptBlob([]byte("another key"), ct); err == nil && string(plain) == "1BVtsOK8Bu2session" {
		t.Fatalf("wrong key must not decrypt")
	}
	if _, err := encryptBlob(nil, []byte("x")); err == nil {
		t.Fatalf("want error with empty key")
	}
}

func Test_envOr(t *testing.T) {
	t.Setenv("TGLINK_TEST_VAR", "from-env")
	if got := envOr("flag", "TGLINK_TEST_VAR"); got != "flag" {
		t.Fatalf("flag must win, got %q", got)
	}
	if got := envOr("", "TGLINK_TEST_VAR"); got != "from-env" {
		t.Fatalf("env fallback, got %q", got)
	}
}

func Test_readAll_File_And_Stdin(t *testing.T) {
	// file path
	tmp := filepath.Join(t.TempDir(), "f.txt")
	_ = os.WriteFile(tmp, []byte("hello"), 0o600)
	b, err := readAll(tmp)
	if err != nil || string(b) != "hello" {
		t.Fatalf("readAll(file): %q %v", b, err)
	}

	// stdin
	r, w, _ := os.Pipe()
	old := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = old }()
	go func() { _, _ = io.WriteString(w, "from-stdin"); _ = w.Close() }()
	b, err = readAll("-")
	if err != nil || string(b) != "from-stdin" {
		t.Fatalf("readAll(stdin): %q %v", b, err)
	}
}

func Test_printJSON_WritesPretty(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	defer func() { os.Stdout = old }()

	printJSON(map[string]any{"a": 1})
	_ = w.Close()
	out, _ := io.ReadAll(r)

	var m map[string]any
	if json.Unmarshal(out, &m) != nil || m["a"] != float64(1) {
		t.Fatalf("printJSON produced invalid json: %s", string(out))
	}
	if !bytes.Contains(out, []byte("\n  ")) {
		t.Fatalf("printJSON should indent")
	}
}

func Test_apiError_Message(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 12, 0, 30, 0, time.UTC)
	e := &apiError{Status: 429, Message: "Too many attempts", ResumeAt: &at}
	if !strings.Contains(e.Error(), "429") || !strings.Contains(e.Error(), "retry after") {
		t.Fatalf("unexpected message: %s", e.Error())
	}
	e = &apiError{Status: 502, Message: "external login failed", Class: "FLOOD"}
	if !strings.Contains(e.Error(), "(FLOOD)") {
		t.Fatalf("class missing: %s", e.Error())
	}
}

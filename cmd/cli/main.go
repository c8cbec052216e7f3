// Command tglink is an operator CLI for the tglink service: it signs test
// init-data, encrypts and decrypts stored session blobs, and drives a login
// handshake over the HTTP API.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/and161185/tglink/internal/crypto"
	"github.com/and161185/tglink/internal/initdata"
)

// ---- local state ----

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "tglink")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "tglink")
}

func lastOpPath() string { return filepath.Join(cfgDir(), "last_operation") }

func saveLastOp(id string) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	return os.WriteFile(lastOpPath(), []byte(strings.TrimSpace(id)), 0o600)
}

func loadLastOp() (string, error) {
	b, err := os.ReadFile(lastOpPath())
	if err != nil {
		return "", err
	}
	id := strings.TrimSpace(string(b))
	if id == "" {
		return "", errors.New("no saved operation (run link first)")
	}
	return id, nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// envOr returns the flag value, falling back to the environment.
func envOr(v, key string) string {
	if v != "" {
		return v
	}
	return os.Getenv(key)
}

// signInitData builds test init-data for telegram id. webApp selects the Mini
// App format; otherwise the Login Widget format is produced.
func signInitData(botToken, id, firstName string, webApp bool, at time.Time) (string, error) {
	if botToken == "" {
		return "", errors.New("bot token is required (-bot-token or BOT_TOKEN)")
	}
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", fmt.Errorf("telegram id must be numeric: %w", err)
	}
	fields := url.Values{"auth_date": {strconv.FormatInt(at.Unix(), 10)}}
	if webApp {
		user, err := json.Marshal(map[string]any{"id": json.Number(id), "first_name": firstName})
		if err != nil {
			return "", err
		}
		fields.Set("query_id", "AA"+strconv.FormatInt(at.UnixNano(), 36))
		fields.Set("user", string(user))
	} else {
		fields.Set("id", id)
		fields.Set("first_name", firstName)
	}
	return initdata.Sign(botToken, fields), nil
}

// decryptBlob accepts a blob as stored or as returned by the callback route
// (url-escaped).
func decryptBlob(key []byte, blob string) ([]byte, error) {
	c, err := crypto.NewSessionCipher(key)
	if err != nil {
		return nil, err
	}
	blob = strings.TrimSpace(blob)
	if strings.Contains(blob, "%") {
		if u, err := url.QueryUnescape(blob); err == nil {
			blob = u
		}
	}
	return c.Decrypt(blob)
}

func encryptBlob(key, plain []byte) (string, error) {
	c, err := crypto.NewSessionCipher(key)
	if err != nil {
		return "", err
	}
	return c.Encrypt(plain)
}

// link runs the two-request handshake, reading the code from in.
func link(ctx context.Context, api *apiClient, phone, password string, in io.Reader, out io.Writer) (string, error) {
	op, err := api.Init(ctx, phone, password)
	if err != nil {
		return "", err
	}
	_ = saveLastOp(op.OperationID)
	fmt.Fprintf(out, "operation %s started, enter the code Telegram sent: ", op.OperationID)

	code, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errors.New("empty code")
	}

	res, err := api.Callback(ctx, op.OperationID, code)
	if err != nil {
		return "", err
	}
	return res.Session, nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `tglink CLI
Usage:
  tglink [-addr URL] [-init-data DATA] <cmd> [args]

Commands:
  version
  sign       -id <telegram id> [-bot-token T] [-webapp] [-name N]   (prints init-data)
  encrypt    -file <path|-> [-key K]                                 (SESSION_KEY)
  decrypt    -file <path|-> [-key K]
  link       -phone <number> [-password P]                           (prompts for the code)
  status     [-id <operation id>]                                    (default: last link)
  session    [-probe]
  unlink
  revoke     -id <telegram id> [-api-key K]                          (API_KEY)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	initData := flag.String("init-data", "", "signed init-data (default $TGLINK_INIT_DATA)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	api := func(apiKey string) *apiClient {
		return newAPIClient(*addr, envOr(*initData, "TGLINK_INIT_DATA"), apiKey)
	}

	switch cmd {

	case "version":
		fmt.Printf("tglink %s (%s)\n", version, buildDate)

	case "sign":
		fs := flag.NewFlagSet("sign", flag.ExitOnError)
		id := fs.String("id", "", "telegram id")
		token := fs.String("bot-token", "", "bot token")
		webApp := fs.Bool("webapp", false, "Mini App format instead of Login Widget")
		name := fs.String("name", "Test", "first name")
		_ = fs.Parse(args)

		s, err := signInitData(envOr(*token, "BOT_TOKEN"), *id, *name, *webApp, time.Now())
		if err != nil {
			fail(err)
		}
		fmt.Println(s)

	case "encrypt", "decrypt":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "-", "input file or - for stdin")
		key := fs.String("key", "", "session key")
		_ = fs.Parse(args)

		k := envOr(*key, "SESSION_KEY")
		if k == "" {
			fail(errors.New("session key is required (-key or SESSION_KEY)"))
		}
		in, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		if cmd == "encrypt" {
			ct, err := encryptBlob([]byte(k), []byte(strings.TrimRight(string(in), "\r\n")))
			if err != nil {
				fail(err)
			}
			fmt.Println(ct)
			return
		}
		plain, err := decryptBlob([]byte(k), string(in))
		if err != nil {
			fail(err)
		}
		fmt.Println(string(plain))

	case "link":
		fs := flag.NewFlagSet("link", flag.ExitOnError)
		phone := fs.String("phone", "", "phone number")
		password := fs.String("password", "", "two-step verification password")
		_ = fs.Parse(args)
		if *phone == "" {
			fmt.Fprintln(os.Stderr, "need -phone")
			os.Exit(1)
		}

		blob, err := link(ctx, api(""), *phone, *password, os.Stdin, os.Stderr)
		if err != nil {
			fail(err)
		}
		fmt.Println(blob)

	case "status":
		fs := flag.NewFlagSet("status", flag.ExitOnError)
		id := fs.String("id", "", "operation id")
		_ = fs.Parse(args)

		opID := *id
		if opID == "" {
			var err error
			if opID, err = loadLastOp(); err != nil {
				fail(err)
			}
		}
		res, err := api("").Operation(ctx, opID)
		if err != nil {
			fail(err)
		}
		printJSON(res)

	case "session":
		fs := flag.NewFlagSet("session", flag.ExitOnError)
		probe := fs.Bool("probe", false, "ask Telegram whether the session still works")
		_ = fs.Parse(args)

		var (
			res sessionResult
			err error
		)
		if *probe {
			res, err = api("").Probe(ctx)
		} else {
			res, err = api("").Session(ctx)
		}
		if err != nil {
			fail(err)
		}
		printJSON(res)

	case "unlink":
		if err := api("").Revoke(ctx); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "revoke":
		fs := flag.NewFlagSet("revoke", flag.ExitOnError)
		id := fs.String("id", "", "telegram id")
		key := fs.String("api-key", "", "operator API key")
		_ = fs.Parse(args)
		if *id == "" {
			fmt.Fprintln(os.Stderr, "need -id")
			os.Exit(1)
		}
		if err := newAPIClient(*addr, "", envOr(*key, "API_KEY")).AdminRevoke(ctx, *id); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/splax/peep-runtime/pkg/crypto"
	"github.com/splax/peep-runtime/pkg/logs"
	logstore "github.com/splax/peep-runtime/pkg/logstore/client"
	"github.com/splax/peep-runtime/pkg/runtime/client"
	"github.com/splax/peep-runtime/pkg/runtime/proto"
)

type cliConfig struct {
	ControlAddr   string `json:"control_addr"`
	ControlToken  string `json:"control_token,omitempty"`
	LogStoreURL   string `json:"logstore_url,omitempty"`
	LogStoreToken string `json:"logstore_token,omitempty"`
}

const defaultControlAddr = "127.0.0.1:6001"

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "config":
		err = commandConfig(args)
	case "load":
		err = commandLoad(args)
	case "start":
		err = commandStart(args)
	case "up":
		err = commandUp(args)
	case "stop":
		err = commandStop(args)
	case "wait":
		err = commandWait(args)
	case "logs":
		err = commandLogs(args)
	case "status":
		err = commandStatus(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// secretFlags collects repeated --secret KEY=VALUE flags. A bare KEY is
// prompted for on the terminal.
type secretFlags map[string]string

func (s secretFlags) String() string { return strings.Join(sortedKeys(s), ",") }

func (s secretFlags) Set(value string) error {
	key, val, found := strings.Cut(value, "=")
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("secret name required")
	}
	if !found {
		fmt.Fprintf(os.Stderr, "%s: ", key)
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprint(os.Stderr, "\n")
		if err != nil {
			return fmt.Errorf("read secret %s: %w", key, err)
		}
		val = string(raw)
	}
	s[key] = val
	return nil
}

type commonFlags struct {
	addr   *string
	token  *string
	asJSON *bool
}

func bindCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		addr:   fs.String("addr", "", "Runtime control address (default "+defaultControlAddr+")"),
		token:  fs.String("token", "", "Runtime control token"),
		asJSON: fs.Bool("json", !term.IsTerminal(int(os.Stdout.Fd())), "Print JSON output"),
	}
}

func (f commonFlags) client() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	addr := strings.TrimSpace(*f.addr)
	if addr == "" {
		addr = cfg.ControlAddr
	}
	token := strings.TrimSpace(*f.token)
	if token == "" {
		token = cfg.ControlToken
	}
	return client.New(addr, client.WithToken(token))
}

func commandConfig(args []string) error {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	addr := fs.String("addr", "", "Runtime control address")
	token := fs.String("token", "", "Runtime control token")
	logStoreURL := fs.String("logstore", "", "Log store base URL")
	logStoreToken := fs.String("logstore-token", "", "Log store bearer token")
	fs.Parse(args)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*addr); v != "" {
		cfg.ControlAddr = v
	}
	if v := strings.TrimSpace(*token); v != "" {
		cfg.ControlToken = v
	}
	if v := strings.TrimSpace(*logStoreURL); v != "" {
		cfg.LogStoreURL = v
	}
	if v := strings.TrimSpace(*logStoreToken); v != "" {
		cfg.LogStoreToken = v
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("control=%s logstore=%s\n", cfg.ControlAddr, cfg.LogStoreURL)
	return nil
}

type loadFlags struct {
	project    *string
	env        *string
	secretsKey *string
	out        *string
	secrets    secretFlags
}

func bindLoad(fs *flag.FlagSet) *loadFlags {
	lf := &loadFlags{
		project:    fs.String("project", "", "Project name"),
		env:        fs.String("env", "local", "Environment (local|deployment)"),
		secretsKey: fs.String("secrets-key", "", "Seal secret values with this key before sending"),
		out:        fs.String("out", "", "Write the load response to this file"),
		secrets:    secretFlags{},
	}
	fs.Var(lf.secrets, "secret", "Secret as KEY=VALUE, or KEY to prompt (repeatable)")
	return lf
}

func (lf *loadFlags) request() (proto.LoadRequest, error) {
	if strings.TrimSpace(*lf.project) == "" {
		return proto.LoadRequest{}, errors.New("--project is required")
	}
	if _, err := proto.ParseEnvironment(*lf.env); err != nil {
		return proto.LoadRequest{}, err
	}
	secrets := make(map[string]string, len(lf.secrets))
	for name, value := range lf.secrets {
		if key := strings.TrimSpace(*lf.secretsKey); key != "" {
			sealed, err := crypto.SealString(key, value)
			if err != nil {
				return proto.LoadRequest{}, fmt.Errorf("seal secret %s: %w", name, err)
			}
			value = sealed
		}
		secrets[name] = value
	}
	return proto.LoadRequest{ProjectName: *lf.project, Env: *lf.env, Secrets: secrets}, nil
}

func commandLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	common := bindCommon(fs)
	lf := bindLoad(fs)
	fs.Parse(args)

	req, err := lf.request()
	if err != nil {
		return err
	}
	cli, err := common.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	resp, err := cli.Load(ctx, req)
	if err != nil {
		return err
	}
	if path := strings.TrimSpace(*lf.out); path != "" {
		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return fmt.Errorf("write load response: %w", err)
		}
	}
	if *common.asJSON {
		return printJSON(resp)
	}
	if !resp.Success {
		return fmt.Errorf("load failed: %s", resp.Message)
	}
	fmt.Printf("loaded %d resource(s)\n", len(resp.Resources))
	return nil
}

func commandStart(args []string) error {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	common := bindCommon(fs)
	address := fs.String("address", "", "Address the service binds to (ip:port)")
	resourcesFile := fs.String("resources", "", "Load response file written by 'runtimectl load --out'")
	fs.Parse(args)

	if strings.TrimSpace(*address) == "" {
		return errors.New("--address is required")
	}
	var resources [][]byte
	if path := strings.TrimSpace(*resourcesFile); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read resources: %w", err)
		}
		var loaded proto.LoadResponse
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("decode resources: %w", err)
		}
		resources = loaded.Resources
	}
	cli, err := common.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	resp, err := cli.Start(ctx, proto.StartRequest{Address: *address, Resources: resources})
	if err != nil {
		return err
	}
	if *common.asJSON {
		return printJSON(resp)
	}
	if !resp.Success {
		return fmt.Errorf("start failed: %s", resp.Message)
	}
	fmt.Printf("service starting on %s\n", *address)
	return nil
}

// commandUp loads and starts a deployment, then follows its logs until it stops.
func commandUp(args []string) error {
	fs := flag.NewFlagSet("up", flag.ExitOnError)
	common := bindCommon(fs)
	lf := bindLoad(fs)
	address := fs.String("address", "", "Address the service binds to (ip:port)")
	fs.Parse(args)

	if strings.TrimSpace(*address) == "" {
		return errors.New("--address is required")
	}
	req, err := lf.request()
	if err != nil {
		return err
	}
	cli, err := common.client()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = cli.Logs(ctx, func(line logs.LogLine) error {
			printLine(line, *common.asJSON)
			return nil
		})
	}()

	loadCtx, loadCancel := context.WithTimeout(ctx, 5*time.Minute)
	loaded, err := cli.Load(loadCtx, req)
	loadCancel()
	if err != nil {
		return err
	}
	if !loaded.Success {
		return fmt.Errorf("load failed: %s", loaded.Message)
	}
	started, err := cli.Start(ctx, proto.StartRequest{Address: *address, Resources: loaded.Resources})
	if err != nil {
		return err
	}
	if !started.Success {
		return fmt.Errorf("start failed: %s", started.Message)
	}
	return waitAndReport(ctx, cli, *common.asJSON)
}

func commandStop(args []string) error {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	common := bindCommon(fs)
	timeout := fs.Duration("timeout", 30*time.Second, "How long to wait for the service to exit")
	fs.Parse(args)

	cli, err := common.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	resp, err := cli.Stop(ctx)
	if err != nil {
		if client.IsConflict(err) {
			return errors.New("service is not running")
		}
		return err
	}
	if *common.asJSON {
		return printJSON(resp)
	}
	fmt.Println("service stopped")
	return nil
}

func commandWait(args []string) error {
	fs := flag.NewFlagSet("wait", flag.ExitOnError)
	common := bindCommon(fs)
	fs.Parse(args)

	cli, err := common.client()
	if err != nil {
		return err
	}
	return waitAndReport(context.Background(), cli, *common.asJSON)
}

func waitAndReport(ctx context.Context, cli *client.Client, asJSON bool) error {
	status, err := cli.WaitStop(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(status)
	}
	if status.Message != "" {
		fmt.Printf("deployment %s: %s\n", status.Reason, status.Message)
	} else {
		fmt.Printf("deployment %s\n", status.Reason)
	}
	if status.Reason == proto.StopReasonCrashed {
		return errors.New("deployment crashed")
	}
	return nil
}

func commandLogs(args []string) error {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	common := bindCommon(fs)
	history := fs.Bool("history", false, "Read stored lines from the log store instead of following the runtime")
	deployment := fs.String("deployment", "", "Deployment identifier (history only, defaults to the runtime's)")
	limit := fs.Int("limit", 100, "Maximum number of stored lines (history only)")
	fs.Parse(args)

	cli, err := common.client()
	if err != nil {
		return err
	}
	ctx := context.Background()
	if !*history {
		return cli.Logs(ctx, func(line logs.LogLine) error {
			printLine(line, *common.asJSON)
			return nil
		})
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if strings.TrimSpace(cfg.LogStoreURL) == "" {
		return errors.New("log store url not configured, run 'runtimectl config --logstore <url>'")
	}
	var id uuid.UUID
	if raw := strings.TrimSpace(*deployment); raw != "" {
		if id, err = uuid.Parse(raw); err != nil {
			return fmt.Errorf("invalid --deployment: %w", err)
		}
	} else {
		statusCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		st, err := cli.Status(statusCtx)
		cancel()
		if err != nil {
			return err
		}
		id = st.DeploymentID
	}
	store, err := logstore.New(cfg.LogStoreURL, cfg.LogStoreToken, nil)
	if err != nil {
		return err
	}
	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	lines, err := store.List(listCtx, id, *limit)
	if err != nil {
		return err
	}
	for _, line := range lines {
		printLine(line, *common.asJSON)
	}
	return nil
}

func commandStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	common := bindCommon(fs)
	fs.Parse(args)

	cli, err := common.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	st, err := cli.Status(ctx)
	if err != nil {
		return err
	}
	if *common.asJSON {
		return printJSON(st)
	}
	fmt.Printf("%s\t%s\t%s", st.DeploymentID, st.State, st.Address)
	if st.Stop != nil {
		fmt.Printf("\t%s", st.Stop.Reason)
	}
	fmt.Println()
	return nil
}

func printLine(line logs.LogLine, asJSON bool) {
	if asJSON {
		_ = writeJSON(os.Stdout, line)
		return
	}
	fmt.Printf("%s [%s] %s\n", line.Timestamp.Local().Format(time.TimeOnly), line.Origin, line.Text)
}

func printJSON(v any) error {
	return writeJSON(os.Stdout, v)
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{ControlAddr: defaultControlAddr}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.ControlAddr == "" {
		cfg.ControlAddr = defaultControlAddr
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "peep-runtime", "config.json"), nil
}

func printUsage() {
	fmt.Printf("runtimectl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	runtimectl config [--addr host:port] [--token t] [--logstore url] [--logstore-token t]
	runtimectl load --project <name> [--env local|deployment] [--secret KEY[=VALUE]]... [--secrets-key k] [--out file]
	runtimectl start --address ip:port [--resources file]
	runtimectl up --project <name> --address ip:port [--secret KEY[=VALUE]]...
	runtimectl stop [--timeout 30s]
	runtimectl wait
	runtimectl logs [--history [--deployment id] [--limit N]]
	runtimectl status
	runtimectl version

Every command accepts --addr, --token and --json.
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}

package relayclient

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"e2ee-relay/internal/dto"
	"e2ee-relay/internal/sealbox"
)

const (
	defaultStatePath = "relayctl-state.json"
	defaultBaseURL   = "http://localhost:5001"
)

type stateFile struct {
	BaseURL    string `json:"base_url"`
	Username   string `json:"username"`
	Token      string `json:"token"`
	PublicKey  []byte `json:"public_key"`
	PrivateKey []byte `json:"private_key"`
}

func RunCLI(prog string, args []string, stderr io.Writer) error {
	if len(args) < 1 {
		return UsageError{Program: prog}
	}
	cmd := args[0]
	rest := args[1:]
	var err error
	switch cmd {
	case "register":
		err = runRegister(rest)
	case "login":
		err = runLogin(rest)
	case "users":
		err = runUsers(rest)
	case "send":
		err = runSend(rest)
	case "listen":
		err = runListen(rest)
	default:
		return UsageError{Program: prog}
	}
	if err != nil {
		if stderr == nil {
			stderr = os.Stderr
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
	}
	return err
}

type UsageError struct {
	Program string
}

func (u UsageError) Error() string {
	if u.Program == "" {
		u.Program = "relayctl"
	}
	return fmt.Sprintf("Usage: %s <command> [options]", u.Program)
}

func (UsageError) UsageLines() []string {
	return []string{
		"Commands:",
		"  register  Create an account and store its key material locally",
		"  login     Authenticate and refresh the stored token",
		"  users     List other accounts and their online state",
		"  send      Seal and send a message to another user",
		"  listen    Connect and print incoming messages",
	}
}

func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("RELAYCTL_STATE_PATH", defaultStatePath), "state file path")
	baseURL := fs.String("url", getenv("RELAYCTL_URL", defaultBaseURL), "relay base URL")
	username := fs.String("user", "", "username")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return fmt.Errorf("username and password are required")
	}
	if _, err := os.Stat(*statePath); err == nil {
		return fmt.Errorf("state file already exists at %s", *statePath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	resp, err := New(*baseURL).Register(context.Background(), *username, *password)
	if err != nil {
		return err
	}
	st := stateFile{
		BaseURL:    normalizeBaseURL(*baseURL),
		Username:   resp.Username,
		Token:      resp.Token,
		PublicKey:  resp.PublicKey,
		PrivateKey: resp.PrivateKeyMaterial,
	}
	if err := saveState(*statePath, &st); err != nil {
		return err
	}
	fmt.Printf("registered: user=%s\n", resp.Username)
	return nil
}

func runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("RELAYCTL_STATE_PATH", defaultStatePath), "state file path")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := loadState(*statePath)
	if err != nil {
		return err
	}
	if *password == "" {
		return fmt.Errorf("password is required")
	}

	resp, err := New(st.BaseURL).Login(context.Background(), st.Username, *password)
	if err != nil {
		return err
	}
	st.Token = resp.Token
	// The relay only returns private key material on login when it runs in
	// escrow mode; an empty value keeps the locally stored key.
	if len(resp.PrivateKeyMaterial) > 0 {
		st.PrivateKey = resp.PrivateKeyMaterial
	}
	if err := saveState(*statePath, st); err != nil {
		return err
	}
	fmt.Printf("logged in: user=%s\n", st.Username)
	return nil
}

func runUsers(args []string) error {
	fs := flag.NewFlagSet("users", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("RELAYCTL_STATE_PATH", defaultStatePath), "state file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := loadState(*statePath)
	if err != nil {
		return err
	}
	users, err := New(st.BaseURL).Users(context.Background(), st.Token)
	if err != nil {
		return err
	}
	for _, u := range users {
		status := "offline"
		if u.Online {
			status = "online"
		}
		fmt.Printf("%s\t%s\n", u.Username, status)
	}
	return nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("RELAYCTL_STATE_PATH", defaultStatePath), "state file path")
	to := fs.String("to", "", "recipient username")
	message := fs.String("message", "", "message plaintext (if empty, read stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *to == "" {
		return fmt.Errorf("recipient is required")
	}
	st, err := loadState(*statePath)
	if err != nil {
		return err
	}
	plaintext, err := resolvePlaintext(*message)
	if err != nil {
		return err
	}
	if plaintext == "" {
		return fmt.Errorf("message must not be empty")
	}
	if len(st.PrivateKey) == 0 {
		return fmt.Errorf("no private key in state; register first")
	}

	recipientKey, err := lookupPublicKey(st, *to)
	if err != nil {
		return err
	}
	env, err := sealbox.Seal([]byte(plaintext), st.PrivateKey, recipientKey)
	if err != nil {
		return err
	}

	conn, err := Dial(st.BaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	if _, err := conn.Authenticate(st.Token); err != nil {
		return err
	}
	ack, err := conn.SendMessage(*to, "", &env)
	if err != nil {
		return err
	}
	fmt.Printf("sent: id=%s\n", ack.Message.ID)
	return nil
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("RELAYCTL_STATE_PATH", defaultStatePath), "state file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	st, err := loadState(*statePath)
	if err != nil {
		return err
	}

	// Sender public keys are needed to open envelopes.
	keys := map[string][]byte{st.Username: st.PublicKey}
	if users, err := New(st.BaseURL).Users(context.Background(), st.Token); err == nil {
		for _, u := range users {
			keys[u.Username] = u.PublicKey
		}
	}

	conn, err := Dial(st.BaseURL)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()
	if _, err := conn.Authenticate(st.Token); err != nil {
		return err
	}
	fmt.Println("listening...")

	for {
		typ, raw, err := conn.ReadEvent()
		if err != nil {
			return err
		}
		switch typ {
		case dto.EventPrivateMessage:
			var ev dto.MessageEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				fmt.Fprintf(os.Stderr, "invalid event: %v\n", err)
				continue
			}
			text := ev.Body
			if ev.Envelope != nil {
				text = "<unable to decrypt>"
				if senderKey, ok := keys[ev.From]; ok && len(st.PrivateKey) > 0 {
					if plaintext := sealbox.Open(*ev.Envelope, senderKey, st.PrivateKey); plaintext != nil {
						text = string(plaintext)
					}
				}
			}
			ts := time.UnixMilli(ev.Timestamp).Format(time.RFC3339)
			fmt.Printf("[%s] %s: %s\n", ts, ev.From, text)
		case dto.EventUserStatus:
			var ev dto.UserStatusEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				continue
			}
			fmt.Printf("* %s is %s\n", ev.Username, ev.Status)
		}
	}
}

func lookupPublicKey(st *stateFile, username string) ([]byte, error) {
	users, err := New(st.BaseURL).Users(context.Background(), st.Token)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Username == username {
			if len(u.PublicKey) == 0 {
				return nil, fmt.Errorf("%s has no public key", username)
			}
			return u.PublicKey, nil
		}
	}
	return nil, fmt.Errorf("unknown user %s", username)
}

func resolvePlaintext(arg string) (string, error) {
	if arg != "" {
		return arg, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func loadState(path string) (*stateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var st stateFile
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func saveState(path string, st *stateFile) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

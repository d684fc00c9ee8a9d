package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/mklaassen/toonbridge/internal/config"
	"github.com/mklaassen/toonbridge/internal/oauth"
	"github.com/mklaassen/toonbridge/plugins/toon"
)

func oauthMain(args []string) {
	if len(args) == 0 {
		oauthUsage()
		os.Exit(2)
	}

	switch args[0] {
	case "auth-code":
		authCodeCmd(args[1:])
	default:
		oauthUsage()
		os.Exit(2)
	}
}

func oauthUsage() {
	fmt.Println("toonbridge oauth <command> [args]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  auth-code --redirect-url <url> [--config <path>] [--no-open]")
}

// authCodeCmd runs the one-time authorization code flow and seeds the
// refresh token into the state file and the blob mirror.
func authCodeCmd(args []string) {
	flags := flag.NewFlagSet("auth-code", flag.ExitOnError)
	redirectURL := flags.String("redirect-url", "http://127.0.0.1:8085/callback", "Redirect URL registered with the vendor")
	configPath := flags.String("config", config.DefaultPath, "Path to config.yaml")
	noOpen := flags.Bool("no-open", false, "Do not open the browser automatically")
	printToken := flags.Bool("print-token", false, "Print the refresh token to stdout")
	skipBlob := flags.Bool("skip-blob", false, "Skip blob storage persistence")
	timeout := flags.Duration("timeout", 5*time.Minute, "Timeout for the auth flow")
	_ = flags.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal("oauth", err)
	}
	if cfg.Toon == nil {
		fatal("oauth", fmt.Errorf("config has no toon section"))
	}

	pluginCfg, err := toon.FromDaemonConfig(cfg.Toon)
	if err != nil {
		fatal("oauth", err)
	}
	decl := toon.Declaration(pluginCfg)

	bootstrap, err := oauth.LoadBootstrap(pluginCfg.BootstrapFile)
	if err != nil {
		fatal("oauth", err)
	}

	conf := &oauth2.Config{
		ClientID:     bootstrap.ClientID,
		ClientSecret: bootstrap.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  decl.AuthorizeURL,
			TokenURL: decl.TokenURL,
		},
		RedirectURL: *redirectURL,
		Scopes:      strings.Fields(decl.Scope),
	}

	state, err := randomState(16)
	if err != nil {
		fatal("oauth", err)
	}

	authURL := conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
	fmt.Println("Open this URL to authorize:")
	fmt.Println(authURL)
	fmt.Println("")

	if !*noOpen {
		_ = openBrowser(authURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	code, err := waitForAuthCode(ctx, *redirectURL, state)
	if err != nil {
		fatal("oauth", err)
	}

	token, err := conf.Exchange(ctx, code)
	if err != nil {
		fatal("oauth", err)
	}
	if token.RefreshToken == "" {
		fatal("oauth", fmt.Errorf("no refresh_token returned; check scope and redirect URL"))
	}

	persisted := oauth.State{
		SchemaVersion: oauth.SchemaVersion,
		ClientID:      bootstrap.ClientID,
		ClientSecret:  bootstrap.ClientSecret,
		RefreshToken:  token.RefreshToken,
		Scope:         decl.Scope,
	}
	if err := oauth.WriteState(decl.StatePath, persisted); err != nil {
		fatal("oauth", err)
	}
	fmt.Printf("State written to %s\n", decl.StatePath)

	if !*skipBlob {
		blobStore, err := oauth.NewS3Store(oauth.S3Options{
			Endpoint:      cfg.OAuth.BlobEndpoint,
			Bucket:        cfg.OAuth.BlobBucket,
			Prefix:        cfg.OAuth.BlobPrefix,
			Region:        cfg.OAuth.BlobRegion,
			AccessKeyFile: cfg.OAuth.BlobAccessKeyFile,
			SecretKeyFile: cfg.OAuth.BlobSecretKeyFile,
		})
		if err != nil {
			fatal("oauth", err)
		}
		data, err := oauth.EncodeState(persisted)
		if err != nil {
			fatal("oauth", err)
		}
		if err := blobStore.Save(ctx, decl.Provider, data); err != nil {
			fatal("oauth", err)
		}
		fmt.Println("State mirrored to blob storage")
	}

	if *printToken {
		fmt.Printf("refresh_token: %s\n", token.RefreshToken)
	}
}

func waitForAuthCode(ctx context.Context, redirectURL, state string) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}

	if isLoopback(parsed.Hostname()) && parsed.Scheme == "http" && parsed.Host != "" {
		code, err := listenForAuthCode(ctx, parsed, state)
		if err == nil {
			return code, nil
		}
		fmt.Printf("Warning: failed to listen for callback, falling back to manual paste: %v\n", err)
	}

	fmt.Print("Paste the authorization code (or full redirect URL): ")
	return readCodeFromStdin()
}

func listenForAuthCode(ctx context.Context, redirect *url.URL, state string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		Addr: redirect.Host,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if redirect.Path != "" && r.URL.Path != redirect.Path {
				http.NotFound(w, r)
				return
			}
			query := r.URL.Query()
			if errStr := query.Get("error"); errStr != "" {
				errCh <- fmt.Errorf("authorization error: %s", errStr)
				_, _ = w.Write([]byte("Authorization failed. You can close this window."))
				return
			}
			if got := query.Get("state"); got != "" && got != state {
				errCh <- fmt.Errorf("state mismatch")
				_, _ = w.Write([]byte("State mismatch. You can close this window."))
				return
			}
			code := query.Get("code")
			if code == "" {
				errCh <- fmt.Errorf("missing code in callback")
				_, _ = w.Write([]byte("Missing authorization code. You can close this window."))
				return
			}
			codeCh <- code
			_, _ = w.Write([]byte("Authorization received. You can close this window."))
		}),
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	defer func() {
		_ = srv.Close()
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("authorization timed out")
	case err := <-errCh:
		return "", err
	case code := <-codeCh:
		return code, nil
	}
}

func readCodeFromStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no code provided")
	}

	if parsed, err := url.Parse(line); err == nil && parsed.Query().Get("code") != "" {
		return parsed.Query().Get("code"), nil
	}

	return line, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "linux":
		return exec.Command("xdg-open", target).Start()
	default:
		return nil
	}
}

func randomState(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func fatal(action string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", action, err)
	os.Exit(1)
}

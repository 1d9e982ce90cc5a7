package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/technosupport/ts-licensing/internal/config"
	"github.com/technosupport/ts-licensing/internal/tokens"
)

// token_gen prints an operator API token signed with the configured key.
func main() {
	configPath := flag.String("config", "config/default.yaml", "path to the YAML config file")
	operator := flag.String("operator", "", "operator id (sub claim)")
	org := flag.String("org", "", "organization id")
	scopes := flag.String("scopes", strings.Join([]string{
		tokens.ScopeAttemptsRead, tokens.ScopeActivationsRead,
	}, ","), "comma separated scopes")
	ttl := flag.Duration("ttl", 15*time.Minute, "token lifetime")
	flag.Parse()

	if *operator == "" || *org == "" {
		fmt.Fprintln(os.Stderr, "usage: token_gen -operator <id> -org <id> [-scopes a,b] [-ttl 15m]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	var list []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			list = append(list, s)
		}
	}

	token, err := tokens.NewManager(cfg.JWT.SigningKey).GenerateOperatorToken(*operator, *org, list, *ttl)
	if err != nil {
		slog.Error("generate token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

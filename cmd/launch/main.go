// launch decodes a join link, fetches its session credential and prints the
// session config a toolkit would be started with.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/dkeye/VideoLaunch/internal/config"
	"github.com/dkeye/VideoLaunch/internal/credential"
	"github.com/dkeye/VideoLaunch/internal/domain"
	"github.com/dkeye/VideoLaunch/internal/launch"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cc := cfg.Credential

	var (
		endpoint    string
		timeout     time.Duration
		role        int
		displayName string
		features    []string
		verbose     bool
	)
	flagSet := pflag.NewFlagSet("launch", pflag.ContinueOnError)
	flagSet.StringVar(&endpoint, "endpoint", cc.Endpoint, "credential endpoint URL")
	flagSet.DurationVar(&timeout, "timeout", cc.Timeout, "credential request timeout")
	flagSet.IntVar(&role, "role", cc.Role, "session role (0 attendee, 1 host)")
	flagSet.StringVar(&displayName, "display-name", cc.DisplayName, "name shown to other participants")
	flagSet.StringSliceVar(&features, "features", cc.Features, "toolkit features to enable")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	if err := flagSet.Parse(argv); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	args := flagSet.Args()
	if len(args) != 1 {
		return fmt.Errorf("usage: launch [flags] <join link>")
	}
	u, err := url.Parse(args[0])
	if err != nil {
		return fmt.Errorf("parse join link: %w", err)
	}
	id, err := launch.Decode(u)
	if err != nil {
		return err
	}
	sessionRole := domain.SessionRole(role)
	if !sessionRole.Valid() {
		return fmt.Errorf("invalid role %d", role)
	}
	if err := domain.ValidateDisplayName(displayName); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	broker := credential.NewBroker(credential.BrokerConfig{Endpoint: endpoint, Timeout: timeout})
	token, err := broker.RequestCredential(ctx, id, sessionRole)
	if err != nil {
		return err
	}

	sc := domain.NewSessionConfig(id, displayName, domain.NewFeatures(features...))
	sc.Credential = token

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sc)
}

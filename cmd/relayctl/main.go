// Command relayctl inspects and drives the relay from a terminal using the
// same configuration as the Lambda function.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"

	"line-chat-relay/internal/app"
)

func main() {
	root := newRootCmd(func(ctx context.Context, envFile string) (*backend, error) {
		cfg, err := app.LoadConfig(envFile)
		if err != nil {
			return nil, err
		}
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		a, err := app.New(awsCfg, cfg)
		if err != nil {
			return nil, err
		}
		return &backend{store: a.Store, relay: a.Relay}, nil
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

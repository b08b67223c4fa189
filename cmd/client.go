package cmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/theapemachine/synapse/pkg/client"
	"github.com/theapemachine/synapse/pkg/errors"
	"github.com/theapemachine/synapse/pkg/rpc"
)

var (
	clientAddrFlag     string
	clientInsecureFlag bool
	clientIDFlag       string
	clientTokenFlag    string
	clientMethodFlag   string
	clientParamsFlag   string
	clientListenFlag   bool

	clientCmd = &cobra.Command{
		Use:          "client",
		Short:        "Connect to a hub as an operator",
		Long:         longClient,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd.Context())
		},
	}
)

func init() {
	rootCmd.AddCommand(clientCmd)

	clientCmd.Flags().StringVar(&clientAddrFlag, "addr", "", "hub address (defaults to HOST:PORT)")
	clientCmd.Flags().BoolVar(&clientInsecureFlag, "insecure", false, "skip TLS certificate verification")
	clientCmd.Flags().StringVar(&clientIDFlag, "id", "", "application id to connect as")
	clientCmd.Flags().StringVar(&clientTokenFlag, "token", "", "handshake JWT for the application")
	clientCmd.Flags().StringVar(&clientMethodFlag, "method", "", "send a one-shot request for this method")
	clientCmd.Flags().StringVar(&clientParamsFlag, "params", "", "JSON object carrying the request params")
	clientCmd.Flags().BoolVar(&clientListenFlag, "listen", false, "stay connected and print every received frame")

	_ = clientCmd.MarkFlagRequired("id")
	_ = clientCmd.MarkFlagRequired("token")
}

func runClient(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := clientAddrFlag

	if addr == "" {
		addr = net.JoinHostPort(
			viper.GetString("HOST"), strconv.Itoa(viper.GetInt("PORT")),
		)
	}

	var params map[string]any

	if clientParamsFlag != "" {
		if err := json.Unmarshal([]byte(clientParamsFlag), &params); err != nil {
			return fmt.Errorf("--params must be a JSON object: %w", err)
		}
	}

	frames := make(chan rpc.Payload, 16)

	config := client.Config{
		Addr: addr,
		TLS: &tls.Config{
			InsecureSkipVerify: clientInsecureFlag,
			MinVersion:         tls.VersionTLS12,
		},
		Retry:         errors.DefaultRetryConfig(),
		MaxFrameBytes: viper.GetInt("MAX_FRAME_BYTES"),
		OnPayload: func(payload rpc.Payload) {
			select {
			case frames <- payload:
			default:
				log.Warn("dropping frame, printer cannot keep up")
			}
		},
	}

	c, err := client.Dial(ctx, config)

	if err != nil {
		return err
	}

	defer c.Close()

	result, err := c.Connect(ctx, clientIDFlag, clientTokenFlag)

	if err != nil {
		return fmt.Errorf("handshake refused: %w", err)
	}

	if result != nil {
		log.Info("connected", "connection_id", result["connection_id"])
	} else {
		// The hub only acknowledges admins; silence means accepted.
		log.Info("connected", "acknowledged", false)
	}

	if clientMethodFlag != "" {
		response, err := c.Call(ctx, clientMethodFlag, params)

		if err != nil {
			return err
		}

		printPayload(response)
	}

	if clientListenFlag {
		log.Info("listening, interrupt to stop")

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-c.Done():
				return c.Err()
			case payload := <-frames:
				printPayload(payload)
			}
		}
	}

	return nil
}

func printPayload(payload rpc.Payload) {
	pretty, err := json.MarshalIndent(payload, "", "  ")

	if err != nil {
		log.Error("failed to render payload", "error", err)
		return
	}

	fmt.Println(string(pretty))
}

/*
longClient contains the detailed help text for the client command.
*/
var longClient = `
Connect to a hub as an operator.

Examples:
  # One-shot request against a local hub with a self-signed certificate
  synapse client --insecure --id a1 --token $TOKEN \
    --method list_applications --params '{"active_only": true}'

  # Watch every frame the hub routes to this application
  synapse client --id a1 --token $TOKEN --listen
`

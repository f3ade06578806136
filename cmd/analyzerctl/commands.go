package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lorawan-server/lorawan-analyzer/internal/config"
	"github.com/lorawan-server/lorawan-analyzer/internal/frame"
	"github.com/lorawan-server/lorawan-analyzer/internal/ingest"
	"github.com/lorawan-server/lorawan-analyzer/internal/operator"
	"github.com/lorawan-server/lorawan-analyzer/pkg/crypto"
)

var (
	cfgFile string

	decodeTopic  string
	decodeFormat string
	decodeHex    bool
)

var rootCmd = &cobra.Command{
	Use:   "analyzerctl",
	Short: "Inspect LoRaWAN gateway traffic the way the analyzer sees it",
	Long: `analyzerctl runs single payloads, topics and identifiers through the
analyzer's decoders and operator matcher without connecting to a broker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(zerolog.Disabled)
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode [file]",
	Short: "Decode one MQTT payload and print the routing result as JSON",
	Long: `Decode reads a payload from file (or stdin when omitted or "-"), routes it
as if it arrived on --topic and prints the packet, gateway locations and
device metadata it yields.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := frame.ParseFormat(decodeFormat)
		if err != nil {
			return err
		}

		payload, err := readPayload(cmd, args)
		if err != nil {
			return err
		}

		router, err := ingest.NewRouter(format, nil)
		if err != nil {
			return err
		}
		if cfgFile != "" {
			matcher, err := loadMatcher(cfgFile)
			if err != nil {
				return err
			}
			router.Use(matcher)
		}

		res, err := router.HandleMessage(context.Background(), decodeTopic, payload)
		if err != nil {
			return err
		}
		if !res.Topic.Routable() {
			return fmt.Errorf("topic %q is not routed", decodeTopic)
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

var matchCmd = &cobra.Command{
	Use:   "match <dev_addr|eui>",
	Short: "Print the operator a DevAddr or JoinEUI is attributed to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		matcher, err := loadMatcher(cfgFile)
		if err != nil {
			return err
		}

		id := strings.ToLower(strings.TrimSpace(args[0]))
		rule, ok := matcher.Match(id)
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", id, operator.Unknown)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t(prefix %s, priority %d, %s)\n",
			id, rule.Name, rule.Prefix, rule.Priority, rule.Source)
		return nil
	},
}

var topicCmd = &cobra.Command{
	Use:   "topic <topic>",
	Short: "Print how a topic is classified",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		t := ingest.ClassifyTopic(args[0])
		return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
			"layer":     t.Layer.String(),
			"kind":      t.Kind.String(),
			"gatewayId": t.GatewayID,
			"routable":  t.Routable(),
		})
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password <password>",
	Short: "Print a bcrypt hash for jwt.admin_password_hash and a random jwt.secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := crypto.HashPassword(args[0])
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		secret, err := crypto.GenerateRandomString(32)
		if err != nil {
			return fmt.Errorf("generate secret: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "admin_password_hash: %q\nsecret: %q\n", hash, secret)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "analyzer config file providing operator prefixes")

	decodeCmd.Flags().StringVar(&decodeTopic, "topic", "eu868/gateway/0000000000000000/event/up", "MQTT topic the payload arrived on")
	decodeCmd.Flags().StringVar(&decodeFormat, "format", string(frame.FormatProtobuf), "payload format: protobuf or json")
	decodeCmd.Flags().BoolVar(&decodeHex, "hex", false, "input is hex text rather than raw bytes")

	rootCmd.AddCommand(decodeCmd, matchCmd, topicCmd, hashPasswordCmd)
}

func readPayload(cmd *cobra.Command, args []string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	if !decodeHex {
		return data, nil
	}
	raw, err := hex.DecodeString(strings.Join(strings.Fields(string(data)), ""))
	if err != nil {
		return nil, fmt.Errorf("decode hex: %w", err)
	}
	return raw, nil
}

func loadMatcher(path string) (*operator.Matcher, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	matcher := operator.NewMatcher()
	if err := operator.NewRegistry(matcher, nil, cfg.OperatorRules()).Reload(context.Background()); err != nil {
		return nil, err
	}
	return matcher, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

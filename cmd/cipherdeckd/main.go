// Command cipherdeckd is a thin operational CLI around the sdk package:
// initialize a device, create or join an account, and run sync rounds
// against a configured server. It is a debugging and scripting tool, not
// the note-taking application itself.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/cipherdeck/core/eventbus"
	"github.com/cipherdeck/core/model"
	"github.com/cipherdeck/core/sdk"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dir       string
	serverURL string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cipherdeckd",
		Short: "operate a cipherdeck device from the command line",
	}
	root.PersistentFlags().StringVar(&dir, "dir", "./cipherdeck-device", "device's local storage directory")
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "sync server base URL")

	root.AddCommand(newInitCmd(), newCreateAccountCmd(), newLinkDeviceCmd(), newSyncCmd())
	return root
}

func openSDK() (*sdk.SDK, *zap.Logger, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, nil, err
	}
	s, err := sdk.Open(dir, serverURL, log)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return s, log, nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "create the device directory if needed and print its identity",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := openSDK()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			self := s.Self()
			fmt.Printf("device: %s\n", hex.EncodeToString(self[:]))
			fmt.Printf("public key: %s\n", hex.EncodeToString(s.PublicKey().Bytes()))
			if account, bound := s.Account(); bound {
				fmt.Printf("account: %s\n", hex.EncodeToString(account[:]))
			} else {
				fmt.Println("account: not bound")
			}
			return nil
		},
	}
}

func newCreateAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-account",
		Short: "mint a new account rooted at this device",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := openSDK()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			account, err := s.CreateAccount(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("account: %s\n", hex.EncodeToString(account[:]))
			return nil
		},
	}
}

func newLinkDeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link-device [device-id-hex]",
		Short: "add another device to this device's account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hex.DecodeString(args[0])
			if err != nil || len(raw) != len(model.DeviceID{}) {
				return fmt.Errorf("invalid device id %q", args[0])
			}
			var other model.DeviceID
			copy(other[:], raw)

			s, log, err := openSDK()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			return s.LinkDevice(cmd.Context(), other)
		},
	}
}

func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "run one sync round and print every event it produces",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, log, err := openSDK()
			if err != nil {
				return err
			}
			defer log.Sync()
			defer s.Close()

			if bus, ok := s.Bus(); ok {
				bus.Subscribe(eventbus.EmitterFunc(printDocEvent))
			}
			return s.Sync(cmd.Context())
		},
	}
}

func printDocEvent(ev eventbus.Event) {
	fmt.Printf("event: %s", ev.Kind)
	if ev.Doc != "" {
		fmt.Printf(" doc=%s", ev.Doc)
	}
	if ev.BlobID != "" {
		fmt.Printf(" blob=%s", ev.BlobID)
	}
	if ev.Err != nil {
		fmt.Printf(" err=%s", ev.Err)
	}
	fmt.Println()
}

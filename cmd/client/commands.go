package main

import (
	"context"
	"fmt"
	"os"
	"time"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"secure-room/client"
	"secure-room/common"
	"secure-room/configs"
	"secure-room/protocol/fingerprint"
	"secure-room/protocol/keyagreement"
	"secure-room/store"
)

var (
	envFile    string
	serverAddr string
	logLevel   string
	logFile    string
	cfg        *configs.Config
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "secure-room",
		Short:        "End-to-end encrypted chat room client",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = configs.Load(envFile)
			if err != nil {
				return err
			}
			if serverAddr != "" {
				cfg.ServerAddress = serverAddr
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			logger = cfg.NewLogger()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&envFile, "env", ".env", "env file with configuration overrides")
	root.PersistentFlags().StringVar(&serverAddr, "server", "", "relay host:port (default from SERVER_ADDRESS)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "logrus level")

	root.AddCommand(chatCmd(), fingerprintCmd())
	return root
}

func chatCmd() *cobra.Command {
	var (
		room, user, password string
		register             bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room",
		RunE: func(cmd *cobra.Command, args []string) error {
			// the terminal belongs to gocui while chatting
			f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			logger.SetOutput(f)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			keys, err := store.OpenSQLite(ctx, cfg.KeyStorePath)
			if err != nil {
				return err
			}
			defer keys.Close()

			api, err := client.NewAPIClient(cfg.HTTPBaseURL())
			if err != nil {
				return err
			}
			if password == "" {
				if password, err = promptPassword(); err != nil {
					return err
				}
			}
			if register {
				if err := api.Register(ctx, user, password); err != nil {
					return err
				}
			}
			if err := api.Login(ctx, user, password); err != nil {
				return fmt.Errorf("failed to log in: %w", err)
			}

			ui := client.NewTerminalUI(room, user, logger)
			if err := ui.InitGui(); err != nil {
				return err
			}

			session, err := client.NewSession(client.SessionOptions{
				Identity:       common.Identity{Room: room, User: user},
				View:           ui,
				Agreement:      keyagreement.New(keys, api, cfg.DeviceID, logger),
				Dialer:         client.WebSocketDialer(cfg.WebSocketURL(room), api.Jar(), 10*time.Second),
				Files:          client.NewFileTransfer(api, logger),
				ThrottleWindow: cfg.ThrottleWindow,
				TypingIdle:     cfg.TypingIdle,
				Logger:         logger,
			})
			if err != nil {
				ui.Gui.Close()
				return err
			}
			defer session.Close()

			if err := ui.Attach(session); err != nil {
				ui.Gui.Close()
				return err
			}
			session.Start(ctx)

			if err := ui.MainLoop(); err != nil {
				return fmt.Errorf("error in gocui main loop: %w", err)
			}
			logger.Info("Application exited.")
			return nil
		},
	}

	cmd.Flags().StringVar(&room, "room", "", "room to join")
	cmd.Flags().StringVar(&user, "user", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "account password (prompted when empty)")
	cmd.Flags().BoolVar(&register, "register", false, "create the account before logging in")
	cmd.Flags().StringVar(&logFile, "log-file", "secure-room.log", "where logs go while the UI is running")
	cmd.MarkFlagRequired("room")
	cmd.MarkFlagRequired("user")
	return cmd
}

func promptPassword() (string, error) {
	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func fingerprintCmd() *cobra.Command {
	var user string
	var showQR bool
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print this device's safety number",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := store.OpenSQLite(cmd.Context(), cfg.KeyStorePath)
			if err != nil {
				return err
			}
			defer keys.Close()

			pair, err := keyagreement.New(keys, nil, cfg.DeviceID, logger).EnsureIdentityKeyPair(cmd.Context())
			if err != nil {
				return err
			}
			digits, err := fingerprint.Fingerprint(pair.Pub, []byte(user))
			if err != nil {
				return err
			}

			safetyNumber := fingerprint.Format(digits)
			fmt.Printf("Fingerprint: %s\n", safetyNumber)
			if showQR {
				qrterminal.GenerateWithConfig(safetyNumber, qrterminal.Config{
					Level:     qrterminal.M,
					Writer:    os.Stdout,
					BlackChar: qrterminal.BLACK,
					WhiteChar: qrterminal.WHITE,
					QuietZone: 1,
				})
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "display name the number is bound to")
	cmd.Flags().BoolVar(&showQR, "qr", true, "also print a QR code")
	cmd.MarkFlagRequired("user")
	return cmd
}

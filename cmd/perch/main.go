package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/perchsec/perch/internal/app"
	"github.com/perchsec/perch/internal/config"
	jwtx "github.com/perchsec/perch/internal/jwt"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/store/pg"
)

func main() {
	var (
		cfgPath string
		envFile string
	)

	root := &cobra.Command{
		Use:   "perch",
		Short: "Backend de cuentas y canaries de Perch",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if envFile != "" {
				_ = godotenv.Load(envFile)
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "ruta a config.yaml (vacío = defaults + env)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "ruta a .env")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Levanta el servidor HTTP y el poller de verificación DNS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}

			logger.Init(logger.Config{Env: cfg.App.Env, ServiceName: "perch"})
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.Run(ctx)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Aplica el esquema Postgres embebido",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Storage.Driver != "postgres" {
				return fmt.Errorf("storage.driver=%q: migrate solo aplica a postgres", cfg.Storage.Driver)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			st, err := pg.New(ctx, cfg.Storage.DSN, int32(cfg.Storage.Postgres.MaxConns))
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.Migrate(ctx); err != nil {
				return err
			}
			fmt.Println("migraciones aplicadas")
			return nil
		},
	}

	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manejo de claves",
	}

	var keyOut, keyKID string
	keysGen := &cobra.Command{
		Use:   "generate",
		Short: "Genera un par Ed25519 para firmar sesiones y lo escribe a disco",
		RunE: func(cmd *cobra.Command, args []string) error {
			ks, err := jwtx.WriteEd25519File(keyOut, keyKID)
			if err != nil {
				return err
			}
			fmt.Printf("clave escrita en %s (kid=%s)\n", keyOut, ks.KID)
			return nil
		},
	}
	keysGen.Flags().StringVar(&keyOut, "out", "perch-ed25519.json", "archivo destino")
	keysGen.Flags().StringVar(&keyKID, "kid", "primary", "key id")

	keysMaster := &cobra.Command{
		Use:   "gen-master-key",
		Short: "Genera una clave maestra para PERCH_MASTER_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			fmt.Println(base64.StdEncoding.EncodeToString(buf))
			return nil
		},
	}

	keys.AddCommand(keysGen, keysMaster)
	root.AddCommand(serve, migrate, keys)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, nil
	}
	return config.Load(path)
}

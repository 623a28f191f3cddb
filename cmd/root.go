/*
Copyright © 2024 McFlip <grady.c.denton@yahoo.com>

Permission is hereby granted, free of charge, to any person obtaining a copy
of this software and associated documentation files (the "Software"), to deal
in the Software without restriction, including without limitation the rights
to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
copies of the Software, and to permit persons to whom the Software is
furnished to do so, subject to the following conditions:

The above copyright notice and this permission notice shall be included in
all copies or substantial portions of the Software.

THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
THE SOFTWARE.
*/package cmd

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/McFlip/scytale/backend"
	"github.com/McFlip/scytale/backend/pgp"
	"github.com/McFlip/scytale/backend/smime"
	"github.com/McFlip/scytale/discovery"
	"github.com/McFlip/scytale/engine"
	"github.com/McFlip/scytale/vault"
)

var cfgFile string

var logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "scytale",
	Short: "OpenPGP and S/MIME security processing for email",
	Long: `scytale classifies, verifies, decrypts, signs and encrypts email.

  Run "scytale init" inside a fresh case folder, edit config.yaml,
  then run the command for the stage you need: decrypt, verify,
  sign, encrypt or keys.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().
		StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "debug logging")
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}
	viper.SetEnvPrefix("scytale")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if viper.GetBool("verbose") {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if err := viper.ReadInConfig(); err == nil {
		logger.Debug().Str("config", viper.ConfigFileUsed()).Msg("config loaded")
	}
}

// buildEngine wires the configured crypto backend, the session password
// vault and the optional discovery directory into one engine.
func buildEngine() (*engine.Engine, error) {
	viper.SetDefault("engine.scheme", "pgp")
	var be backend.Backend
	switch strings.ToLower(viper.GetString("engine.scheme")) {
	case "smime":
		be = smime.New()
	case "pgp":
		be = pgp.New()
	default:
		return nil, errors.New("engine.scheme must be pgp or smime")
	}
	if err := be.Init(); err != nil {
		return nil, err
	}
	viper.SetDefault("keys.keysDir", "keys")
	if err := loadKeyDir(be, viper.GetString("keys.keysDir")); err != nil {
		return nil, err
	}
	viper.SetDefault("keys.certDir", "certs")
	if err := loadKeyDir(be, viper.GetString("keys.certDir")); err != nil {
		return nil, err
	}

	viper.SetDefault("vault.file", "vault.json")
	viper.SetDefault("vault.ttl", "10m")
	v := vault.New(vault.FileStore{Path: viper.GetString("vault.file")}, viper.GetDuration("vault.ttl"))

	var dir *discovery.Directory
	if domains := viper.GetStringSlice("discovery.domains"); len(domains) > 0 {
		dir = discovery.New(net.DefaultResolver, be, domains, logger)
	}

	return engine.New(be, v, dir, engine.Config{
		Passwordless:    viper.GetBool("engine.passwordless"),
		SignKeyCacheTTL: viper.GetDuration("engine.signKeyCacheTTL"),
		Logger:          logger,
	}), nil
}

// loadKeyDir imports every key file under dir into the backend. A missing
// dir is fine; a file the backend rejects is skipped with a warning.
func loadKeyDir(be backend.Backend, dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		if _, err := be.ImportKeys(data); err != nil {
			logger.Warn().Str("file", e.Name()).Err(err).Msg("key file skipped")
		}
	}
	return nil
}

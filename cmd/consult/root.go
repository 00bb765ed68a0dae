package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/thereayou/teleconsult/internal/config"
	"github.com/thereayou/teleconsult/internal/logger"
	"github.com/thereayou/teleconsult/internal/relayclient"
)

const envPrefix = "CONSULT"

// settings итоговые значения: флаг > переменная окружения > файл > умолчание
type settings struct {
	Server             string
	Token              string
	ICEServers         []string
	ICEUsername        string
	ICECredential      string
	VideoFile          string
	AudioFile          string
	PollInterval       time.Duration
	NegotiationTimeout time.Duration
	Debug              bool
}

type app struct {
	v   *viper.Viper
	cfg settings
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	root, _ := buildRoot()
	return root
}

func buildRoot() (*cobra.Command, *app) {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "consult",
		Short: "Participant client for teleconsult video consultations",
		Long: `consult signs in to the relay server, opens consultation rooms and
runs a call from recorded media files.

Every flag can also be set in the config file or through CONSULT_* variables,
for example CONSULT_SERVER or CONSULT_ICE_SERVERS.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default $HOME/.consult.yaml)")
	flags.String("server", "http://localhost:8080", "relay server base URL")
	flags.String("token", "", "access token from `consult login`")
	flags.Bool("debug", false, "verbose client logs")

	root.AddCommand(newLoginCmd(a), newCreateRoomCmd(a), newCallCmd(a))
	return root, a
}

func (a *app) load(cmd *cobra.Command) error {
	v := a.v
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", file, err)
		}
	} else if home, err := os.UserHomeDir(); err == nil {
		v.SetConfigName(".consult")
		v.SetConfigType("yaml")
		v.AddConfigPath(home)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return fmt.Errorf("read config: %w", err)
			}
		}
	}

	a.cfg = settings{
		Server:             v.GetString("server"),
		Token:              v.GetString("token"),
		ICEServers:         splitList(v.GetStringSlice("ice-servers")),
		ICEUsername:        v.GetString("ice-username"),
		ICECredential:      v.GetString("ice-credential"),
		VideoFile:          expandHome(v.GetString("video")),
		AudioFile:          expandHome(v.GetString("audio")),
		PollInterval:       v.GetDuration("poll-interval"),
		NegotiationTimeout: v.GetDuration("negotiation-timeout"),
		Debug:              v.GetBool("debug"),
	}

	level := "warn"
	if a.cfg.Debug {
		level = "debug"
	}
	log, err := logger.New(config.LogConfig{Level: level, Format: "console"})
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

func (a *app) client() *relayclient.Client {
	return relayclient.New(relayclient.Config{BaseURL: a.cfg.Server, Token: a.cfg.Token}, a.log)
}

func (a *app) requireToken() error {
	if a.cfg.Token == "" {
		return errors.New("not signed in: run `consult login` and set CONSULT_TOKEN")
	}
	return nil
}

// splitList разбирает списки из переменных окружения, где значения
// перечислены через запятую
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"
	"github.com/urfave/cli/v2"
)

const (
	xdgConfigPath   = "bridgyfollowers/config.toml"
	localConfigPath = "bridgyfollowers.toml"
)

// Keys in the TOML config file.
const (
	ignoredAccountsConf = "ignored_accounts"
	blueskyUsernameConf = "bluesky.username"
	blueskyHostConf     = "bluesky.host"
	mastodonServerConf  = "mastodon.server"
	bridgeHandleConf    = "bridge.handle"
	bridgeDomainConf    = "bridge.domain"
	bridgeHostConf      = "bridge.host"
)

type settings struct {
	BlueskyUsername string
	BlueskyPassword string
	BlueskyHost     string
	MastodonServer  string
	MastodonToken   string
	BridgeHandle    string
	BridgeDomain    string
	BridgeHost      string
	IgnoredAccounts []string
}

// Reads the config file at path, or searches the default locations if path
// is empty. Finding no file in the default locations is not an error.
func loadConfigFile(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetDefault(blueskyHostConf, "https://bsky.social")
	v.SetDefault(bridgeHandleConf, "ap.brid.gy")
	v.SetDefault(bridgeDomainConf, "bsky.brid.gy")
	v.SetDefault(bridgeHostConf, "https://fed.brid.gy")
	v.SetDefault(ignoredAccountsConf, []string{})

	if path == "" {
		if p, err := xdg.SearchConfigFile(xdgConfigPath); err == nil {
			path = p
		} else if _, err := os.Stat(localConfigPath); err == nil {
			path = localConfigPath
		} else {
			return v, nil
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}
	return v, nil
}

// Merges flags (and their env vars) over the config file. Flags win.
func loadSettings(cctx *cli.Context) (*settings, error) {
	v, err := loadConfigFile(cctx.String("config"))
	if err != nil {
		return nil, err
	}

	pick := func(flag, key string) string {
		if cctx.IsSet(flag) {
			return cctx.String(flag)
		}
		return v.GetString(key)
	}

	s := &settings{
		BlueskyUsername: pick("bluesky-username", blueskyUsernameConf),
		BlueskyPassword: cctx.String("bluesky-password"),
		BlueskyHost:     pick("bluesky-host", blueskyHostConf),
		MastodonServer:  pick("mastodon-server", mastodonServerConf),
		MastodonToken:   cctx.String("mastodon-token"),
		BridgeHandle:    pick("bridge-handle", bridgeHandleConf),
		BridgeDomain:    pick("bridge-domain", bridgeDomainConf),
		BridgeHost:      pick("bridge-host", bridgeHostConf),
		IgnoredAccounts: append(v.GetStringSlice(ignoredAccountsConf), cctx.StringSlice("ignore")...),
	}

	var missing []error
	if s.BlueskyUsername == "" {
		missing = append(missing, errors.New("bluesky username (--bluesky-username, BLUESKY_USERNAME or bluesky.username)"))
	}
	if s.BlueskyPassword == "" {
		missing = append(missing, errors.New("bluesky password (--bluesky-password or BLUESKY_PASSWORD)"))
	}
	if s.MastodonServer == "" {
		missing = append(missing, errors.New("mastodon server (--mastodon-server, MASTODON_SERVER or mastodon.server)"))
	}
	if s.MastodonToken == "" {
		missing = append(missing, errors.New("mastodon access token (--mastodon-token or MASTODON_ACCESS_TOKEN)"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing settings: %w", errors.Join(missing...))
	}
	return s, nil
}

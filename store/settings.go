package store

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/tidwall/buntdb"
)

const (
	KeyDefaultDownloadDir = "default_download_dir"
	KeyBandwidthLimitBps  = "bandwidth_limit_bps"
	KeyMinimizeToTray     = "minimize_to_tray"
	KeyGlobalProxyEnabled = "global_proxy_enabled"
	KeyGlobalProxyURL     = "global_proxy_url"
	KeyLocalAPIPort       = "local_api_port"
	KeyLocalAPIToken      = "local_api_token"
)

// GetSetting returns the raw string value for key, or "" if unset.
func (s *Store) GetSetting(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var v string
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(makePath(collSettings, key))
		if err != nil {
			if err == buntdb.ErrNotFound {
				return nil
			}
			return err
		}
		v = raw
		return nil
	})
	return v, err
}

func (s *Store) SetSetting(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(makePath(collSettings, key), value, nil)
		return err
	})
}

// LocalAPIToken returns the bearer token guarding the control surface,
// generating and persisting a random one on first read (spec §3).
func (s *Store) LocalAPIToken() (string, error) {
	tok, err := s.GetSetting(KeyLocalAPIToken)
	if err != nil {
		return "", err
	}
	if tok != "" {
		return tok, nil
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	tok = hex.EncodeToString(buf)
	if err := s.SetSetting(KeyLocalAPIToken, tok); err != nil {
		return "", err
	}
	return tok, nil
}

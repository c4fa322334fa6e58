// Package runtimeinfo writes and reads the small sidecar file zdmrd
// publishes next to its database so the zdmrctl and zdmrwatch clients can
// find the control surface's address and bearer token without opening
// the buntdb file themselves.
package runtimeinfo

import (
	"encoding/json"
	"os"
)

// Info is the contract between zdmrd and any local client.
type Info struct {
	Addr  string `json:"addr"`
	Token string `json:"token"`
}

func sidecarPath(dbPath string) string { return dbPath + ".runtime.json" }

// Write persists addr/token for dbPath's daemon instance.
func Write(dbPath, addr, token string) error {
	data, err := json.Marshal(Info{Addr: addr, Token: token})
	if err != nil {
		return err
	}
	return os.WriteFile(sidecarPath(dbPath), data, 0o600)
}

// Read loads the sidecar file written by a running daemon for dbPath.
func Read(dbPath string) (*Info, error) {
	data, err := os.ReadFile(sidecarPath(dbPath))
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Remove deletes the sidecar file, called by zdmrd on clean shutdown.
func Remove(dbPath string) error {
	err := os.Remove(sidecarPath(dbPath))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

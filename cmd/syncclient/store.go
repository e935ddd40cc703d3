package main

import (
	"crypto/cipher"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/atinyakov/syncmanager/internal/config"
	"github.com/atinyakov/syncmanager/internal/db"
	"github.com/atinyakov/syncmanager/internal/manager"
	"github.com/atinyakov/syncmanager/internal/userstore"
)

// openUserStore builds the store selected by options. The returned func
// releases its resources.
func openUserStore(options *config.Options, logger *zap.Logger) (manager.UserStore, func(), error) {
	noop := func() {}

	switch options.UserStore {
	case config.StoreMemory:
		return userstore.NewMemory(), noop, nil

	case config.StoreFile:
		var aead cipher.AEAD
		if options.CertFile != "" {
			certPEM, err := os.ReadFile(options.CertFile)
			if err != nil {
				return nil, noop, fmt.Errorf("read client certificate: %w", err)
			}
			aead, err = userstore.NewAEADFromKey(certPEM)
			if err != nil {
				return nil, noop, err
			}
		} else {
			logger.Warn("file user store keeps refresh tokens unsealed; pass -cert to seal them")
		}
		s, err := userstore.NewFile(options.StorePath, aead)
		if err != nil {
			return nil, noop, err
		}
		return s, noop, nil

	case config.StorePostgres:
		conn, err := db.InitPostgres(options.DatabaseDSN)
		if err != nil {
			return nil, noop, err
		}
		return userstore.NewPostgres(conn), func() { _ = conn.Close() }, nil

	case config.StoreKeyring:
		return userstore.NewKeyring(options.KeyringService), noop, nil
	}
	return nil, noop, fmt.Errorf("unknown user store %q", options.UserStore)
}

// Package whatsapp connects tenants to the network through whatsmeow. Each
// tenant keeps its device credentials in its own sqlite file.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/chatbridge/pkg/config"
	"github.com/chatbridge/pkg/domains/session"
	"github.com/chatbridge/pkg/errs"
	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	_ "modernc.org/sqlite"
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]`)

type Provider struct {
	dir string
	log zerolog.Logger
}

func NewProvider(cfg config.WhatsApp, log zerolog.Logger) (*Provider, error) {
	if err := os.MkdirAll(cfg.CredentialsDir, 0o700); err != nil {
		return nil, fmt.Errorf("credentials dir: %w", err)
	}
	return &Provider{
		dir: cfg.CredentialsDir,
		log: log.With().Str("component", "whatsmeow").Logger(),
	}, nil
}

// CredentialPath is the sqlite file holding the tenant's device keys.
func (p *Provider) CredentialPath(tenantID string) string {
	return filepath.Join(p.dir, unsafeName.ReplaceAllString(tenantID, "_")+".db")
}

// Purge deletes the credential snapshot so the next connect pairs again.
func (p *Provider) Purge(_ context.Context, tenantID string) error {
	base := p.CredentialPath(tenantID)
	var errList []error
	for _, path := range []string{base, base + "-wal", base + "-shm", base + "-journal"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errList = append(errList, err)
		}
	}
	return errors.Join(errList...)
}

// Connect opens the tenant's device store and dials. A device without
// credentials starts QR pairing; codes arrive as PairingCodeIssued events.
func (p *Provider) Connect(ctx context.Context, tenantID string) (session.Connection, error) {
	log := p.log.With().Str("tenant_id", tenantID).Logger()
	waLogger := waLog.Zerolog(log)

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", p.CredentialPath(tenantID))
	container, err := sqlstore.New(ctx, "sqlite", dsn, waLogger)
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		_ = container.Close()
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(device, waLogger)
	// reconnects are scheduled by the session manager
	client.EnableAutoReconnect = false

	c := newConn(client, container, log)
	client.AddEventHandler(c.handle)

	if client.Store.ID == nil {
		qr, err := client.GetQRChannel(ctx)
		if err != nil {
			c.release()
			return nil, fmt.Errorf("qr channel: %w", err)
		}
		go c.pumpQR(qr)
	}

	if err := client.Connect(); err != nil {
		c.release()
		if errors.Is(err, whatsmeow.ErrNotLoggedIn) {
			return nil, fmt.Errorf("connect: %w: %w", errs.ErrPermanentAuth, err)
		}
		return nil, fmt.Errorf("connect: %w", err)
	}
	return c, nil
}

var _ session.ConnectionProvider = (*Provider)(nil)

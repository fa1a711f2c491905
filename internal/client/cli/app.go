// Package cli is the interactive HideMail client: a small REPL that signs
// in to the account, walks the two-factor flow when required, and exposes
// the alias-management commands.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dmitrijs2005/hidemail/internal/client/config"
	"github.com/dmitrijs2005/hidemail/internal/hidemyemail"
	"github.com/dmitrijs2005/hidemail/internal/icloud"
	"github.com/dmitrijs2005/hidemail/internal/icloud/store"
	"github.com/dmitrijs2005/hidemail/internal/logging"
)

type App struct {
	config  *config.Config
	st      store.Store
	session *icloud.Session
	aliases *hidemyemail.Client
	reader  *bufio.Reader
	out     io.Writer
	log     logging.Logger
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	var st store.Store
	var err error

	switch c.Storage {
	case "sqlite":
		st, err = store.OpenSQLite(ctx, filepath.Join(c.StateDir, "sessions.db"))
	default:
		st, err = store.NewFileStore(c.StateDir)
	}
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	return &App{
		config: c,
		st:     st,
		reader: bufio.NewReader(os.Stdin),
		out:    os.Stdout,
		log:    logging.NewTextLogger(os.Stderr, slog.LevelWarn),
	}, nil
}

func (a *App) Run(ctx context.Context) {
	defer a.st.Close()
	a.Root(ctx)
}

func (a *App) isLoggedIn() bool {
	return a.session != nil && a.session.State().Authenticated()
}

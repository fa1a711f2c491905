package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dmitrijs2005/hidemail/internal/icloud"
)

// reportServiceError prints alias-command failures, calling out the
// recoverable expired-session case explicitly.
func reportServiceError(err error) {
	if errors.Is(err, icloud.ErrSessionExpired) {
		log.Printf("Your session has expired, please run 'login' again")
		return
	}
	log.Printf("error: %v", err)
}

func (a *App) list(ctx context.Context) {
	aliases, err := a.aliases.ListAddresses(ctx)
	if err != nil {
		reportServiceError(err)
		return
	}
	if len(aliases) == 0 {
		fmt.Fprintln(a.out, "No aliases yet, use 'add' to create one")
		return
	}
	for _, al := range aliases {
		status := "active"
		if !al.IsActive {
			status = "inactive"
		}
		created := time.UnixMilli(al.CreateTimestamp).Format("2006-01-02")
		fmt.Fprintf(a.out, "%-35s %-9s %-12s %s\n", al.Hme, status, created, al.Label)
	}
}

func (a *App) add(ctx context.Context) {
	address, err := a.aliases.Generate(ctx)
	if err != nil {
		reportServiceError(err)
		return
	}
	fmt.Fprintf(a.out, "Generated address: %s\n", address)

	label, err := GetSimpleText(a.reader, "Label for the new alias", a.out)
	if err != nil {
		log.Printf("error: %v", err)
		return
	}
	note, err := GetSimpleText(a.reader, "Note (optional)", a.out)
	if err != nil {
		log.Printf("error: %v", err)
		return
	}

	alias, err := a.aliases.Reserve(ctx, address, label, note)
	if err != nil {
		reportServiceError(err)
		return
	}
	fmt.Fprintf(a.out, "Reserved %s (%s)\n", alias.Hme, alias.Label)
}

func (a *App) label(ctx context.Context, args []string) {
	if len(args) < 1 {
		log.Printf("usage: label <anonymous-id>")
		return
	}
	label, err := GetSimpleText(a.reader, "New label", a.out)
	if err != nil {
		log.Printf("error: %v", err)
		return
	}
	note, err := GetSimpleText(a.reader, "New note (optional)", a.out)
	if err != nil {
		log.Printf("error: %v", err)
		return
	}
	if err := a.aliases.UpdateMetadata(ctx, args[0], label, note); err != nil {
		reportServiceError(err)
		return
	}
	log.Printf("Updated")
}

func (a *App) deactivate(ctx context.Context, args []string) {
	if len(args) < 1 {
		log.Printf("usage: deactivate <anonymous-id>")
		return
	}
	if err := a.aliases.Deactivate(ctx, args[0]); err != nil {
		reportServiceError(err)
		return
	}
	log.Printf("Deactivated")
}

func (a *App) reactivate(ctx context.Context, args []string) {
	if len(args) < 1 {
		log.Printf("usage: reactivate <anonymous-id>")
		return
	}
	if err := a.aliases.Reactivate(ctx, args[0]); err != nil {
		reportServiceError(err)
		return
	}
	log.Printf("Reactivated")
}

func (a *App) delete(ctx context.Context, args []string) {
	if len(args) < 1 {
		log.Printf("usage: delete <anonymous-id>")
		return
	}
	if err := a.aliases.Delete(ctx, args[0]); err != nil {
		reportServiceError(err)
		return
	}
	log.Printf("Deleted")
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/dmitrijs2005/hidemail/internal/hidemyemail"
	"github.com/dmitrijs2005/hidemail/internal/icloud"
	"github.com/dmitrijs2005/hidemail/internal/shared"
)

func (a *App) Login(ctx context.Context) {
	account, err := GetSimpleText(a.reader, "Enter Apple ID (email)", a.out)
	if err != nil {
		log.Printf("error: %v", err)
		return
	}
	if account == "" {
		log.Printf("An account is required")
		return
	}

	session, err := icloud.New(ctx, account, a.st,
		icloud.WithEndpoints(icloud.EndpointsForRegion(a.config.Region)),
		icloud.WithLogger(a.log),
		icloud.WithTimeout(a.config.RequestTimeout),
	)
	if err != nil {
		log.Printf("error: %v", err)
		return
	}
	a.session = session

	// Silent path first: a stored session token may still be valid.
	err = session.Authenticate(ctx, "")
	var loginErr *icloud.LoginError
	if errors.As(err, &loginErr) {
		password, perr := GetPassword(a.out)
		if perr != nil {
			log.Printf("error: %v", perr)
			return
		}
		err = session.Authenticate(ctx, string(password))
		shared.WipeByteArray(password)
	}
	if err != nil {
		log.Printf("Login unsuccessful: %s", err.Error())
		return
	}

	if session.RequiresTwoFactor() {
		if !a.twoFactorFlow(ctx) {
			return
		}
	}

	aliases, err := hidemyemail.New(session, a.log)
	if err != nil {
		log.Printf("Hide My Email is not available: %s", err.Error())
		return
	}
	a.aliases = aliases
	log.Printf("Login successful")
}

func (a *App) twoFactorFlow(ctx context.Context) bool {
	digits, err := a.session.SendVerificationCode(ctx)
	if err != nil {
		log.Printf("Could not request a verification code: %s", err.Error())
		return false
	}
	if digits != "" {
		fmt.Fprintf(a.out, "A code was sent by SMS to the phone ending in %s\n", digits)
	} else {
		fmt.Fprintln(a.out, "A code was sent to your trusted devices")
	}

	code, err := GetSimpleText(a.reader, "Enter the 6-digit verification code", a.out)
	if err != nil {
		log.Printf("error: %v", err)
		return false
	}
	if err := a.session.ValidateCode(ctx, code); err != nil {
		log.Printf("Verification failed: %s", err.Error())
		return false
	}
	return true
}

func (a *App) Logout(ctx context.Context) {
	if a.session == nil {
		log.Printf("Not logged in")
		return
	}
	if err := a.session.SignOut(ctx); err != nil {
		log.Printf("Logout failed: %s", err.Error())
		return
	}
	a.aliases = nil
	log.Printf("Logged out")
}

func (a *App) Purge(ctx context.Context) {
	if a.session == nil {
		log.Printf("Not logged in")
		return
	}
	if err := a.session.Purge(ctx); err != nil {
		log.Printf("Purge failed: %s", err.Error())
		return
	}
	a.aliases = nil
	log.Printf("Stored session data removed")
}

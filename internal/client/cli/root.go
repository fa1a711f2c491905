package cli

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
)

func (a *App) getStatus() string {
	if a.session == nil {
		return ""
	}
	return fmt.Sprintf("(%s %s)", a.session.Account(), a.session.State())
}

func (a *App) Root(ctx context.Context) {
	log.Println("Welcome to HideMail CLI (type 'help' for commands)")
	scanner := bufio.NewScanner(os.Stdin)

	a.Login(ctx)

	for {
		fmt.Printf("hm %s> ", a.getStatus())
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}

		cmd := parts[0]
		args := parts[1:]

		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Println("Available commands: (l)ist, add, label, deactivate, reactivate, delete, logout, purge, exit")
			} else {
				fmt.Println("Available commands: login, exit")
			}

		case "login":
			a.Login(ctx)
		case "logout":
			a.Logout(ctx)
		case "purge":
			a.Purge(ctx)
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			if !a.isLoggedIn() || a.aliases == nil {
				log.Printf("Please log in first")
				continue
			}
			switch cmd {
			case "list", "l":
				a.list(ctx)
			case "add":
				a.add(ctx)
			case "label":
				a.label(ctx, args)
			case "deactivate":
				a.deactivate(ctx, args)
			case "reactivate":
				a.reactivate(ctx, args)
			case "delete":
				a.delete(ctx, args)
			default:
				log.Printf("Unknown command %q, type 'help'", cmd)
			}
		}
	}
}

package main

import (
	"bufio"
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"github.com/kcstream/kcchat/internal/chat"
)

// startConsole reads command lines from stdin when it is a terminal and
// dispatches them as authorless ADMIN requests. Replies print to
// stdout. Headless deployments get no console.
func startConsole(ctx context.Context, srv *chat.Server) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return
	}

	log.Info().Msg("Admin console ready, type 'help' for commands")

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())

			// Accept the chat spelling too.
			line = strings.TrimPrefix(strings.TrimPrefix(line, "!"), "/")
			if line == "" {
				continue
			}

			select {
			case <-ctx.Done():
				return
			default:
			}

			srv.Console(line)
		}
	}()
}

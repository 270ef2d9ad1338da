// Command seed writes a demo classroom session and squad battle and prints
// their codes and tokens, for trying the API by hand.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"multiplymonsters/internal/app"
	"multiplymonsters/internal/config"
	"multiplymonsters/internal/model"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	config.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer a.Close(ctx)

	code, err := a.Sessions.CreateSession(ctx, "Ms Park", model.GameModeTimed, cfg.Game.SessionTimeLimit)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create session")
	}
	printToken(a, model.CollectionSessions, code, "Ms Park", model.RoleTeacher)
	for i, name := range []string{"Ana", "Ben", "Cy"} {
		if _, err := a.Sessions.JoinSession(ctx, code, name); err != nil {
			log.Fatal().Err(err).Str("name", name).Msg("failed to join session")
		}
		if _, err := a.Sessions.UpdateStudentScore(ctx, code, name, model.Score{Correct: i * 2, Total: i*2 + 1}, i); err != nil {
			log.Fatal().Err(err).Str("name", name).Msg("failed to score")
		}
		printToken(a, model.CollectionSessions, code, name, model.RoleStudent)
	}

	squad, err := a.Squads.CreateSquadBattle(ctx, "Alex", model.BattleSurvival)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create squad battle")
	}
	printToken(a, model.CollectionSquadBattles, squad, "Alex", model.RoleHost)
	if _, err := a.Squads.JoinSquadBattle(ctx, squad, "Sam"); err != nil {
		log.Fatal().Err(err).Msg("failed to join squad battle")
	}
	printToken(a, model.CollectionSquadBattles, squad, "Sam", model.RolePlayer)

	fmt.Println("Done.")
}

func printToken(a *app.App, collection, code, name string, role model.Role) {
	resp, err := a.Auth.IssueToken(collection, code, name, role)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to issue token")
	}
	fmt.Printf("%-12s %s %-8s %-7s %s\n", collection, code, name, role, resp.Token)
}

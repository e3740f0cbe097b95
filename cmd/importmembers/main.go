// Command importmembers loads the membership roster from a CSV file.
//
//	importmembers -file roster.csv [-dry-run] [-update]
//
// The CSV needs MEMBER_NUMBER, NAME and COLLECTOR columns; EMAIL, PHONE,
// ADDRESS, TOWN, POSTCODE, STATUS and TYPE are optional.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"welfare/internal/adapters/storage"
	memberStore "welfare/internal/adapters/storage/member"
	"welfare/internal/application/orchestrators"
	"welfare/internal/config"
	"welfare/internal/logger"
)

func main() {
	file := flag.String("file", "", "roster CSV to import")
	dryRun := flag.Bool("dry-run", false, "report what would change without writing")
	update := flag.Bool("update", false, "overwrite members that already exist")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.Setup(false)
		log.Fatal().Err(err).Msg("config_invalid")
	}
	logger.Setup(cfg.IsDev)

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *file, *dryRun, *update); err != nil {
		log.Fatal().Err(err).Msg("members_import_failed")
	}
}

func run(ctx context.Context, cfg config.Config, path string, dryRun, update bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	db, dialect, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := storage.MigrateDB(ctx, db, dialect); err != nil {
		return err
	}

	result, err := orchestrators.ExecuteImportMembers(ctx, orchestrators.ImportMembersInput{
		Reader:     f,
		DryRun:     dryRun,
		UpdateMode: update,
	}, orchestrators.ImportMembersDeps{
		MemberStore: memberStore.NewSQLStore(db, dialect),
		GenerateID:  uuid.NewString,
	})
	if err != nil {
		return err
	}

	fmt.Printf("rows %d: created %d, updated %d, skipped %d, rejected %d\n",
		result.Total, result.Created, result.Updated, result.Skipped, len(result.Errors))
	for _, e := range result.Errors {
		fmt.Printf("  row %d: %s\n", e.Row, e.Message)
	}
	if len(result.Unknown) > 0 {
		fmt.Printf("ignored columns: %v\n", result.Unknown)
	}
	if dryRun {
		fmt.Println("dry run: nothing was written")
	}
	return nil
}

package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/sunqar-kz/qoldau/internal/config"
	"github.com/sunqar-kz/qoldau/internal/store"
)

// openStore opens the configured SQLite database for offline commands.
func openStore() (*store.DB, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, err
	}
	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(paths.Data, "qoldau.db")
	}
	return store.Open(dbPath, log)
}

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and maintain support sessions",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsSearchCmd())
	cmd.AddCommand(newSessionsExpireCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			sessions, err := store.NewSQLiteSessionStore(db).ListActive()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no live sessions")
				return nil
			}
			for _, sess := range sessions {
				fmt.Printf("%-20s %-15s last active %s\n",
					sess.UserID, sess.State, sess.LastActive.Format(time.DateTime))
			}
			return nil
		},
	}
}

func newSessionsSearchCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over archived transcripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			hits, err := store.NewArchiveStore(db).Search(args[0], limit)
			if err != nil {
				return err
			}
			if len(hits) == 0 {
				fmt.Println("no matches")
				return nil
			}
			for _, hit := range hits {
				fmt.Printf("%s  %-20s %s\n",
					hit.ArchivedAt.Format("2006-01-02"), hit.UserID, hit.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of hits")
	return cmd
}

func newSessionsExpireCmd() *cobra.Command {
	var idle time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Archive sessions idle for longer than the threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openStore()
			if err != nil {
				return err
			}
			defer db.Close()

			n, err := store.NewSQLiteSessionStore(db).ExpireIdle(idle)
			if err != nil {
				return err
			}
			fmt.Printf("archived %d idle session(s)\n", n)
			return nil
		},
	}

	cmd.Flags().DurationVar(&idle, "idle", 30*time.Minute, "idle threshold")
	return cmd
}

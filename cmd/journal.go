package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/userop-relay/storage"
)

var (
	journalLimit int
	backupDir    string
	restoreFile  string
	pruneKeep    int

	journalCmd = &cobra.Command{
		Use:   "journal",
		Short: "List the newest submission attempts for the wallet",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRelay(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			entries, err := r.Journal(journalLimit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no attempts recorded")
				return nil
			}
			for _, e := range entries {
				printResult(cmd, e)
			}
			return nil
		},
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Backup the journal database",
		Long: `Backup the journal database to a directory.

Backups are stored in the format: /backup_dir/yy-mm-dd-hh-mm/journal.backup`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			path, err := performBackup(cmd.Context(), c.DbPath, backupDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup completed successfully to %s\n", path)
			return nil
		},
	}

	restoreCmd = &cobra.Command{
		Use:   "restore",
		Short: "Restore the journal database from a backup file",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if err := performRestore(cmd.Context(), c.DbPath, restoreFile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restore completed successfully\n")
			return nil
		},
	}

	pruneCmd = &cobra.Command{
		Use:   "prune",
		Short: "Drop old journal entries of the wallet",
		Long: `Drop all but the newest --keep journal entries of the wallet and
reclaim their space. Status totals are not affected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := openRelay(cmd.Context())
			if err != nil {
				return err
			}
			defer r.Close()

			removed, err := r.PruneJournal(cmd.Context(), pruneKeep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
			return nil
		},
	}
)

func performBackup(ctx context.Context, dbPath, dir string) (string, error) {
	backupPath := filepath.Join(dir, time.Now().Format("06-01-02-15-04"))
	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	db, err := storage.NewWithPath(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	backupFile := filepath.Join(backupPath, "journal.backup")
	f, err := os.Create(backupFile)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	if _, err := db.Backup(ctx, f, 0); err != nil {
		return "", fmt.Errorf("backup operation failed: %w", err)
	}
	return backupFile, nil
}

func performRestore(ctx context.Context, dbPath, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return fmt.Errorf("failed to create DB directory: %w", err)
	}
	db, err := storage.NewWithPath(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Load(ctx, f); err != nil {
		return fmt.Errorf("restore operation failed: %w", err)
	}
	return nil
}

func init() {
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "Number of entries to show, 0 for all")

	backupCmd.Flags().StringVar(&backupDir, "dir", "./backup", "Directory to store backups")
	journalCmd.AddCommand(backupCmd)

	restoreCmd.Flags().StringVar(&restoreFile, "file", "", "Backup file to restore from (required)")
	restoreCmd.MarkFlagRequired("file")
	journalCmd.AddCommand(restoreCmd)

	pruneCmd.Flags().IntVar(&pruneKeep, "keep", 100, "Number of newest entries to keep")
	journalCmd.AddCommand(pruneCmd)

	rootCmd.AddCommand(journalCmd)
}

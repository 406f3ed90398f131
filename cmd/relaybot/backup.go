package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"relaybot/internal/config"
)

// Archive entry names. The config keeps its extension and the relay log its
// SQLite sidecar suffixes.
const (
	archiveConfig   = "config"
	archiveRelayLog = "relaylog.db"
)

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the config file and the SQLite relay log",
		Long: `Creates a compressed .tar.gz archive containing the configuration file and,
when the relay log uses SQLite, its database. The backup is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}

			if outputPath == "" {
				dir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(dir, fmt.Sprintf("relaybot-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}

			entries := backupEntries(cfgPath, cfg)
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (config: %s)", cfgPath)
			}
			if err := createTarGz(outputPath, entries); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			for name, path := range entries {
				size := uint64(0)
				if info, err := os.Stat(path); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", name, humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: ~/.relaybot/backups/relaybot-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore the config file and relay log from a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("%s exists, restore aborted (use --force to overwrite)", cfgPath)
			}

			// The relay log target comes from the archived config, read after extraction.
			restored, err := extractTarGz(args[0], func(name string) (string, bool) {
				return cfgPath, strings.HasPrefix(name, archiveConfig)
			})
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("restored config is invalid: %w", err)
			}
			if cfg.RelayLog.Driver == "sqlite" {
				more, err := extractTarGz(args[0], func(name string) (string, bool) {
					suffix, ok := strings.CutPrefix(name, archiveRelayLog)
					return cfg.RelayLog.DSN + suffix, ok
				})
				if err != nil {
					return fmt.Errorf("restore relay log: %w", err)
				}
				restored = append(restored, more...)
			}

			fmt.Printf("Restored from %s:\n", args[0])
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")
	return cmd
}

// backupEntries maps archive names to the files that exist on disk.
func backupEntries(cfgPath string, cfg *config.Config) map[string]string {
	entries := make(map[string]string)
	if _, err := os.Stat(cfgPath); err == nil {
		entries[archiveConfig+filepath.Ext(cfgPath)] = cfgPath
	}
	if cfg.RelayLog.Driver == "sqlite" {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if _, err := os.Stat(cfg.RelayLog.DSN + suffix); err == nil {
				entries[archiveRelayLog+suffix] = cfg.RelayLog.DSN + suffix
			}
		}
	}
	return entries
}

func createTarGz(outputPath string, entries map[string]string) error {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer outFile.Close()

	gz := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gz)
	for name, path := range entries {
		if err := addFileToTar(tw, name, path); err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return outFile.Close()
}

func addFileToTar(tw *tar.Writer, name, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes each archive entry that target maps to a path.
func extractTarGz(archivePath string, target func(name string) (string, bool)) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var restored []string
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		path, ok := target(header.Name)
		if !ok {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
		out, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", path, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("extract %s: %w", path, err)
		}
		if err := out.Close(); err != nil {
			return nil, err
		}
		restored = append(restored, path)
	}
	return restored, nil
}

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nvandessel/seekwalk/internal/archive"
	"github.com/nvandessel/seekwalk/internal/config"
	"github.com/nvandessel/seekwalk/internal/pathutil"
)

// defaultKeepArchives is the count retention applied after each export.
const defaultKeepArchives = 10

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [batch-id]",
		Short: "Export a recorded batch to an archive file",
		Long: `Export a batch with all of its runs to a portable archive.

Default location: ~/.seekwalk/archives/seekwalk-YYYYMMDD-HHMMSS-<id>.swk.gz
Explicit paths must be under ~/.seekwalk or the current directory.
After a default-location export only the newest archives are kept.

Examples:
  seekwalk export                           # Newest batch, default location
  seekwalk export 1a2b --output sweep.swk.gz
  seekwalk export 1a2b --no-compress        # Indented JSON
  seekwalk export list                      # Archives on disk
  seekwalk export verify sweep.swk.gz       # Check the payload checksum`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			outputPath, _ := cmd.Flags().GetString("output")
			noCompress, _ := cmd.Flags().GetBool("no-compress")
			keep, _ := cmd.Flags().GetInt("keep")
			compressed := !noCompress

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer hs.Close()

			id := ""
			if len(args) == 1 {
				id = args[0]
			}
			b, err := loadBatch(cmd.Context(), hs, id)
			if err != nil {
				return err
			}

			home := config.HomeDir()
			dir := archive.DefaultDir(home)
			defaultLocation := outputPath == ""
			if defaultLocation {
				outputPath = archive.GeneratePath(dir, b.ID, time.Now())
				if !compressed {
					outputPath = strings.TrimSuffix(outputPath, archive.Extension) + ".json"
				}
			} else {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("failed to determine working directory: %w", err)
				}
				if err := pathutil.ValidateOutput(outputPath, pathutil.OutputDirs(home, cwd), archive.Extension, ".json"); err != nil {
					return fmt.Errorf("archive path rejected: %w", err)
				}
			}

			if _, err := archive.Export(cmd.Context(), hs, b.ID, outputPath, compressed); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}

			var pruned []string
			if defaultLocation && keep > 0 {
				pruned, err = archive.ApplyRetention(dir, &archive.CountPolicy{MaxCount: keep})
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "warning: retention failed: %v\n", err)
				}
			}

			size := int64(0)
			if info, err := os.Stat(outputPath); err == nil {
				size = info.Size()
			}
			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"status":     "exported",
					"batch_id":   b.ID,
					"path":       outputPath,
					"runs":       len(b.Runs),
					"size_bytes": size,
					"compressed": compressed,
					"pruned":     len(pruned),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d runs of batch %s to %s (%s)\n",
				len(b.Runs), shortID(b.ID), pathutil.RedactPath(outputPath), humanize.Bytes(uint64(size)))
			if len(pruned) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d old archive(s)\n", len(pruned))
			}
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "", "Archive path (default: generated under ~/.seekwalk/archives)")
	cmd.Flags().Bool("no-compress", false, "Write indented JSON instead of a compressed archive")
	cmd.Flags().Int("keep", defaultKeepArchives, "Archives kept in the default directory (0 keeps all)")

	cmd.AddCommand(newExportListCmd(), newExportVerifyCmd())
	return cmd
}

func newExportListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List archives in ~/.seekwalk/archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			archives, err := archive.List(archive.DefaultDir(config.HomeDir()))
			if err != nil {
				return fmt.Errorf("failed to list archives: %w", err)
			}

			if jsonOut {
				if archives == nil {
					archives = []archive.Info{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"archives": archives, "count": len(archives)})
			}
			if len(archives) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No archives yet. Run 'seekwalk export' to create one.")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "FILE\tCREATED\tSIZE\tFORMAT")
			for _, a := range archives {
				format := "compressed"
				if a.Version == archive.FormatPlain {
					format = "plain"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", filepath.Base(a.Path), humanize.Time(a.CreatedAt), humanize.Bytes(uint64(a.Size)), format)
			}
			return tw.Flush()
		},
	}
}

func newExportVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Verify the checksum of a compressed archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			path := args[0]

			version, err := archive.DetectFormat(path)
			if err != nil {
				return fmt.Errorf("failed to read archive: %w", err)
			}
			if version == archive.FormatCompressed {
				if err := archive.VerifyChecksum(path); err != nil {
					return fmt.Errorf("verification failed: %w", err)
				}
			} else if _, err := archive.Read(path); err != nil {
				return fmt.Errorf("verification failed: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{"status": "ok", "path": path, "version": version})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archive %s is intact\n", filepath.Base(path))
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import an archive into the batch history",
		Long: `Import an archive written by 'seekwalk export'. The batch is stored under
a new ID, so the same archive can be imported more than once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			hs, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer hs.Close()

			b, err := archive.Import(cmd.Context(), hs, args[0])
			if err != nil {
				return fmt.Errorf("import failed: %w", err)
			}

			if jsonOut {
				return printJSON(cmd.OutOrStdout(), map[string]any{"status": "imported", "batch_id": b.ID, "runs": len(b.Runs)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d runs as batch %s\n", len(b.Runs), shortID(b.ID))
			return nil
		},
	}
}

func newPruneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old archives from ~/.seekwalk/archives",
		Long: `Apply a retention policy to the archive directory. Exactly one of
--keep, --older-than or --max-size is required.

Examples:
  seekwalk prune --keep 5
  seekwalk prune --older-than 30d
  seekwalk prune --max-size 500MB`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			policy, err := retentionPolicy(cmd)
			if err != nil {
				return err
			}
			deleted, err := archive.ApplyRetention(archive.DefaultDir(config.HomeDir()), policy)
			if err != nil {
				return fmt.Errorf("prune failed: %w", err)
			}

			if jsonOut {
				if deleted == nil {
					deleted = []string{}
				}
				return printJSON(cmd.OutOrStdout(), map[string]any{"deleted": deleted, "count": len(deleted)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d archive(s)\n", len(deleted))
			return nil
		},
	}
	cmd.Flags().Int("keep", 0, "Keep the N newest archives")
	cmd.Flags().String("older-than", "", "Delete archives older than this (e.g. 72h, 30d, 2w)")
	cmd.Flags().String("max-size", "", "Keep the newest archives up to this total size (e.g. 500MB)")
	return cmd
}

// retentionPolicy builds the single policy selected by prune's flags.
func retentionPolicy(cmd *cobra.Command) (archive.RetentionPolicy, error) {
	keep, _ := cmd.Flags().GetInt("keep")
	olderThan, _ := cmd.Flags().GetString("older-than")
	maxSize, _ := cmd.Flags().GetString("max-size")

	var policies []archive.RetentionPolicy
	if keep > 0 {
		policies = append(policies, &archive.CountPolicy{MaxCount: keep})
	}
	if olderThan != "" {
		d, err := archive.ParseDuration(olderThan)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &archive.AgePolicy{MaxAge: d})
	}
	if maxSize != "" {
		n, err := archive.ParseSize(maxSize)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &archive.SizePolicy{MaxTotalBytes: n})
	}
	if len(policies) != 1 {
		return nil, fmt.Errorf("exactly one of --keep, --older-than or --max-size is required")
	}
	return policies[0], nil
}
